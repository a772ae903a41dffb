package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/joshsymonds/gmailpurge/internal/gmail"
	"github.com/joshsymonds/gmailpurge/internal/mutate"
	"github.com/joshsymonds/gmailpurge/internal/pipeline"
	"github.com/joshsymonds/gmailpurge/internal/preview"
	"github.com/joshsymonds/gmailpurge/internal/query"
)

const customChoice = "c"

var errNoInput = errors.New("no input")

// terminal is the interactive front end: preset menu, preview and the
// yes/no gate.
type terminal struct {
	in  *bufio.Scanner
	out io.Writer
}

func newTerminal(in io.Reader, out io.Writer) *terminal {
	return &terminal{in: bufio.NewScanner(in), out: out}
}

func (t *terminal) readLine() (string, error) {
	if !t.in.Scan() {
		if err := t.in.Err(); err != nil {
			return "", err
		}
		return "", errNoInput
	}
	return strings.TrimSpace(t.in.Text()), nil
}

// chooseQuery shows the preset menu and returns the selected query.
func (t *terminal) chooseQuery() (gmail.Query, error) {
	_, _ = fmt.Fprintln(t.out, "Choose which emails to move to Trash:")
	for _, p := range query.Presets() {
		_, _ = fmt.Fprintf(t.out, "%s: %s\n", p.Key, p.Description)
	}
	_, _ = fmt.Fprintf(t.out, "%s: Custom Gmail search query\n", customChoice)
	_, _ = fmt.Fprint(t.out, "Enter option: ")
	choice, err := t.readLine()
	if err != nil {
		return gmail.Query{}, err
	}
	if strings.EqualFold(choice, customChoice) {
		_, _ = fmt.Fprint(t.out, "Query: ")
		raw, err := t.readLine()
		if err != nil {
			return gmail.Query{}, err
		}
		if raw == "" {
			return gmail.Query{}, query.ErrEmptyQuery
		}
		return gmail.Query{Raw: raw}, nil
	}
	p, err := query.LookupPreset(choice)
	if err != nil {
		return gmail.Query{}, err
	}
	return p.Query, nil
}

// Confirm prints the preview and accepts only "yes" or "y".
func (t *terminal) Confirm(ctx context.Context, p preview.Preview) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	printPreview(t.out, p)
	_, _ = fmt.Fprintf(t.out, "\nMove %d emails to Trash? (yes/no): ", p.Total)
	answer, err := t.readLine()
	if errors.Is(err, errNoInput) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return isYes(answer), nil
}

// autoConfirm is used with -yes: the preview is still shown.
func autoConfirm(out io.Writer) pipeline.ConfirmFunc {
	return func(ctx context.Context, p preview.Preview) (bool, error) {
		printPreview(out, p)
		return ctx.Err() == nil, nil
	}
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes", "y":
		return true
	default:
		return false
	}
}

func printPreview(out io.Writer, p preview.Preview) {
	if p.Empty() {
		_, _ = fmt.Fprintln(out, "No messages found.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d emails matched the query.", p.Total)
	if p.Total > len(p.Items) {
		_, _ = fmt.Fprintf(out, " Showing the first %d:", len(p.Items))
	}
	_, _ = fmt.Fprintln(out)
	for _, it := range p.Items {
		line := "  - " + preview.Truncate(it.Subject, 70)
		if it.Domain != "" {
			line += " [" + it.Domain + "]"
		}
		_, _ = fmt.Fprintln(out, line)
	}
	if p.Failed > 0 {
		_, _ = fmt.Fprintf(out, "(%d previews unavailable)\n", p.Failed)
	}
}

func progressPrinter(out io.Writer) mutate.ProgressFunc {
	return func(p mutate.Progress) {
		_, _ = fmt.Fprintf(out, "Moved batch %d with %d emails to Trash. (%d/%d)\n",
			p.Batch, p.Size, p.Processed, p.Total)
	}
}

func printSummary(out io.Writer, res pipeline.Result) {
	switch {
	case res.DryRun:
		_, _ = fmt.Fprintf(out, "Dry run: %d emails would be moved to Trash.\n", res.Matched)
	case res.Declined:
		_, _ = fmt.Fprintln(out, "Deletion cancelled.")
	case res.Matched == 0 && res.State == pipeline.StateDone:
		_, _ = fmt.Fprintln(out, "No messages found.")
	case res.Record != nil:
		_, _ = fmt.Fprintf(out, "Moved %d of %d emails to Trash (run %s).\n",
			res.Record.Count, res.Matched, res.RunID)
	}
}
