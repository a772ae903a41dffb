// Package preview fetches headers-only metadata for the first few matched
// messages so a caller can see what is about to be trashed. Preview is
// advisory: lookup failures become placeholders and never stop a run.
package preview

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joshsymonds/gmailpurge/internal/gmail"
	"github.com/joshsymonds/gmailpurge/internal/rate"
)

const (
	DefaultLimit = 10

	NoSubject   = "(No Subject)"
	Unavailable = "(unavailable)"
)

func defaultHeaders() []string {
	return []string{"Subject", "From", "Date"}
}

// Item is one previewed message. Err is set when the lookup failed, in which
// case Subject holds the Unavailable placeholder.
type Item struct {
	ID      gmail.MessageID
	Subject string
	From    string
	Domain  string
	Date    time.Time
	Err     error
}

// Preview is the bounded view shown before confirmation.
type Preview struct {
	Total  int // size of the full matched set
	Items  []Item
	Failed int
}

// Empty reports whether the query matched nothing.
func (p Preview) Empty() bool { return p.Total == 0 }

// Previewer fetches metadata for up to Limit ids. Workers > 1 fetches in
// parallel; item order always follows id order.
type Previewer struct {
	Client  gmail.Client
	Limiter rate.Limiter
	Logger  *slog.Logger
	Limit   int
	Workers int
}

// New returns a Previewer. A non-positive limit falls back to DefaultLimit and
// a non-positive worker count to sequential lookups.
func New(client gmail.Client, limiter rate.Limiter, logger *slog.Logger, limit, workers int) *Previewer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if workers <= 0 {
		workers = 1
	}
	return &Previewer{
		Client:  client,
		Limiter: limiter,
		Logger:  logger,
		Limit:   limit,
		Workers: workers,
	}
}

// Build previews the first Limit ids. It only returns an error when ctx is
// canceled.
func (p *Previewer) Build(ctx context.Context, ids []gmail.MessageID) (Preview, error) {
	out := Preview{Total: len(ids)}
	n := min(len(ids), p.Limit)
	if n == 0 {
		return out, nil
	}
	items := make([]Item, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)
	for i, id := range ids[:n] {
		i, id := i, id
		g.Go(func() error {
			items[i] = p.fetch(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Preview{}, fmt.Errorf("preview canceled: %w", err)
	}
	for _, it := range items {
		if it.Err != nil {
			out.Failed++
		}
	}
	out.Items = items
	return out, nil
}

func (p *Previewer) fetch(ctx context.Context, id gmail.MessageID) Item {
	item := Item{ID: id}
	if err := rate.WaitFor(ctx, p.Limiter, "rate limit metadata"); err != nil {
		item.Subject, item.Err = Unavailable, err
		return item
	}
	meta, err := p.Client.GetMetadata(ctx, id, defaultHeaders())
	if err != nil {
		p.Logger.WarnContext(ctx, "preview lookup failed",
			slog.String("id", string(id)), slog.Any("error", err))
		item.Subject, item.Err = Unavailable, fmt.Errorf("get metadata %s: %w", id, err)
		return item
	}
	item.Subject = headerValue(meta.Headers, "Subject")
	if item.Subject == "" {
		item.Subject = NoSubject
	}
	item.From = headerValue(meta.Headers, "From")
	item.Domain = domainOf(item.From)
	item.Date = meta.Date
	if item.Date.IsZero() {
		item.Date = parseDate(headerValue(meta.Headers, "Date"))
	}
	return item
}
