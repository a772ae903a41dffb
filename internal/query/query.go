// Package query composes Gmail search expressions for purge runs.
package query

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/joshsymonds/gmailpurge/internal/gmail"
)

var (
	ErrEmptyQuery      = errors.New("query must not be empty")
	ErrUnknownPreset   = errors.New("unknown preset")
	ErrInvalidAge      = errors.New("older-than must look like 30d, 6m or 1y")
	ErrInvalidCategory = errors.New("unknown category")
)

var ageRe = regexp.MustCompile(`^[1-9][0-9]*[dmy]$`)

var categories = map[string]struct{}{
	"primary":    {},
	"social":     {},
	"promotions": {},
	"updates":    {},
	"forums":     {},
	"purchases":  {},
}

// Preset is a canned cleanup query selectable by key.
type Preset struct {
	Key         string
	Description string
	Query       gmail.Query
}

var presets = []Preset{
	{Key: "1", Description: "Promotions older than 1 year", Query: gmail.Query{Raw: "category:promotions older_than:1y"}},
	{Key: "2", Description: "Social emails older than 1 year", Query: gmail.Query{Raw: "category:social older_than:1y"}},
	{Key: "3", Description: "Auto-emails from noreply older than 1 year", Query: gmail.Query{Raw: "from:(noreply@*) older_than:1y"}},
}

// Presets returns the canned queries in menu order.
func Presets() []Preset {
	return append([]Preset(nil), presets...)
}

// LookupPreset resolves a menu key.
func LookupPreset(key string) (Preset, error) {
	key = strings.TrimSpace(key)
	for _, p := range presets {
		if p.Key == key {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, key)
}

// Spec describes a query in terms of its filters. Zero fields are omitted.
type Spec struct {
	Category       string
	From           string
	OlderThan      string   // Gmail relative age, e.g. 1y
	Label          string   // restrict to this label
	ExcludeLabels  []string // never match these labels
	ProtectStarred bool     // adds -is:starred -is:important
	Extra          string   // appended verbatim
}

// Build renders spec as a Gmail query. At least one filter must be set so a
// run can never target the entire mailbox by accident.
func Build(spec Spec) (gmail.Query, error) {
	var parts []string
	if spec.Label != "" {
		parts = append(parts, fmt.Sprintf(`label:"%s"`, spec.Label))
	}
	if c := strings.ToLower(strings.TrimSpace(spec.Category)); c != "" {
		if _, ok := categories[c]; !ok {
			return gmail.Query{}, fmt.Errorf("%w: %q", ErrInvalidCategory, spec.Category)
		}
		parts = append(parts, "category:"+c)
	}
	if from := strings.TrimSpace(spec.From); from != "" {
		parts = append(parts, fmt.Sprintf("from:(%s)", from))
	}
	if age := strings.TrimSpace(spec.OlderThan); age != "" {
		if !ageRe.MatchString(age) {
			return gmail.Query{}, fmt.Errorf("%w: got %q", ErrInvalidAge, age)
		}
		parts = append(parts, "older_than:"+age)
	}
	if extra := strings.TrimSpace(spec.Extra); extra != "" {
		parts = append(parts, extra)
	}
	if len(parts) == 0 {
		return gmail.Query{}, ErrEmptyQuery
	}
	if spec.ProtectStarred {
		parts = append(parts, "-is:starred", "-is:important")
	}
	exclude := append([]string(nil), spec.ExcludeLabels...)
	sort.Strings(exclude)
	for _, l := range exclude {
		parts = append(parts, fmt.Sprintf(`-label:"%s"`, l))
	}
	return gmail.Query{Raw: strings.Join(parts, " ")}, nil
}

// SplitList parses a comma separated flag value, dropping blanks.
func SplitList(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
