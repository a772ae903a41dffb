// Package enumerate walks the Gmail messages.list cursor until the full set of
// message ids matching a query has been collected.
package enumerate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joshsymonds/gmailpurge/internal/gmail"
	"github.com/joshsymonds/gmailpurge/internal/rate"
)

// DuplicatePolicy decides what happens when a page repeats an id already seen.
// Gmail does not return duplicates across pages, so this only matters when
// that assumption breaks.
type DuplicatePolicy int

const (
	// DuplicatesDedupe drops repeated ids and logs a warning.
	DuplicatesDedupe DuplicatePolicy = iota
	// DuplicatesTrust appends ids exactly as returned.
	DuplicatesTrust
	// DuplicatesReject fails the enumeration on the first repeat.
	DuplicatesReject
)

var (
	ErrInvalidPageSize = errors.New("page size must be between 1 and 500")
	ErrDuplicateID     = errors.New("duplicate message id across pages")
	ErrUnknownPolicy   = errors.New("unknown duplicate policy")
)

// ParseDuplicatePolicy maps the -duplicates flag value to a policy.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dedupe":
		return DuplicatesDedupe, nil
	case "trust":
		return DuplicatesTrust, nil
	case "reject", "strict":
		return DuplicatesReject, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

func (p DuplicatePolicy) String() string {
	switch p {
	case DuplicatesTrust:
		return "trust"
	case DuplicatesReject:
		return "reject"
	default:
		return "dedupe"
	}
}

// Enumerator lists every message id matching a query.
type Enumerator struct {
	Client     gmail.Client
	Limiter    rate.Limiter
	Logger     *slog.Logger
	PageSize   int
	Duplicates DuplicatePolicy
}

// New validates pageSize and returns an Enumerator.
func New(client gmail.Client, limiter rate.Limiter, logger *slog.Logger, pageSize int) (*Enumerator, error) {
	if pageSize <= 0 || pageSize > gmail.MaxPageSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPageSize, pageSize)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Enumerator{
		Client:   client,
		Limiter:  limiter,
		Logger:   logger,
		PageSize: pageSize,
	}, nil
}

// Enumerate returns the ids matching q in pagination order. Either every page
// is fetched or an error is returned; a partial set is never handed back.
func (e *Enumerator) Enumerate(ctx context.Context, q gmail.Query) ([]gmail.MessageID, error) {
	var (
		all   []gmail.MessageID
		seen  map[gmail.MessageID]struct{}
		token string
		pages int
	)
	cursors := make(map[string]struct{})
	if e.Duplicates != DuplicatesTrust {
		seen = make(map[gmail.MessageID]struct{})
	}
	for {
		if err := rate.WaitFor(ctx, e.Limiter, "rate limit messages"); err != nil {
			return nil, err
		}
		page, err := e.Client.List(ctx, q, token, e.PageSize)
		if err != nil {
			return nil, fmt.Errorf("list messages page %d: %w", pages+1, err)
		}
		pages++

		for _, id := range page.IDs {
			if id == "" {
				return nil, fmt.Errorf("page %d: empty message id: %w", pages, gmail.ErrMalformedResponse)
			}
			if seen != nil {
				if _, dup := seen[id]; dup {
					if e.Duplicates == DuplicatesReject {
						return nil, fmt.Errorf("page %d: %w: %s", pages, ErrDuplicateID, id)
					}
					e.Logger.WarnContext(ctx, "dropping duplicate message id",
						slog.String("id", string(id)), slog.Int("page", pages))
					continue
				}
				seen[id] = struct{}{}
			}
			all = append(all, id)
		}

		if page.NextPageToken == "" {
			break
		}
		if _, again := cursors[page.NextPageToken]; again {
			return nil, fmt.Errorf("page %d repeated cursor %q: %w", pages, page.NextPageToken, gmail.ErrMalformedResponse)
		}
		cursors[page.NextPageToken] = struct{}{}
		token = page.NextPageToken
	}
	e.Logger.DebugContext(ctx, "enumerated messages",
		slog.String("query", q.Raw), slog.Int("pages", pages), slog.Int("count", len(all)))
	return all, nil
}
