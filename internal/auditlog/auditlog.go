// Package auditlog keeps an append-only record of completed purge runs.
// Records are never updated or deleted by gmailpurge; Append is the only
// write path.
package auditlog

import (
	"context"
	"errors"
	"time"
)

// TimeLayout is the local timestamp format written to every sink.
const TimeLayout = "2006-01-02 15:04:05"

// Labels written for the trash transition.
const (
	ActionTrash = "Moved to Trash"
	MethodTrash = "Used Gmail API with gmail.modify scope"
)

// Record summarizes one run that mutated at least one message.
// Count is the number of ids whose batch succeeded.
type Record struct {
	RunID     string
	Timestamp time.Time
	Query     string
	Count     int
	Action    string
	Method    string
}

// Sink durably appends records.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// Multi fans a record out to every sink. All sinks are attempted; their
// errors are joined.
type Multi []Sink

func (m Multi) Append(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Sink = Multi(nil)
