// Package mutate applies a label transition to a message set in sequential
// batchModify requests.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joshsymonds/gmailpurge/internal/gmail"
	"github.com/joshsymonds/gmailpurge/internal/rate"
)

// ErrInvalidBatchSize is returned for a batch cap outside 1..1000.
var ErrInvalidBatchSize = errors.New("batch size must be between 1 and 1000")

// Report accounts for one Apply call. Processed only counts ids whose batch
// request succeeded.
type Report struct {
	Total     int // ids handed to Apply
	Processed int
	Batches   int // planned batch count
	Completed int // batches that succeeded
}

// Progress is emitted after every successful batch.
type Progress struct {
	Batch     int // 1-indexed
	Batches   int
	Size      int
	Processed int
	Total     int
}

// ProgressFunc observes batch completion. It runs on the mutating goroutine.
type ProgressFunc func(Progress)

// BatchError reports which batch failed and how far the run got before it.
type BatchError struct {
	Batch     int // 1-indexed
	Batches   int
	Size      int
	Processed int
	Total     int
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d of %d (%d ids) failed after %d of %d processed: %v",
		e.Batch, e.Batches, e.Size, e.Processed, e.Total, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Mutator chunks ids into batches of at most BatchSize and applies them in order.
type Mutator struct {
	Client    gmail.Client
	Limiter   rate.Limiter
	Logger    *slog.Logger
	BatchSize int
	Progress  ProgressFunc
}

// New validates batchSize and returns a Mutator.
func New(client gmail.Client, limiter rate.Limiter, logger *slog.Logger, batchSize int) (*Mutator, error) {
	if batchSize <= 0 || batchSize > gmail.MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Mutator{
		Client:    client,
		Limiter:   limiter,
		Logger:    logger,
		BatchSize: batchSize,
	}, nil
}

// Batches splits ids into consecutive chunks of at most size. The chunks share
// the backing array of ids.
func Batches(ids []gmail.MessageID, size int) [][]gmail.MessageID {
	if len(ids) == 0 || size <= 0 {
		return nil
	}
	out := make([][]gmail.MessageID, 0, (len(ids)+size-1)/size)
	for i := 0; i < len(ids); i += size {
		j := min(i+size, len(ids))
		out = append(out, ids[i:j:j])
	}
	return out
}

// Apply issues one BatchModify per chunk, strictly sequentially. A failed
// chunk is not retried and earlier chunks are not rolled back; the returned
// Report reflects what succeeded and the error is a *BatchError. Cancellation
// is only observed between batches.
func (m *Mutator) Apply(ctx context.Context, ids []gmail.MessageID, ops gmail.ModifyOps) (Report, error) {
	batches := Batches(ids, m.BatchSize)
	rep := Report{Total: len(ids), Batches: len(batches)}
	for i, chunk := range batches {
		fail := func(err error) (Report, error) {
			return rep, &BatchError{
				Batch:     i + 1,
				Batches:   len(batches),
				Size:      len(chunk),
				Processed: rep.Processed,
				Total:     rep.Total,
				Err:       err,
			}
		}
		if err := rate.WaitFor(ctx, m.Limiter, "rate limit batch modify"); err != nil {
			return fail(err)
		}
		// an in-flight batch may already be applied server side, so it runs to completion
		if err := m.Client.BatchModify(context.WithoutCancel(ctx), chunk, ops); err != nil {
			m.Logger.ErrorContext(ctx, "batch modify failed",
				slog.Int("batch", i+1), slog.Int("batches", len(batches)),
				slog.Int("processed", rep.Processed), slog.Any("error", err))
			return fail(err)
		}
		rep.Processed += len(chunk)
		rep.Completed++
		m.Logger.InfoContext(ctx, "batch applied",
			slog.Int("batch", i+1), slog.Int("batches", len(batches)), slog.Int("size", len(chunk)))
		if m.Progress != nil {
			m.Progress(Progress{
				Batch:     i + 1,
				Batches:   len(batches),
				Size:      len(chunk),
				Processed: rep.Processed,
				Total:     rep.Total,
			})
		}
	}
	return rep, nil
}
