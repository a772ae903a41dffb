package rate

import (
	"context"
	"fmt"
	"time"
)

// Limiter gates outbound Gmail requests. Every list, metadata and batchModify
// call waits on the same limiter so a run never exceeds the per-user quota.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket releases a fixed number of tokens per second, bursting up to rps.
type TokenBucket struct {
	ticker   *time.Ticker
	tokens   chan struct{}
	stop     chan struct{}
	stopDone chan struct{}
}

// NewTokenBucket returns a limiter that releases rps tokens per second.
func NewTokenBucket(rps int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	tb := &TokenBucket{
		ticker:   time.NewTicker(time.Second / time.Duration(rps)),
		tokens:   make(chan struct{}, rps),
		stop:     make(chan struct{}),
		stopDone: make(chan struct{}),
	}
	// first request of a run goes out immediately
	tb.tokens <- struct{}{}
	go tb.run()
	return tb
}

func (t *TokenBucket) run() {
	defer close(t.stopDone)
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Wait blocks until a token is available or the context is canceled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop releases the ticker goroutine. Wait must not be called afterwards.
func (t *TokenBucket) Stop() {
	t.ticker.Stop()
	close(t.stop)
	<-t.stopDone
}

// WaitFor waits on l when it is set, labelling a failure with operation.
// A nil limiter never blocks but still honors cancellation.
func WaitFor(ctx context.Context, l Limiter, operation string) error {
	if l == nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", operation, err)
		}
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

var _ Limiter = (*TokenBucket)(nil)
