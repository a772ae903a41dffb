// Package pipeline sequences a purge run: authenticate, enumerate, preview,
// confirm, mutate in batches, and append one audit record.
//
// An Orchestrator owns a single Gmail session. Token refresh mutates that
// session, so one Orchestrator must not serve concurrent runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/gmailpurge/internal/auditlog"
	"github.com/joshsymonds/gmailpurge/internal/enumerate"
	"github.com/joshsymonds/gmailpurge/internal/gmail"
	"github.com/joshsymonds/gmailpurge/internal/mutate"
	"github.com/joshsymonds/gmailpurge/internal/preview"
	"github.com/joshsymonds/gmailpurge/internal/rate"
)

// Options configures a run. Start from DefaultOptions.
type Options struct {
	PageSize       int // messages.list page size, 1..500
	BatchCap       int // ids per batchModify, 1..1000
	PreviewLimit   int
	PreviewWorkers int
	Duplicates     enumerate.DuplicatePolicy
	Ops            gmail.ModifyOps
	Action         string
	Method         string
	DryRun         bool // stop after preview
}

// DefaultOptions moves matched mail to Trash in batches of 1000.
func DefaultOptions() Options {
	return Options{
		PageSize:       gmail.MaxPageSize,
		BatchCap:       gmail.MaxBatchSize,
		PreviewLimit:   preview.DefaultLimit,
		PreviewWorkers: 1,
		Duplicates:     enumerate.DuplicatesDedupe,
		Ops:            gmail.TrashOps(),
		Action:         auditlog.ActionTrash,
		Method:         auditlog.MethodTrash,
	}
}

// Authenticator ensures the session holds a valid bearer token, refreshing it
// when expired. Any error is treated as fatal.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// Confirmer is the go/no-go gate shown the preview before anything is mutated.
type Confirmer interface {
	Confirm(ctx context.Context, p preview.Preview) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, p preview.Preview) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, p preview.Preview) (bool, error) {
	return f(ctx, p)
}

// Deps are the collaborators of an Orchestrator. Credentials and Limiter are
// optional; Sink may be nil only for dry runs.
type Deps struct {
	Client      gmail.Client
	Credentials Authenticator
	Sink        auditlog.Sink
	Limiter     rate.Limiter
	Logger      *slog.Logger
	Progress    mutate.ProgressFunc
}

// Result describes how far a run got. It is returned alongside any error.
type Result struct {
	RunID    string
	Query    gmail.Query
	State    State
	Path     []State
	Matched  int
	Preview  preview.Preview
	Report   mutate.Report
	Record   *auditlog.Record
	Declined bool
	DryRun   bool
}

// Orchestrator runs the purge state machine.
type Orchestrator struct {
	Clock    func() time.Time
	NewRunID func() string

	opts        Options
	credentials Authenticator
	sink        auditlog.Sink
	logger      *slog.Logger
	enumerator  *enumerate.Enumerator
	previewer   *preview.Previewer
	mutator     *mutate.Mutator
}

// New wires the stage components from deps and validates opts.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Client == nil {
		return nil, errors.New("pipeline requires a gmail client")
	}
	if deps.Sink == nil && !opts.DryRun {
		return nil, errors.New("pipeline requires an audit sink unless dry-run")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	enum, err := enumerate.New(deps.Client, deps.Limiter, logger, opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("configure enumerator: %w", err)
	}
	enum.Duplicates = opts.Duplicates
	mut, err := mutate.New(deps.Client, deps.Limiter, logger, opts.BatchCap)
	if err != nil {
		return nil, fmt.Errorf("configure mutator: %w", err)
	}
	mut.Progress = deps.Progress
	return &Orchestrator{
		Clock:       time.Now,
		NewRunID:    uuid.NewString,
		opts:        opts,
		credentials: deps.Credentials,
		sink:        deps.Sink,
		logger:      logger,
		enumerator:  enum,
		previewer:   preview.New(deps.Client, deps.Limiter, logger, opts.PreviewLimit, opts.PreviewWorkers),
		mutator:     mut,
	}, nil
}

// Run executes one purge of q. A nil confirm declines. Zero matches end the
// run as done without asking for confirmation. After a partial mutation
// failure the record still carries the true processed count, and the
// returned error wraps ErrMutation together with the *mutate.BatchError.
func (o *Orchestrator) Run(ctx context.Context, q gmail.Query, confirm Confirmer) (Result, error) {
	res := Result{RunID: o.NewRunID(), Query: q, DryRun: o.opts.DryRun}
	logger := o.logger.With(slog.String("run_id", res.RunID))
	step := func(s State) {
		res.State = s
		res.Path = append(res.Path, s)
		logger.DebugContext(ctx, "state", slog.String("state", s.String()))
	}
	abort := func(stage State, err error) (Result, error) {
		step(StateAborted)
		return res, &RunError{
			Stage:     stage,
			Query:     q.Raw,
			Matched:   res.Matched,
			Processed: res.Report.Processed,
			Err:       err,
		}
	}

	step(StateIdle)
	if strings.TrimSpace(q.Raw) == "" {
		return abort(StateIdle, ErrEmptyQuery)
	}

	if o.credentials != nil {
		step(StateAuthenticating)
		if err := o.credentials.Authenticate(ctx); err != nil {
			return abort(StateAuthenticating, fmt.Errorf("%w: %w", ErrAuthentication, err))
		}
	}

	step(StateEnumerating)
	logger.InfoContext(ctx, "enumerating", slog.String("query", q.Raw))
	ids, err := o.enumerator.Enumerate(ctx, q)
	if err != nil {
		return abort(StateEnumerating, fmt.Errorf("%w: %w", ErrEnumeration, err))
	}
	res.Matched = len(ids)
	res.Preview = preview.Preview{Total: len(ids)}
	if len(ids) == 0 {
		logger.InfoContext(ctx, "no messages matched", slog.String("query", q.Raw))
		step(StateDone)
		return res, nil
	}

	step(StateAwaitingConfirmation)
	pv, err := o.previewer.Build(ctx, ids)
	if err != nil {
		return abort(StateAwaitingConfirmation, fmt.Errorf("%w: %w", ErrCanceled, err))
	}
	res.Preview = pv
	logger.InfoContext(ctx, "messages matched",
		slog.Int("count", len(ids)), slog.Int("preview_failed", pv.Failed))
	if o.opts.DryRun {
		logger.InfoContext(ctx, "dry-run", slog.Int("count", len(ids)))
		step(StateDone)
		return res, nil
	}

	ok := false
	if confirm != nil {
		ok, err = confirm.Confirm(ctx, pv)
		if err != nil {
			return abort(StateAwaitingConfirmation, fmt.Errorf("%w: %w", ErrConfirmation, err))
		}
	}
	if !ok {
		logger.InfoContext(ctx, "run declined", slog.Int("count", len(ids)))
		res.Declined = true
		step(StateAborted)
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return abort(StateAwaitingConfirmation, fmt.Errorf("%w: %w", ErrCanceled, err))
	}

	step(StateMutating)
	rep, mutErr := o.mutator.Apply(ctx, ids, o.opts.Ops)
	res.Report = rep
	if mutErr != nil {
		mutErr = fmt.Errorf("%w: %w", ErrMutation, mutErr)
	}
	if rep.Processed == 0 {
		return abort(StateMutating, mutErr)
	}

	step(StateLogging)
	rec := auditlog.Record{
		RunID:     res.RunID,
		Timestamp: o.Clock(),
		Query:     q.Raw,
		Count:     rep.Processed,
		Action:    o.opts.Action,
		Method:    o.opts.Method,
	}
	// a cancel that stopped the batches must not also lose the record
	if err := o.sink.Append(context.WithoutCancel(ctx), rec); err != nil {
		return abort(StateLogging, errors.Join(mutErr, fmt.Errorf("%w: %w", ErrAuditLog, err)))
	}
	res.Record = &rec
	step(StateDone)
	logger.InfoContext(ctx, "run logged",
		slog.Int("processed", rep.Processed), slog.Int("matched", len(ids)))

	if mutErr != nil {
		return res, &RunError{
			Stage:     StateMutating,
			Query:     q.Raw,
			Matched:   res.Matched,
			Processed: rep.Processed,
			Err:       mutErr,
		}
	}
	return res, nil
}
