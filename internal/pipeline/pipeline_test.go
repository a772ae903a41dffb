package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/joshsymonds/gmailpurge/internal/auditlog"
	"github.com/joshsymonds/gmailpurge/internal/gmail"
	"github.com/joshsymonds/gmailpurge/internal/mutate"
	"github.com/joshsymonds/gmailpurge/internal/preview"
)

type fakeClient struct {
	pages      []gmail.ListPage
	listErr    error
	batches    [][]gmail.MessageID
	failBatch  int // 1-indexed, 0 for never
	batchErr   error
	metaErr    error
	metaCalls  int
	listCalls  int
	afterBatch func(n int)
}

func (f *fakeClient) List(ctx context.Context, q gmail.Query, pageToken string, pageSize int) (gmail.ListPage, error) {
	_ = ctx
	_ = q
	_ = pageToken
	_ = pageSize
	f.listCalls++
	if f.listErr != nil {
		return gmail.ListPage{}, f.listErr
	}
	if len(f.pages) == 0 {
		return gmail.ListPage{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeClient) GetMetadata(ctx context.Context, id gmail.MessageID, headers []string) (gmail.MessageMeta, error) {
	_ = ctx
	_ = headers
	f.metaCalls++
	if f.metaErr != nil {
		return gmail.MessageMeta{}, f.metaErr
	}
	return gmail.MessageMeta{ID: id, Headers: map[string]string{"Subject": "subject " + string(id)}}, nil
}

func (f *fakeClient) BatchModify(ctx context.Context, ids []gmail.MessageID, ops gmail.ModifyOps) error {
	_ = ops
	f.batches = append(f.batches, append([]gmail.MessageID(nil), ids...))
	if f.afterBatch != nil {
		f.afterBatch(len(f.batches))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.failBatch == len(f.batches) {
		return f.batchErr
	}
	return nil
}

type memorySink struct {
	records []auditlog.Record
	err     error
	ctxErr  error
}

func (m *memorySink) Append(ctx context.Context, rec auditlog.Record) error {
	m.ctxErr = ctx.Err()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

type fakeAuth struct {
	err   error
	calls int
}

func (f *fakeAuth) Authenticate(ctx context.Context) error {
	_ = ctx
	f.calls++
	return f.err
}

type countingConfirmer struct {
	answer bool
	err    error
	calls  int
	seen   preview.Preview
}

func (c *countingConfirmer) Confirm(ctx context.Context, p preview.Preview) (bool, error) {
	_ = ctx
	c.calls++
	c.seen = p
	return c.answer, c.err
}

func pagesOf(n, pageSize int) []gmail.ListPage {
	var pages []gmail.ListPage
	for start := 0; start < n; start += pageSize {
		end := min(start+pageSize, n)
		page := gmail.ListPage{}
		for i := start; i < end; i++ {
			page.IDs = append(page.IDs, gmail.MessageID(fmt.Sprintf("id-%05d", i)))
		}
		if end < n {
			page.NextPageToken = fmt.Sprintf("cursor-%d", end)
		}
		pages = append(pages, page)
	}
	return pages
}

func newTestOrchestrator(t *testing.T, client gmail.Client, sink auditlog.Sink, auth Authenticator, opts Options) *Orchestrator {
	t.Helper()
	o, err := New(Deps{Client: client, Sink: sink, Credentials: auth, Logger: slogDiscard()}, opts)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	o.Clock = func() time.Time { return time.Date(2024, time.March, 9, 10, 0, 0, 0, time.UTC) }
	o.NewRunID = func() string { return "run-test" }
	return o
}

func TestRunTrashes2500(t *testing.T) {
	client := &fakeClient{pages: pagesOf(2500, 500)}
	sink := &memorySink{}
	auth := &fakeAuth{}
	confirm := &countingConfirmer{answer: true}
	o := newTestOrchestrator(t, client, sink, auth, DefaultOptions())

	res, err := o.Run(context.Background(), gmail.Query{Raw: "category:promotions older_than:1y"}, confirm)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if auth.calls != 1 {
		t.Fatalf("expected one authentication, got %d", auth.calls)
	}
	if client.listCalls != 5 {
		t.Fatalf("expected 5 list pages, got %d", client.listCalls)
	}
	sizes := []int{1000, 1000, 500}
	if len(client.batches) != len(sizes) {
		t.Fatalf("expected %d batches, got %d", len(sizes), len(client.batches))
	}
	for i, b := range client.batches {
		if len(b) != sizes[i] {
			t.Fatalf("batch %d size %d want %d", i, len(b), sizes[i])
		}
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected one record, got %d", len(sink.records))
	}
	rec := sink.records[0]
	if rec.Count != 2500 || rec.Query != "category:promotions older_than:1y" || rec.RunID != "run-test" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Action != auditlog.ActionTrash || rec.Method != auditlog.MethodTrash {
		t.Fatalf("unexpected labels %+v", rec)
	}
	if res.State != StateDone || res.Record == nil || res.Matched != 2500 {
		t.Fatalf("unexpected result %+v", res)
	}
	if confirm.calls != 1 || confirm.seen.Total != 2500 || len(confirm.seen.Items) != 10 {
		t.Fatalf("unexpected preview shown: calls=%d preview=%+v", confirm.calls, confirm.seen)
	}
	wantPath := []State{StateIdle, StateAuthenticating, StateEnumerating, StateAwaitingConfirmation, StateMutating, StateLogging, StateDone}
	if fmt.Sprint(res.Path) != fmt.Sprint(wantPath) {
		t.Fatalf("path %v want %v", res.Path, wantPath)
	}
}

func TestRunPartialFailureLogsProcessed(t *testing.T) {
	sentinel := errors.New("backend 503")
	client := &fakeClient{pages: pagesOf(1500, 500), failBatch: 2, batchErr: sentinel}
	sink := &memorySink{}
	o := newTestOrchestrator(t, client, sink, nil, DefaultOptions())

	res, err := o.Run(context.Background(), gmail.Query{Raw: "category:social older_than:1y"}, &countingConfirmer{answer: true})
	if !errors.Is(err, ErrMutation) || !errors.Is(err, sentinel) {
		t.Fatalf("expected mutation error wrapping sentinel, got %v", err)
	}
	var batchErr *mutate.BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected *mutate.BatchError in chain, got %v", err)
	}
	if batchErr.Batch != 2 || batchErr.Batches != 2 {
		t.Fatalf("expected batch 2 of 2, got %d of %d", batchErr.Batch, batchErr.Batches)
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Stage != StateMutating || runErr.Processed != 1000 || runErr.Matched != 1500 {
		t.Fatalf("unexpected run error %+v", runErr)
	}
	if !strings.Contains(err.Error(), "1000 of 1500 processed") {
		t.Fatalf("error should report progress: %v", err)
	}
	if len(sink.records) != 1 || sink.records[0].Count != 1000 {
		t.Fatalf("expected record with count 1000, got %+v", sink.records)
	}
	if res.Record == nil || res.Report.Processed != 1000 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunFirstBatchFailureSkipsLog(t *testing.T) {
	client := &fakeClient{pages: pagesOf(20, 500), failBatch: 1, batchErr: errors.New("forbidden")}
	sink := &memorySink{}
	o := newTestOrchestrator(t, client, sink, nil, DefaultOptions())

	res, err := o.Run(context.Background(), gmail.Query{Raw: "q"}, &countingConfirmer{answer: true})
	if !errors.Is(err, ErrMutation) {
		t.Fatalf("expected ErrMutation, got %v", err)
	}
	if len(sink.records) != 0 {
		t.Fatalf("expected no record when nothing was processed")
	}
	if res.State != StateAborted {
		t.Fatalf("expected aborted, got %s", res.State)
	}
}

func TestRunZeroMatches(t *testing.T) {
	client := &fakeClient{}
	sink := &memorySink{}
	confirm := &countingConfirmer{answer: true}
	o := newTestOrchestrator(t, client, sink, nil, DefaultOptions())

	res, err := o.Run(context.Background(), gmail.Query{Raw: "from:nobody@example.com"}, confirm)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != StateDone || !res.Preview.Empty() {
		t.Fatalf("unexpected result %+v", res)
	}
	if confirm.calls != 0 {
		t.Fatalf("confirmation must not be reached")
	}
	if len(client.batches) != 0 || len(sink.records) != 0 || client.metaCalls != 0 {
		t.Fatalf("expected no mutation, preview lookups or log")
	}
}

func TestRunDeclineNeverMutates(t *testing.T) {
	for _, confirm := range []Confirmer{nil, &countingConfirmer{answer: false}} {
		client := &fakeClient{pages: pagesOf(3000, 500)}
		sink := &memorySink{}
		o := newTestOrchestrator(t, client, sink, nil, DefaultOptions())

		res, err := o.Run(context.Background(), gmail.Query{Raw: "q"}, confirm)
		if err != nil {
			t.Fatalf("decline should not be an error: %v", err)
		}
		if !res.Declined || res.State != StateAborted {
			t.Fatalf("unexpected result %+v", res)
		}
		if len(client.batches) != 0 || len(sink.records) != 0 {
			t.Fatalf("decline must not mutate or log")
		}
	}
}

func TestRunConfirmerError(t *testing.T) {
	client := &fakeClient{pages: pagesOf(5, 500)}
	sink := &memorySink{}
	o := newTestOrchestrator(t, client, sink, nil, DefaultOptions())

	_, err := o.Run(context.Background(), gmail.Query{Raw: "q"}, &countingConfirmer{err: io.ErrUnexpectedEOF})
	if !errors.Is(err, ErrConfirmation) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected confirmation error, got %v", err)
	}
	if len(client.batches) != 0 {
		t.Fatalf("expected no mutation")
	}
}

func TestRunEnumerationFailure(t *testing.T) {
	sentinel := errors.New("network down")
	client := &fakeClient{listErr: sentinel}
	sink := &memorySink{}
	confirm := &countingConfirmer{answer: true}
	o := newTestOrchestrator(t, client, sink, nil, DefaultOptions())

	res, err := o.Run(context.Background(), gmail.Query{Raw: "category:social"}, confirm)
	if !errors.Is(err, ErrEnumeration) || !errors.Is(err, sentinel) {
		t.Fatalf("expected enumeration error, got %v", err)
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Stage != StateEnumerating || runErr.Query != "category:social" {
		t.Fatalf("unexpected run error %+v", runErr)
	}
	if res.State != StateAborted || confirm.calls != 0 || len(client.batches) != 0 || len(sink.records) != 0 {
		t.Fatalf("enumeration failure must abort before anything else")
	}
}

func TestRunAuthenticationFailure(t *testing.T) {
	client := &fakeClient{pages: pagesOf(5, 500)}
	auth := &fakeAuth{err: fmt.Errorf("refresh token: %w", gmail.ErrAuth)}
	o := newTestOrchestrator(t, client, &memorySink{}, auth, DefaultOptions())

	_, err := o.Run(context.Background(), gmail.Query{Raw: "q"}, &countingConfirmer{answer: true})
	if !errors.Is(err, ErrAuthentication) || !errors.Is(err, gmail.ErrAuth) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if client.listCalls != 0 {
		t.Fatalf("expected no listing after auth failure")
	}
}

func TestRunPreviewFailureIsNotFatal(t *testing.T) {
	client := &fakeClient{pages: pagesOf(12, 500), metaErr: errors.New("404")}
	sink := &memorySink{}
	confirm := &countingConfirmer{answer: true}
	o := newTestOrchestrator(t, client, sink, nil, DefaultOptions())

	res, err := o.Run(context.Background(), gmail.Query{Raw: "q"}, confirm)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if confirm.seen.Failed != 10 {
		t.Fatalf("expected 10 failed preview items, got %d", confirm.seen.Failed)
	}
	if res.Report.Processed != 12 || len(sink.records) != 1 || sink.records[0].Count != 12 {
		t.Fatalf("mutation must use the full set: %+v", res.Report)
	}
}

func TestRunDryRun(t *testing.T) {
	client := &fakeClient{pages: pagesOf(30, 500)}
	opts := DefaultOptions()
	opts.DryRun = true
	confirm := &countingConfirmer{answer: true}
	o := newTestOrchestrator(t, client, nil, nil, opts)

	res, err := o.Run(context.Background(), gmail.Query{Raw: "q"}, confirm)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.DryRun || res.State != StateDone || res.Matched != 30 || len(res.Preview.Items) != 10 {
		t.Fatalf("unexpected result %+v", res)
	}
	if confirm.calls != 0 || len(client.batches) != 0 {
		t.Fatalf("dry-run must not confirm or mutate")
	}
}

func TestRunCancelBetweenBatchesStillLogs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &fakeClient{pages: pagesOf(2500, 500), afterBatch: func(n int) {
		if n == 1 {
			cancel()
		}
	}}
	sink := &memorySink{}
	o := newTestOrchestrator(t, client, sink, nil, DefaultOptions())

	_, err := o.Run(ctx, gmail.Query{Raw: "q"}, &countingConfirmer{answer: true})
	if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrMutation) {
		t.Fatalf("expected canceled mutation, got %v", err)
	}
	if len(client.batches) != 1 {
		t.Fatalf("expected 1 batch before cancel, got %d", len(client.batches))
	}
	if len(sink.records) != 1 || sink.records[0].Count != 1000 {
		t.Fatalf("expected record of 1000, got %+v", sink.records)
	}
	if sink.ctxErr != nil {
		t.Fatalf("sink must receive a live context, got %v", sink.ctxErr)
	}
}

func TestRunCancelDuringOnlyBatchStillLogs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &fakeClient{pages: pagesOf(800, 500), afterBatch: func(n int) { cancel() }}
	sink := &memorySink{}
	o := newTestOrchestrator(t, client, sink, nil, DefaultOptions())

	res, err := o.Run(ctx, gmail.Query{Raw: "q"}, &countingConfirmer{answer: true})
	if err != nil {
		t.Fatalf("cancel after the last batch was sent must not fail the run: %v", err)
	}
	if len(sink.records) != 1 || sink.records[0].Count != 800 || res.State != StateDone {
		t.Fatalf("expected record of 800, got %+v state %s", sink.records, res.State)
	}
}

func TestRunCancelAtConfirmationGate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &fakeClient{pages: pagesOf(5, 500)}
	confirm := ConfirmFunc(func(ctx context.Context, p preview.Preview) (bool, error) {
		_ = p
		cancel()
		return true, nil
	})
	o := newTestOrchestrator(t, client, &memorySink{}, nil, DefaultOptions())

	_, err := o.Run(ctx, gmail.Query{Raw: "q"}, confirm)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if len(client.batches) != 0 {
		t.Fatalf("expected no mutation after cancel")
	}
}

func TestRunAuditLogFailure(t *testing.T) {
	sentinel := errors.New("disk full")
	client := &fakeClient{pages: pagesOf(5, 500)}
	sink := &memorySink{err: sentinel}
	o := newTestOrchestrator(t, client, sink, nil, DefaultOptions())

	res, err := o.Run(context.Background(), gmail.Query{Raw: "q"}, &countingConfirmer{answer: true})
	if !errors.Is(err, ErrAuditLog) || !errors.Is(err, sentinel) {
		t.Fatalf("expected audit log error, got %v", err)
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Stage != StateLogging || runErr.Processed != 5 {
		t.Fatalf("unexpected run error %+v", runErr)
	}
	if res.Record != nil {
		t.Fatalf("record must not be reported when append failed")
	}
}

func TestRunEmptyQuery(t *testing.T) {
	client := &fakeClient{}
	o := newTestOrchestrator(t, client, &memorySink{}, &fakeAuth{}, DefaultOptions())
	_, err := o.Run(context.Background(), gmail.Query{Raw: "  "}, nil)
	if !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if client.listCalls != 0 {
		t.Fatalf("expected no listing for empty query")
	}
}

func TestNewValidatesOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.BatchCap = 1001
	if _, err := New(Deps{Client: &fakeClient{}, Sink: &memorySink{}}, opts); err == nil {
		t.Fatalf("expected batch cap validation error")
	}
	opts = DefaultOptions()
	opts.PageSize = 1000
	if _, err := New(Deps{Client: &fakeClient{}, Sink: &memorySink{}}, opts); err == nil {
		t.Fatalf("expected page size validation error")
	}
	if _, err := New(Deps{Client: &fakeClient{}}, DefaultOptions()); err == nil {
		t.Fatalf("expected missing sink error")
	}
	if _, err := New(Deps{Sink: &memorySink{}}, DefaultOptions()); err == nil {
		t.Fatalf("expected missing client error")
	}
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
