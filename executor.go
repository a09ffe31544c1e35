package calllog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/rbaliyan/calllog/retry"
	"github.com/rbaliyan/calllog/store"
)

// outcome is what a storage operation produced. rows is set by fetches,
// changed by updates.
type outcome struct {
	rows    store.ResultSet
	changed int64
}

// job is one queued storage operation.
type job struct {
	token Token
	// ctx carries the submitter's values but not its cancellation.
	ctx context.Context
	run func(ctx context.Context) (outcome, error)
}

// executor runs jobs one at a time, in submission order, on a single
// worker goroutine.
type executor struct {
	logger    *slog.Logger
	otel      *otelInstrumentation
	registry  *registry
	busyRetry retry.Config
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan job

	// room holds one unit per free queue slot. A submitter reserves a
	// unit before its token exists, so the send to queue never blocks.
	room *semaphore.Weighted

	closing   chan struct{} // closed when shutdown begins
	stop      chan struct{} // closed to abandon queued jobs
	closeOnce sync.Once
	stopOnce  sync.Once
}

func newExecutor(o *options, instr *otelInstrumentation, reg *registry) *executor {
	return &executor{
		logger:    o.logger,
		otel:      instr,
		registry:  reg,
		busyRetry: o.busyRetry,
		timeout:   o.operationTimeout,
		queue:     make(chan job, o.queueSize),
		room:      semaphore.NewWeighted(int64(o.queueSize)),
		closing:   make(chan struct{}),
		stop:      make(chan struct{}),
	}
}

// submit reserves a queue slot, then queues the job built by prepare.
// When the queue is full it blocks until there is room, ctx ends, or the
// executor shuts down. prepare runs only once the job is sure to be queued.
func (e *executor) submit(ctx context.Context, prepare func() job) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	if err := e.reserve(ctx); err != nil {
		return err
	}
	e.queue <- prepare()
	return nil
}

// reserve takes one unit of queue room.
func (e *executor) reserve(ctx context.Context) error {
	if e.room.TryAcquire(1) {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := e.room.Acquire(ctx, 1); err != nil {
		select {
		case <-e.closing:
			return ErrClosed
		default:
		}
		return err
	}
	return nil
}

// run is the worker loop. It returns once shutdown was called and the
// queue is drained, or as soon as abort is called.
func (e *executor) run(complete func(j job, out outcome, err error)) error {
	for {
		select {
		case <-e.stop:
			return nil
		case j, ok := <-e.queue:
			if !ok {
				return nil
			}
			e.room.Release(1)
			out, ran, err := e.execute(j)
			if ran {
				complete(j, out, err)
			}
		}
	}
}

// shutdown stops accepting jobs. Queued jobs still run.
func (e *executor) shutdown() {
	e.closeOnce.Do(func() {
		close(e.closing)
		e.mu.Lock()
		e.closed = true
		close(e.queue)
		e.mu.Unlock()
	})
}

// abort makes the worker return after the job it is running.
func (e *executor) abort() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// execute runs j unless it was superseded while queued. Busy errors are
// retried. The returned error is nil for storage faults, which are logged
// and turned into an empty outcome.
func (e *executor) execute(j job) (outcome, bool, error) {
	kind := j.token.Kind
	if !e.registry.current(j.token) {
		e.logger.Debug("skipping superseded operation",
			"kind", kind.String(), "token", j.token.ID)
		e.otel.recordStale(j.ctx, kind)
		return outcome{}, false, nil
	}

	ctx, cancel := context.WithTimeout(j.ctx, e.timeout)
	defer cancel()
	ctx, endSpan := e.otel.startSpan(ctx, "calllog."+kind.String(),
		attribute.String("calllog.kind", kind.String()),
		attribute.String("calllog.token", j.token.ID),
	)

	start := time.Now()
	out, err := retry.DoWithResult(ctx, e.busyRetry, j.run)
	e.otel.recordOperation(ctx, kind, time.Since(start), err)
	endSpan(err)

	if err == nil {
		return out, true, nil
	}
	if out.rows != nil {
		out.rows.Close()
	}
	if isSuppressed(err) {
		e.logger.Warn("storage fault, operation produced no result",
			"kind", kind.String(),
			"token", j.token.ID,
			"fault", faultLabel(err),
			"error", err,
		)
		return outcome{}, true, nil
	}
	e.logger.Error("operation failed",
		"kind", kind.String(),
		"token", j.token.ID,
		"error", err,
	)
	return outcome{}, true, &OperationError{Kind: kind, Token: j.token, Err: err}
}

// isSuppressed reports whether err is an environmental storage failure.
// A store still busy after every retry counts as one.
func isSuppressed(err error) bool {
	return store.IsStorageFault(err) || store.IsBusy(err)
}

func faultLabel(err error) string {
	if f := store.FaultOf(err); f != store.FaultNone {
		return f.String()
	}
	if store.IsBusy(err) {
		return "busy"
	}
	return store.FaultNone.String()
}
