package calllog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"golang.org/x/sync/errgroup"

	"github.com/rbaliyan/calllog/store"
)

// Connection states for the dispatcher.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
	stateClosed       int32 = 3
)

// Dispatcher runs call log queries and updates on a single background
// worker and delivers results to a Listener.
//
// Fetch and Mark methods return as soon as the operation is queued. A new
// call list fetch supersedes any call list fetch still outstanding, so
// the listener only ever sees the latest one. Storage faults (disk full,
// I/O errors, corruption, missing store) are logged and produce no result.
type Dispatcher struct {
	store    store.Store
	logger   *slog.Logger
	opts     *options
	otel     *otelInstrumentation
	registry *registry
	filters  filterBuilder
	listener atomic.Pointer[listenerHolder]
	state    int32 // stateDisconnected, stateConnecting, stateConnected or stateClosed

	// abandoned is set when Close gives up on queued work. Deliveries
	// still pending only release their result sets.
	abandoned atomic.Bool

	exec      *executor
	deliverer Deliverer
	serial    *serialDeliverer // nil when a custom Deliverer is configured
	group     *errgroup.Group

	eventBus *event.Bus        // Event bus for publishing update events
	events   *DispatcherEvents // Per-dispatcher event instances
}

// New creates a dispatcher. Call Connect before submitting operations.
func New(opts ...Option) (*Dispatcher, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	d := &Dispatcher{
		store:    o.store,
		logger:   o.logger,
		opts:     o,
		otel:     otelInstr,
		registry: newRegistry(),
	}
	d.filters = filterBuilder{
		resolver:      o.resolver,
		defaultLimit:  o.fetchLimit,
		strictSlots:   o.strictSlots,
		onSlotIgnored: d.slotIgnored,
	}
	if o.listener != nil {
		d.SetListener(o.listener)
	}
	return d, nil
}

// Events returns per-dispatcher event instances. It is nil before Connect.
func (d *Dispatcher) Events() *DispatcherEvents {
	return d.events
}

// IsConnected returns true if the dispatcher accepts operations.
func (d *Dispatcher) IsConnected() bool {
	return atomic.LoadInt32(&d.state) == stateConnected
}

// Connect connects the store and starts the background worker.
func (d *Dispatcher) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&d.state, stateDisconnected, stateConnecting) {
		if atomic.LoadInt32(&d.state) == stateClosed {
			return ErrClosed
		}
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&d.state, stateConnected)
		} else {
			atomic.StoreInt32(&d.state, stateDisconnected)
		}
	}()

	if err := d.store.Connect(ctx); err != nil && !errors.Is(err, store.ErrAlreadyConnected) {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := d.initEventBus(ctx); err != nil {
		d.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	d.exec = newExecutor(d.opts, d.otel, d.registry)
	d.deliverer = d.opts.deliverer
	d.serial = nil
	if d.deliverer == nil {
		d.serial = newSerialDeliverer()
		d.deliverer = d.serial
	}

	g := new(errgroup.Group)
	exec, serial := d.exec, d.serial
	g.Go(func() error {
		err := exec.run(d.complete)
		if serial != nil {
			serial.close()
		}
		return err
	})
	if serial != nil {
		g.Go(serial.run)
	}
	d.group = g

	success = true
	d.logger.Info("calllog dispatcher connected", "queue_size", d.opts.queueSize)
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus creates the dispatcher's event bus and registers its events.
func (d *Dispatcher) initEventBus(ctx context.Context) error {
	serviceName := d.opts.serviceName
	if serviceName == "" {
		serviceName = "calllog"
	}
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case d.opts.eventTransport != nil:
		d.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(d.opts.eventTransport))
	case d.opts.redisClient != nil:
		d.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(d.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		d.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	d.eventBus = bus

	d.events = newDispatcherEvents(busName)
	if err := registerDispatcherEvents(ctx, bus, d.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register dispatcher events: %w", err)
	}
	return nil
}

// Close stops accepting operations, waits for queued operations and their
// deliveries, then closes the event bus and the store. If ctx or the
// shutdown timeout expires first, queued operations are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&d.state, stateConnected, stateClosed) {
		atomic.CompareAndSwapInt32(&d.state, stateDisconnected, stateClosed)
		return nil
	}

	var errs []error

	d.logger.Info("waiting for queued operations to complete...", "timeout", d.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, d.opts.shutdownTimeout)
	defer shutdownCancel()

	d.exec.shutdown()
	done := make(chan error, 1)
	go func() { done <- d.group.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, err)
		}
		d.logger.Info("all queued operations completed")
	case <-shutdownCtx.Done():
		d.logger.Warn("timeout waiting for queued operations, abandoning them",
			"error", shutdownCtx.Err())
		d.abandoned.Store(true)
		d.exec.abort()
		if d.serial != nil {
			d.serial.close()
		}
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", shutdownCtx.Err()))
	}
	d.registry.clear()

	// The noop bus holds no resources.
	if d.eventBus != nil && (d.opts.eventTransport != nil || d.opts.redisClient != nil) {
		if err := d.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := d.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// --- Listener ---

// SetListener sets the listener that receives results. Results completing
// after RemoveListener, or while no listener is set, are discarded.
// A nil listener is the same as RemoveListener.
func (d *Dispatcher) SetListener(l Listener) {
	if l == nil {
		d.RemoveListener()
		return
	}
	d.listener.Store(&listenerHolder{l: l})
}

// RemoveListener detaches the current listener.
func (d *Dispatcher) RemoveListener() {
	d.listener.Store(nil)
}

func (d *Dispatcher) currentListener() Listener {
	if h := d.listener.Load(); h != nil {
		return h.l
	}
	return nil
}

// --- Fetches ---

// FetchCalls fetches calls of callType newer than newerThan (epoch ms).
// Use CallTypeAll for every type and zero for no date bound.
func (d *Dispatcher) FetchCalls(ctx context.Context, callType store.CallType, newerThan int64) error {
	return d.fetchCalls(ctx, KindFetchLog, NewCriteria().OfType(callType).NewerThan(newerThan))
}

// FetchCallsInSlot is FetchCalls restricted to the account in SIM slot.
func (d *Dispatcher) FetchCallsInSlot(ctx context.Context, callType store.CallType, newerThan int64, slot int) error {
	return d.fetchCalls(ctx, KindFetchLog, NewCriteria().OfType(callType).NewerThan(newerThan).InSlot(slot))
}

// FetchCallsOfType fetches every call of callType.
func (d *Dispatcher) FetchCallsOfType(ctx context.Context, callType store.CallType) error {
	return d.FetchCalls(ctx, callType, 0)
}

// FetchNewCalls fetches calls of callType that are still flagged new.
func (d *Dispatcher) FetchNewCalls(ctx context.Context, callType store.CallType) error {
	return d.fetchCalls(ctx, KindFetchLog, NewCriteria().OfType(callType).NewOnly())
}

// FetchCallsByText fetches calls whose number or cached name contains text.
func (d *Dispatcher) FetchCallsByText(ctx context.Context, text string) error {
	return d.fetchCalls(ctx, KindFetchByFilterText, NewCriteria().Matching(text))
}

// FetchCallsInDateRange fetches calls of callType with from < date <= to
// (epoch ms) on the account in slot. Use SlotAll for every account.
func (d *Dispatcher) FetchCallsInDateRange(ctx context.Context, callType store.CallType, from, to int64, slot int) error {
	c := NewCriteria().OfType(callType).NewerThan(from).OlderThan(to).InSlot(slot)
	return d.fetchCalls(ctx, KindFetchByDateRange, c)
}

// FetchCallsMatching fetches calls matching arbitrary criteria.
func (d *Dispatcher) FetchCallsMatching(ctx context.Context, c FetchCriteria) error {
	kind := KindFetchLog
	if _, ok := c.Text(); ok {
		kind = KindFetchByFilterText
	} else if c.olderThan > 0 {
		kind = KindFetchByDateRange
	}
	return d.fetchCalls(ctx, kind, c)
}

// FetchVoicemailStatus fetches the voicemail source status table.
func (d *Dispatcher) FetchVoicemailStatus(ctx context.Context) error {
	return d.submit(ctx, KindFetchVoicemailStatus, func(ctx context.Context) (outcome, error) {
		rs, err := d.store.QueryVoicemailStatus(ctx)
		return outcome{rows: rs}, err
	})
}

func (d *Dispatcher) fetchCalls(ctx context.Context, kind OperationKind, c FetchCriteria) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	p, err := d.filters.build(ctx, c)
	if err != nil {
		return err
	}
	d.logger.Debug("fetching calls", "kind", kind.String(), "filter", p.String())
	return d.submit(ctx, kind, func(ctx context.Context) (outcome, error) {
		rs, err := d.store.QueryCalls(ctx, p)
		return outcome{rows: rs}, err
	})
}

// --- Updates ---

// MarkNewCallsAsOld clears the new flag of every call.
func (d *Dispatcher) MarkNewCallsAsOld(ctx context.Context) error {
	return d.update(ctx, KindMarkCallsOld)
}

// MarkNewVoicemailsAsOld clears the new flag of every voicemail.
func (d *Dispatcher) MarkNewVoicemailsAsOld(ctx context.Context) error {
	return d.update(ctx, KindMarkVoicemailsOld)
}

// MarkMissedCallsAsRead marks every unread missed call as read.
func (d *Dispatcher) MarkMissedCallsAsRead(ctx context.Context) error {
	return d.update(ctx, KindMarkMissedRead)
}

func (d *Dispatcher) update(ctx context.Context, kind OperationKind) error {
	u, _ := updateFor(kind)
	return d.submit(ctx, kind, func(ctx context.Context) (outcome, error) {
		n, err := d.store.UpdateCalls(ctx, u)
		if err != nil {
			return outcome{}, err
		}
		d.publishUpdated(ctx, kind, n)
		return outcome{changed: n}, nil
	})
}

// publishUpdated publishes the event of an update kind.
func (d *Dispatcher) publishUpdated(ctx context.Context, kind OperationKind, rows int64) {
	ev, name, ok := d.events.eventFor(kind)
	if !ok {
		return
	}
	if err := ev.Publish(ctx, CallsUpdatedEvent{
		Operation: kind.String(),
		Rows:      rows,
		At:        time.Now().UTC(),
	}); err != nil {
		d.opts.safeEventPublishFailure(name, err)
	}
}

// --- Cancellation ---

// Cancel withdraws the outstanding operation of kind's slot. A queued
// operation is skipped; a running one completes but its result is
// discarded. Cancel is a no-op when nothing is outstanding.
func (d *Dispatcher) Cancel(kind OperationKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidKind, int(kind))
	}
	if d.registry.cancel(kind) {
		d.logger.Debug("cancelled operation", "kind", kind.String())
	}
	return nil
}

// Outstanding returns the token of the operation outstanding in kind's
// slot, if any.
func (d *Dispatcher) Outstanding(kind OperationKind) (Token, bool) {
	tok, ok := d.registry.snapshot()[kind.slot()]
	return tok, ok
}

// --- Submission and completion ---

func (d *Dispatcher) checkOpen() error {
	switch atomic.LoadInt32(&d.state) {
	case stateConnected:
		return nil
	case stateClosed:
		return ErrClosed
	default:
		return ErrNotConnected
	}
}

// submit registers a token for kind and queues run on the worker.
func (d *Dispatcher) submit(ctx context.Context, kind OperationKind, run func(ctx context.Context) (outcome, error)) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	// The token is registered only once the job has a queue slot, so a
	// rejected submission never supersedes the outstanding one.
	return d.exec.submit(ctx, func() job {
		tok, superseded := d.registry.submit(kind)
		if !superseded.IsZero() {
			d.logger.Debug("superseding outstanding operation",
				"kind", kind.String(),
				"token", tok.ID,
				"superseded", superseded.ID,
			)
		}
		return job{token: tok, ctx: context.WithoutCancel(ctx), run: run}
	})
}

// complete runs on the worker after an operation ran. Faults are reported
// to the fault handler here; everything else is handed to the deliverer.
func (d *Dispatcher) complete(j job, out outcome, err error) {
	if err != nil && d.opts.onFault != nil {
		d.opts.onFault(j.token.Kind, err)
	}
	d.deliverer.Post(func() { d.deliver(j.token, out, err) })
}

// deliver routes a completed operation to the listener. It runs on the
// deliverer.
func (d *Dispatcher) deliver(tok Token, out outcome, err error) {
	rows := out.rows
	if d.abandoned.Load() {
		closeRows(rows)
		return
	}
	if !d.registry.complete(tok) {
		d.logger.Debug("dropping result of superseded operation",
			"kind", tok.Kind.String(), "token", tok.ID)
		d.otel.recordStale(context.Background(), tok.Kind)
		closeRows(rows)
		return
	}

	l := d.currentListener()
	if err != nil {
		if fl, ok := l.(FailureListener); ok {
			fl.OnOperationFailed(tok.Kind, err)
		}
		return
	}
	if rows == nil {
		return
	}

	switch {
	case tok.Kind.IsCallFetch():
		if l == nil || !l.OnCallsFetched(rows) {
			closeRows(rows)
		}
	case tok.Kind == KindFetchVoicemailStatus:
		defer closeRows(rows)
		if l != nil {
			l.OnVoicemailStatusFetched(rows)
		}
	default:
		d.logger.Warn("unknown operation completed, ignoring", "kind", tok.Kind.String(), "token", tok.ID)
		closeRows(rows)
	}
}

// slotIgnored reports a slot restriction dropped because the slot has no account.
func (d *Dispatcher) slotIgnored(ctx context.Context, slot int) {
	d.logger.Debug("slot has no phone account, fetching from every account", "slot", slot)
	d.otel.recordIgnoredCriterion(ctx, "slot")
}

func closeRows(rs store.ResultSet) {
	if rs != nil {
		rs.Close()
	}
}
