package calllog

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/rbaliyan/calllog/retry"
	"github.com/rbaliyan/calllog/store/memory"
)

func TestNewOptions(t *testing.T) {
	t.Run("returns defaults without options", func(t *testing.T) {
		opts := newOptions()

		if opts.fetchLimit != DefaultFetchLimit {
			t.Errorf("expected fetchLimit %v, got %v", DefaultFetchLimit, opts.fetchLimit)
		}
		if opts.queueSize != DefaultQueueSize {
			t.Errorf("expected queueSize %v, got %v", DefaultQueueSize, opts.queueSize)
		}
		if opts.operationTimeout != DefaultOperationTimeout {
			t.Errorf("expected operationTimeout %v, got %v", DefaultOperationTimeout, opts.operationTimeout)
		}
		if opts.shutdownTimeout != DefaultShutdownTimeout {
			t.Errorf("expected shutdownTimeout %v, got %v", DefaultShutdownTimeout, opts.shutdownTimeout)
		}
		if opts.busyRetry.MaxRetries != retry.DefaultConfig().MaxRetries {
			t.Errorf("expected default busy retry, got %+v", opts.busyRetry)
		}
		if opts.logger == nil {
			t.Error("expected default logger")
		}
		if opts.onEventPublishFailure == nil {
			t.Error("expected default event failure handler")
		}
		if opts.strictSlots {
			t.Error("expected lenient slot resolution by default")
		}
	})

	t.Run("ignores invalid values", func(t *testing.T) {
		opts := newOptions(
			WithFetchLimit(0),
			WithQueueSize(-1),
			WithOperationTimeout(0),
			WithStore(nil),
			WithLogger(nil),
			WithSlotResolver(nil),
			WithDeliverer(nil),
		)
		if opts.fetchLimit != DefaultFetchLimit || opts.queueSize != DefaultQueueSize {
			t.Errorf("invalid sizes applied: limit=%d queue=%d", opts.fetchLimit, opts.queueSize)
		}
		if opts.operationTimeout != DefaultOperationTimeout {
			t.Errorf("invalid timeout applied: %v", opts.operationTimeout)
		}
		if opts.store != nil || opts.resolver != nil || opts.deliverer != nil || opts.logger == nil {
			t.Error("nil option values applied")
		}
	})

	t.Run("applies values", func(t *testing.T) {
		logger := slog.New(slog.DiscardHandler)
		st := memory.New()
		opts := newOptions(
			WithStore(st),
			WithLogger(logger),
			WithFetchLimit(50),
			WithQueueSize(8),
			WithOperationTimeout(time.Second),
			WithStrictSlotResolution(true),
			WithBusyRetry(retry.NoRetry()),
			WithServiceName("calls"),
			WithOTel(true),
		)
		if opts.store != st || opts.logger != logger {
			t.Error("store or logger not applied")
		}
		if opts.fetchLimit != 50 || opts.queueSize != 8 || opts.operationTimeout != time.Second {
			t.Errorf("unexpected values: %d %d %v", opts.fetchLimit, opts.queueSize, opts.operationTimeout)
		}
		if !opts.strictSlots || opts.busyRetry.MaxRetries != 0 {
			t.Error("strict slots or retry not applied")
		}
		if !opts.tracingEnabled || !opts.metricsEnabled || opts.serviceName != "calls" {
			t.Error("otel options not applied")
		}
	})

	t.Run("shutdown timeout has a floor", func(t *testing.T) {
		opts := newOptions(WithShutdownTimeout(time.Millisecond))
		if opts.shutdownTimeout != MinShutdownTimeout {
			t.Errorf("expected %v, got %v", MinShutdownTimeout, opts.shutdownTimeout)
		}
	})
}

func TestOtelDisabledIsNoop(t *testing.T) {
	o, err := newOtelInstrumentation(newOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, end := o.startSpan(context.Background(), "noop")
	end(nil)
	o.recordOperation(ctx, KindFetchLog, time.Millisecond, nil)
	o.recordStale(ctx, KindFetchLog)
	o.recordIgnoredCriterion(ctx, "slot")
}

func TestDispatcherWithOTel(t *testing.T) {
	l := newTestListener()
	d := setupDispatcher(t, seededStore(t), WithOTel(true), WithListener(l))
	if err := d.FetchCallsInSlot(context.Background(), CallTypeAll, 0, 9); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	f := waitFetch(t, l)
	closeDispatcher(t, d)
	if len(f.calls) != len(testCalls) {
		t.Errorf("expected %d calls, got %d", len(testCalls), len(f.calls))
	}
}
