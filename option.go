package calllog

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/calllog/retry"
	"github.com/rbaliyan/calllog/store"
)

// Default configuration values.
const (
	DefaultFetchLimit       = 1000             // rows per call list fetch
	DefaultQueueSize        = 64               // queued operations before submission blocks
	DefaultOperationTimeout = 30 * time.Second // per operation storage deadline
	DefaultShutdownTimeout  = 30 * time.Second // default graceful shutdown timeout
	MinShutdownTimeout      = 1 * time.Second  // minimum shutdown timeout
)

// options holds dispatcher configuration.
type options struct {
	store    store.Store
	logger   *slog.Logger
	resolver SlotResolver
	listener Listener

	// Execution
	fetchLimit       int
	queueSize        int
	operationTimeout time.Duration
	deliverer        Deliverer
	strictSlots      bool
	busyRetry        retry.Config
	onFault          FaultHandler

	// Shutdown
	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for event transport (optional)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// FaultHandler is called on the storage worker when an operation fails with
// an error that is not a storage fault.
type FaultHandler func(kind OperationKind, err error)

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName is the name of the event (e.g., "CallsMarkedOld"), and err is the publish error.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:           slog.Default(),
		fetchLimit:       DefaultFetchLimit,
		queueSize:        DefaultQueueSize,
		operationTimeout: DefaultOperationTimeout,
		busyRetry:        retry.DefaultConfig(),
		shutdownTimeout:  DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	// Ensure event failure callback is always set
	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a Dispatcher.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSlotResolver sets how SIM slots map to phone accounts. Without one,
// slot restrictions resolve to no account.
func WithSlotResolver(r SlotResolver) Option {
	return func(o *options) {
		if r != nil {
			o.resolver = r
		}
	}
}

// WithListener sets the initial listener. See Dispatcher.SetListener.
func WithListener(l Listener) Option {
	return func(o *options) {
		o.listener = l
	}
}

// --- Execution Options ---

// WithFetchLimit sets the row limit used when criteria carry none.
// Non-positive values are ignored.
func WithFetchLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.fetchLimit = n
		}
	}
}

// WithQueueSize sets how many operations may wait for the storage worker
// before submission blocks. Non-positive values are ignored.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithOperationTimeout bounds each storage call. Non-positive values are ignored.
func WithOperationTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.operationTimeout = d
		}
	}
}

// WithDeliverer sets where completion callbacks run. By default a single
// dispatcher-owned goroutine runs them in order.
func WithDeliverer(d Deliverer) Option {
	return func(o *options) {
		if d != nil {
			o.deliverer = d
		}
	}
}

// WithStrictSlotResolution makes a slot with no account an error
// (ErrSlotUnresolved) instead of dropping the slot restriction.
func WithStrictSlotResolution(strict bool) Option {
	return func(o *options) {
		o.strictSlots = strict
	}
}

// WithBusyRetry sets the retry policy for a busy store.
// Use retry.NoRetry() to disable retries.
func WithBusyRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.busyRetry = cfg
	}
}

// WithFaultHandler sets a callback for operations that fail with an error
// other than a storage fault.
func WithFaultHandler(fn FaultHandler) Option {
	return func(o *options) {
		o.onFault = fn
	}
}

// WithShutdownTimeout sets how long Close waits for queued operations.
// Values below MinShutdownTimeout are raised to it.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d < MinShutdownTimeout {
			d = MinShutdownTimeout
		}
		o.shutdownTimeout = d
	}
}

// --- OpenTelemetry Options ---

// WithTracing enables OpenTelemetry tracing for dispatcher operations.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables OpenTelemetry metrics for dispatcher operations.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name used for the event bus and telemetry.
func WithServiceName(name string) Option {
	return func(o *options) {
		o.serviceName = name
	}
}

// WithTracerProvider sets a custom tracer provider.
// If not set, uses the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom meter provider.
// If not set, uses the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// --- Event Options ---

// WithEventTransport sets the transport for update events.
// Takes precedence over WithRedisClient.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		o.eventTransport = t
	}
}

// WithRedisClient publishes update events through Redis.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		o.redisClient = client
	}
}

// WithEventPublishFailureHandler sets a callback for events that fail to
// publish. The default logs the failure.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		o.onEventPublishFailure = fn
	}
}
