// Package calllog provides an asynchronous query dispatcher for a call
// history store.
//
// A Dispatcher turns caller intent (call type, time window, SIM slot, free
// text) into parameterized predicates, runs every read and write on one
// background worker, and hands results to a Listener. A newer call list
// fetch supersedes an older one still in flight, so the listener only sees
// the latest list. Storage faults such as a full disk or a corrupted
// database are logged and produce no result instead of failing the caller.
//
// # Basic Usage
//
//	st, err := sqlite.Open("calllog.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	d, err := calllog.New(
//	    calllog.WithStore(st),
//	    calllog.WithSlotResolver(resolver.NewStatic(map[int][]string{0: {"acct-1"}})),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := d.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Close(ctx)
//
//	d.SetListener(calllog.ListenerFuncs{
//	    CallsFetched: func(rs store.ResultSet) bool {
//	        calls, _ := store.ScanCalls(rs)
//	        render(calls)
//	        return false // the dispatcher closes rs
//	    },
//	})
//
//	_ = d.FetchCalls(ctx, store.CallTypeMissed, 0)
//
// # Operations
//
//   - FetchCalls, FetchCallsInSlot, FetchCallsOfType, FetchNewCalls: call list by type, date and slot
//   - FetchCallsByText: call list whose number or cached name contains a text
//   - FetchCallsInDateRange: call list within a date window
//   - FetchVoicemailStatus: voicemail source status
//   - MarkNewCallsAsOld, MarkNewVoicemailsAsOld, MarkMissedCallsAsRead: bulk updates
//   - Cancel: withdraw the outstanding operation of a kind
//
// # Storage Backends
//
// The store package defines the storage boundary. Implementations:
//   - SQLite (store/sqlite) - modernc.org/sqlite, the default for the CLI
//   - PostgreSQL (store/postgres) - accepts *sqlx.DB
//   - MongoDB (store/mongo) - accepts *mongo.Client
//   - In-memory (store/memory) - for testing
//
// # Events
//
// Successful updates publish a CallsUpdatedEvent through
// github.com/rbaliyan/event/v3. Pass WithEventTransport or WithRedisClient
// to route events somewhere; without either they go to a noop transport.
//
//	d.Events().MissedCallsRead.Subscribe(ctx, handler)
//
// # Observability
//
// WithTracing and WithMetrics enable OpenTelemetry spans and metrics for
// every storage operation, suppressed fault, superseded result and
// ignored slot criterion.
package calllog
