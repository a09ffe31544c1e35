package calllog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbaliyan/calllog/retry"
	"github.com/rbaliyan/calllog/store"
	"github.com/rbaliyan/calllog/store/memory"
)

const waitTimeout = 5 * time.Second

var testCalls = []store.Call{
	{ID: "c1", Number: "5551234", Date: 1000, Type: store.CallTypeMissed, CachedName: "Alice", New: true, PhoneAccountID: "acct-0"},
	{ID: "c2", Number: "5559876", Date: 2000, Type: store.CallTypeIncoming, CachedName: "Bob", New: true, IsRead: true, PhoneAccountID: "acct-1"},
	{ID: "c3", Number: "0201111", Date: 3000, Type: store.CallTypeMissed, CachedName: "Carol 5", PhoneAccountID: "acct-0"},
	{ID: "c4", Number: "0202222", Date: 4000, Type: store.CallTypeVoicemail, CachedName: "Dave", New: true, PhoneAccountID: "acct-1"},
	{ID: "c5", Number: "0203333", Date: 5000, Type: store.CallTypeOutgoing, CachedName: "Eve", IsRead: true},
}

var testStatuses = []store.VoicemailStatus{
	{SourcePackage: "com.example.vvm", ConfigurationState: 0, DataChannelState: 0, NotificationChannelState: 0},
	{SourcePackage: "com.carrier.vvm", ConfigurationState: 1, DataChannelState: 1, NotificationChannelState: 0},
}

// seededStore returns a connected memory store holding testCalls and testStatuses.
func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	if err := st.Connect(ctx); err != nil {
		t.Fatalf("connect store: %v", err)
	}
	if err := st.InsertCalls(ctx, testCalls); err != nil {
		t.Fatalf("insert calls: %v", err)
	}
	if err := st.UpsertVoicemailStatus(ctx, testStatuses); err != nil {
		t.Fatalf("insert statuses: %v", err)
	}
	return st
}

func setupDispatcher(t *testing.T, st store.Store, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := New(append([]Option{WithStore(st)}, opts...)...)
	if err != nil {
		t.Fatalf("create dispatcher: %v", err)
	}
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return d
}

type fetched struct {
	rows  store.ResultSet
	calls []store.Call
	err   error
}

type failure struct {
	kind OperationKind
	err  error
}

// testListener forwards every callback to a channel.
type testListener struct {
	keep     bool
	calls    chan fetched
	statuses chan []store.VoicemailStatus
	failures chan failure
}

func newTestListener() *testListener {
	return &testListener{
		calls:    make(chan fetched, 16),
		statuses: make(chan []store.VoicemailStatus, 16),
		failures: make(chan failure, 16),
	}
}

func (l *testListener) OnCallsFetched(rs store.ResultSet) bool {
	calls, err := store.ScanCalls(rs)
	l.calls <- fetched{rows: rs, calls: calls, err: err}
	return l.keep
}

func (l *testListener) OnVoicemailStatusFetched(rs store.ResultSet) {
	statuses, _ := store.ScanVoicemailStatus(rs)
	l.statuses <- statuses
}

func (l *testListener) OnOperationFailed(kind OperationKind, err error) {
	l.failures <- failure{kind: kind, err: err}
}

func waitFetch(t *testing.T, l *testListener) fetched {
	t.Helper()
	select {
	case f := <-l.calls:
		if f.err != nil {
			t.Fatalf("scan calls: %v", f.err)
		}
		return f
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for calls")
		return fetched{}
	}
}

func callIDs(calls []store.Call) []string {
	ids := make([]string, len(calls))
	for i, c := range calls {
		ids[i] = c.ID
	}
	return ids
}

func expectIDs(t *testing.T, calls []store.Call, want ...string) {
	t.Helper()
	got := callIDs(calls)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected calls %v, got %v", want, got)
	}
}

func closeDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// recordingStore remembers every result set and predicate it hands out.
type recordingStore struct {
	store.Store
	mu         sync.Mutex
	results    []store.ResultSet
	predicates []store.Predicate
}

func (s *recordingStore) QueryCalls(ctx context.Context, p store.Predicate) (store.ResultSet, error) {
	rs, err := s.Store.QueryCalls(ctx, p)
	s.mu.Lock()
	s.predicates = append(s.predicates, p)
	if rs != nil {
		s.results = append(s.results, rs)
	}
	s.mu.Unlock()
	return rs, err
}

func (s *recordingStore) QueryVoicemailStatus(ctx context.Context) (store.ResultSet, error) {
	rs, err := s.Store.QueryVoicemailStatus(ctx)
	s.mu.Lock()
	if rs != nil {
		s.results = append(s.results, rs)
	}
	s.mu.Unlock()
	return rs, err
}

func (s *recordingStore) allClosed(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rs := range s.results {
		if !rs.(*store.Rows).Closed() {
			t.Errorf("result set %d left open", i)
		}
	}
}

// gatedStore blocks the first QueryCalls until the gate is released.
type gatedStore struct {
	recordingStore
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGatedStore(t *testing.T) *gatedStore {
	return &gatedStore{
		recordingStore: recordingStore{Store: seededStore(t)},
		entered:        make(chan struct{}),
		gate:           make(chan struct{}),
	}
}

func (s *gatedStore) QueryCalls(ctx context.Context, p store.Predicate) (store.ResultSet, error) {
	s.once.Do(func() {
		close(s.entered)
		<-s.gate
	})
	return s.recordingStore.QueryCalls(ctx, p)
}

func (s *gatedStore) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(waitTimeout):
		t.Fatal("worker never reached the store")
	}
}

// bufferedDeliverer holds posted callbacks until the test runs them.
type bufferedDeliverer struct {
	mu  sync.Mutex
	fns []func()
}

func (b *bufferedDeliverer) Post(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fns = append(b.fns, fn)
}

func (b *bufferedDeliverer) take() []func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	fns := b.fns
	b.fns = nil
	return fns
}

// waitPosted waits until n callbacks are buffered.
func (b *bufferedDeliverer) waitPosted(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		b.mu.Lock()
		got := len(b.fns)
		b.mu.Unlock()
		if got >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d posted deliveries, got %d", n, got)
		}
		time.Sleep(time.Millisecond)
	}
}

// failingStore fails every operation with err.
type failingStore struct {
	store.Store
	err error
}

func (s *failingStore) QueryCalls(context.Context, store.Predicate) (store.ResultSet, error) {
	return nil, s.err
}

func (s *failingStore) QueryVoicemailStatus(context.Context) (store.ResultSet, error) {
	return nil, s.err
}

func (s *failingStore) UpdateCalls(context.Context, store.Update) (int64, error) {
	return 0, s.err
}

func TestNew(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := New()
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("submit before connect", func(t *testing.T) {
		d, err := New(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := d.FetchCalls(context.Background(), CallTypeAll, 0); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if d.IsConnected() {
			t.Error("dispatcher connected before Connect")
		}
	})
}

func TestDispatcherLifecycle(t *testing.T) {
	ctx := context.Background()
	d := setupDispatcher(t, seededStore(t))

	if !d.IsConnected() {
		t.Fatal("expected connected")
	}
	if d.Events() == nil {
		t.Error("expected events after connect")
	}
	if err := d.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}

	closeDispatcher(t, d)
	if err := d.Close(ctx); err != nil {
		t.Errorf("second close: %v", err)
	}
	if err := d.FetchCalls(ctx, CallTypeAll, 0); !IsClosed(err) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
	if err := d.MarkMissedCallsAsRead(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
	if err := d.Connect(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on reconnect, got %v", err)
	}
}

func TestFetchCalls(t *testing.T) {
	ctx := context.Background()
	resolver := staticSlots(map[int][]string{0: {"acct-0"}, 1: {"acct-1"}})

	tests := []struct {
		name  string
		fetch func(d *Dispatcher) error
		want  []string
	}{
		{
			name:  "missed calls",
			fetch: func(d *Dispatcher) error { return d.FetchCallsOfType(ctx, store.CallTypeMissed) },
			want:  []string{"c3", "c1"},
		},
		{
			name:  "every call",
			fetch: func(d *Dispatcher) error { return d.FetchCalls(ctx, CallTypeAll, 0) },
			want:  []string{"c5", "c4", "c3", "c2", "c1"},
		},
		{
			name:  "newer than",
			fetch: func(d *Dispatcher) error { return d.FetchCalls(ctx, CallTypeAll, 3000) },
			want:  []string{"c5", "c4"},
		},
		{
			name:  "slot",
			fetch: func(d *Dispatcher) error { return d.FetchCallsInSlot(ctx, CallTypeAll, 0, 1) },
			want:  []string{"c4", "c2"},
		},
		{
			name:  "unresolved slot falls back to every account",
			fetch: func(d *Dispatcher) error { return d.FetchCallsInSlot(ctx, store.CallTypeMissed, 0, 4) },
			want:  []string{"c3", "c1"},
		},
		{
			name:  "date range",
			fetch: func(d *Dispatcher) error { return d.FetchCallsInDateRange(ctx, CallTypeAll, 1000, 4000, SlotAll) },
			want:  []string{"c4", "c3", "c2"},
		},
		{
			name:  "date range in slot",
			fetch: func(d *Dispatcher) error { return d.FetchCallsInDateRange(ctx, CallTypeAll, 0, 3000, 0) },
			want:  []string{"c3", "c1"},
		},
		{
			name:  "new calls",
			fetch: func(d *Dispatcher) error { return d.FetchNewCalls(ctx, CallTypeAll) },
			want:  []string{"c4", "c2", "c1"},
		},
		{
			name:  "text matches number or name",
			fetch: func(d *Dispatcher) error { return d.FetchCallsByText(ctx, "5") },
			want:  []string{"c3", "c2", "c1"},
		},
		{
			name:  "text is case insensitive",
			fetch: func(d *Dispatcher) error { return d.FetchCallsByText(ctx, "eve") },
			want:  []string{"c5"},
		},
		{
			name:  "text wildcards are literal",
			fetch: func(d *Dispatcher) error { return d.FetchCallsByText(ctx, "%") },
			want:  []string{},
		},
		{
			name: "arbitrary criteria",
			fetch: func(d *Dispatcher) error {
				return d.FetchCallsMatching(ctx, NewCriteria().OfType(store.CallTypeMissed).Limit(1))
			},
			want: []string{"c3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestListener()
			d := setupDispatcher(t, seededStore(t), WithSlotResolver(resolver), WithListener(l))
			defer closeDispatcher(t, d)

			if err := tt.fetch(d); err != nil {
				t.Fatalf("fetch: %v", err)
			}
			f := waitFetch(t, l)
			expectIDs(t, f.calls, tt.want...)
		})
	}
}

func TestResultOwnership(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatcher closes rows the listener declines", func(t *testing.T) {
		l := newTestListener()
		d := setupDispatcher(t, seededStore(t), WithListener(l))
		if err := d.FetchCalls(ctx, CallTypeAll, 0); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		f := waitFetch(t, l)
		closeDispatcher(t, d)
		if !f.rows.(*store.Rows).Closed() {
			t.Error("declined result set left open")
		}
	})

	t.Run("listener keeps rows it takes", func(t *testing.T) {
		l := newTestListener()
		l.keep = true
		d := setupDispatcher(t, seededStore(t), WithListener(l))
		if err := d.FetchCalls(ctx, CallTypeAll, 0); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		f := waitFetch(t, l)
		closeDispatcher(t, d)
		if f.rows.(*store.Rows).Closed() {
			t.Error("dispatcher closed a result set the listener took")
		}
		f.rows.Close()
	})

	t.Run("voicemail status is always closed", func(t *testing.T) {
		l := newTestListener()
		l.keep = true
		st := &recordingStore{Store: seededStore(t)}
		d := setupDispatcher(t, st, WithListener(l))
		if err := d.FetchVoicemailStatus(ctx); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		select {
		case statuses := <-l.statuses:
			if len(statuses) != 2 || statuses[0].SourcePackage != "com.carrier.vvm" {
				t.Errorf("unexpected statuses: %+v", statuses)
			}
		case <-time.After(waitTimeout):
			t.Fatal("timed out waiting for voicemail status")
		}
		closeDispatcher(t, d)
		st.allClosed(t)
	})

	t.Run("results without listener are closed", func(t *testing.T) {
		st := &recordingStore{Store: seededStore(t)}
		d := setupDispatcher(t, st)
		if err := d.FetchCalls(ctx, CallTypeAll, 0); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if err := d.FetchVoicemailStatus(ctx); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		closeDispatcher(t, d)

		st.mu.Lock()
		n := len(st.results)
		st.mu.Unlock()
		if n != 2 {
			t.Fatalf("expected 2 result sets, got %d", n)
		}
		st.allClosed(t)
	})

	t.Run("removed listener gets nothing", func(t *testing.T) {
		l := newTestListener()
		st := newGatedStore(t)
		d := setupDispatcher(t, st, WithListener(l))
		if err := d.FetchCalls(ctx, CallTypeAll, 0); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		st.waitEntered(t)
		d.RemoveListener()
		close(st.gate)
		closeDispatcher(t, d)

		if len(l.calls) != 0 {
			t.Error("removed listener received calls")
		}
		st.allClosed(t)
	})

	t.Run("nil listener is a removal", func(t *testing.T) {
		d := setupDispatcher(t, seededStore(t), WithListener(newTestListener()))
		defer closeDispatcher(t, d)
		d.SetListener(nil)
		if d.currentListener() != nil {
			t.Error("nil listener not treated as removal")
		}
	})
}

func TestSupersession(t *testing.T) {
	ctx := context.Background()

	t.Run("typing 5, 55, 555 delivers only 555", func(t *testing.T) {
		l := newTestListener()
		st := newGatedStore(t)
		d := setupDispatcher(t, st, WithListener(l))

		if err := d.FetchCallsByText(ctx, "5"); err != nil {
			t.Fatalf("fetch 5: %v", err)
		}
		st.waitEntered(t)
		if err := d.FetchCallsByText(ctx, "55"); err != nil {
			t.Fatalf("fetch 55: %v", err)
		}
		if err := d.FetchCallsByText(ctx, "555"); err != nil {
			t.Fatalf("fetch 555: %v", err)
		}
		close(st.gate)

		f := waitFetch(t, l)
		closeDispatcher(t, d)

		expectIDs(t, f.calls, "c2", "c1")
		if len(l.calls) != 0 {
			t.Errorf("expected one delivery, got %d more", len(l.calls))
		}

		st.mu.Lock()
		var patterns []any
		for _, p := range st.predicates {
			patterns = append(patterns, p.Params()[0])
		}
		st.mu.Unlock()
		if fmt.Sprint(patterns) != fmt.Sprint([]any{"%5%", "%555%"}) {
			t.Errorf("expected the superseded 55 query to be skipped, store saw %v", patterns)
		}
		st.allClosed(t)
	})

	t.Run("only 555 is delivered when completions arrive out of order", func(t *testing.T) {
		l := newTestListener()
		st := newGatedStore(t)
		buf := &bufferedDeliverer{}
		d := setupDispatcher(t, st, WithListener(l), WithDeliverer(buf))

		if err := d.FetchCallsByText(ctx, "5"); err != nil {
			t.Fatalf("fetch 5: %v", err)
		}
		st.waitEntered(t)
		if err := d.FetchCallsByText(ctx, "55"); err != nil {
			t.Fatalf("fetch 55: %v", err)
		}
		if err := d.FetchCallsByText(ctx, "555"); err != nil {
			t.Fatalf("fetch 555: %v", err)
		}
		close(st.gate)

		buf.waitPosted(t, 2)
		fns := buf.take()
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
		closeDispatcher(t, d)

		if len(fns) != 2 {
			t.Errorf("expected 2 posted completions, got %d", len(fns))
		}
		if len(l.calls) != 1 {
			t.Fatalf("expected exactly one delivery, got %d", len(l.calls))
		}
		f := <-l.calls
		expectIDs(t, f.calls, "c2", "c1")
		st.allClosed(t)
	})

	t.Run("text fetch supersedes type fetch", func(t *testing.T) {
		l := newTestListener()
		st := newGatedStore(t)
		d := setupDispatcher(t, st, WithListener(l))

		if err := d.FetchCalls(ctx, store.CallTypeMissed, 0); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		st.waitEntered(t)
		if err := d.FetchCallsByText(ctx, "Eve"); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		close(st.gate)

		f := waitFetch(t, l)
		closeDispatcher(t, d)
		expectIDs(t, f.calls, "c5")
		if len(l.calls) != 0 {
			t.Error("superseded fetch was delivered")
		}
	})

	t.Run("different kinds do not cancel each other", func(t *testing.T) {
		l := newTestListener()
		d := setupDispatcher(t, seededStore(t), WithListener(l))

		if err := d.FetchCalls(ctx, CallTypeAll, 0); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if err := d.FetchVoicemailStatus(ctx); err != nil {
			t.Fatalf("fetch status: %v", err)
		}
		if err := d.MarkMissedCallsAsRead(ctx); err != nil {
			t.Fatalf("mark: %v", err)
		}
		closeDispatcher(t, d)

		if len(l.calls) != 1 || len(l.statuses) != 1 {
			t.Errorf("expected both fetches delivered, got calls=%d statuses=%d", len(l.calls), len(l.statuses))
		}
	})

	t.Run("cancel drops running fetch", func(t *testing.T) {
		l := newTestListener()
		st := newGatedStore(t)
		d := setupDispatcher(t, st, WithListener(l))

		if err := d.FetchCalls(ctx, CallTypeAll, 0); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		st.waitEntered(t)
		if _, ok := d.Outstanding(KindFetchByFilterText); !ok {
			t.Error("expected call list fetch outstanding")
		}
		if err := d.Cancel(KindFetchLog); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if err := d.Cancel(KindFetchLog); err != nil {
			t.Fatalf("second cancel: %v", err)
		}
		close(st.gate)
		closeDispatcher(t, d)

		if len(l.calls) != 0 {
			t.Error("cancelled fetch was delivered")
		}
		st.allClosed(t)
	})

	t.Run("cancel rejects unknown kind", func(t *testing.T) {
		d := setupDispatcher(t, seededStore(t))
		defer closeDispatcher(t, d)
		if err := d.Cancel(OperationKind(42)); !errors.Is(err, ErrInvalidKind) {
			t.Errorf("expected ErrInvalidKind, got %v", err)
		}
	})
}

func TestMarkOperations(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		mark  func(d *Dispatcher) error
		check func(t *testing.T, calls map[string]store.Call)
	}{
		{
			name: "mark new calls as old",
			mark: func(d *Dispatcher) error { return d.MarkNewCallsAsOld(ctx) },
			check: func(t *testing.T, calls map[string]store.Call) {
				for id, c := range calls {
					if c.New {
						t.Errorf("%s still new", id)
					}
				}
			},
		},
		{
			name: "mark new voicemails as old",
			mark: func(d *Dispatcher) error { return d.MarkNewVoicemailsAsOld(ctx) },
			check: func(t *testing.T, calls map[string]store.Call) {
				if calls["c4"].New {
					t.Error("voicemail still new")
				}
				if !calls["c1"].New || !calls["c2"].New {
					t.Error("non-voicemail calls lost their new flag")
				}
			},
		},
		{
			name: "mark missed calls as read",
			mark: func(d *Dispatcher) error { return d.MarkMissedCallsAsRead(ctx) },
			check: func(t *testing.T, calls map[string]store.Call) {
				if !calls["c1"].IsRead || !calls["c3"].IsRead {
					t.Error("missed calls not marked read")
				}
				if calls["c4"].IsRead {
					t.Error("voicemail marked read")
				}
				if !calls["c1"].New {
					t.Error("new flag changed by mark read")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := seededStore(t)
			d := setupDispatcher(t, st)
			if err := tt.mark(d); err != nil {
				t.Fatalf("mark: %v", err)
			}
			closeDispatcher(t, d)

			if err := st.Connect(ctx); err != nil {
				t.Fatalf("reconnect store: %v", err)
			}
			rs, err := st.QueryCalls(ctx, store.NewPredicate())
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			defer rs.Close()
			all, err := store.ScanCalls(rs)
			if err != nil {
				t.Fatalf("scan: %v", err)
			}
			byID := make(map[string]store.Call, len(all))
			for _, c := range all {
				byID[c.ID] = c
			}
			tt.check(t, byID)
		})
	}
}

func TestStorageFaults(t *testing.T) {
	ctx := context.Background()

	faults := []error{
		fmt.Errorf("%w: database or disk is full", store.ErrDiskFull),
		fmt.Errorf("%w: short read", store.ErrDiskIO),
		fmt.Errorf("%w: malformed page", store.ErrCorrupt),
		fmt.Errorf("%w: no such table: calls", store.ErrUnavailable),
		store.ErrNotConnected,
	}

	for _, fault := range faults {
		t.Run(fault.Error(), func(t *testing.T) {
			l := newTestListener()
			var handled atomic.Int32
			delivered := make(chan struct{}, 8)
			d := setupDispatcher(t, &failingStore{Store: seededStore(t), err: fault},
				WithListener(l),
				WithFaultHandler(func(OperationKind, error) { handled.Add(1) }),
				WithDeliverer(DelivererFunc(func(fn func()) {
					fn()
					delivered <- struct{}{}
				})),
			)

			if err := d.FetchCalls(ctx, CallTypeAll, 0); err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if err := d.FetchVoicemailStatus(ctx); err != nil {
				t.Fatalf("fetch status: %v", err)
			}
			if err := d.MarkNewCallsAsOld(ctx); err != nil {
				t.Fatalf("mark: %v", err)
			}
			for range 3 {
				select {
				case <-delivered:
				case <-time.After(waitTimeout):
					t.Fatal("timed out waiting for completion")
				}
			}

			for _, k := range []OperationKind{KindFetchLog, KindFetchVoicemailStatus, KindMarkCallsOld} {
				if _, ok := d.Outstanding(k); ok {
					t.Errorf("%s still outstanding after fault", k)
				}
			}
			closeDispatcher(t, d)

			if len(l.calls) != 0 || len(l.statuses) != 0 || len(l.failures) != 0 {
				t.Errorf("storage fault reached the listener: calls=%d statuses=%d failures=%d",
					len(l.calls), len(l.statuses), len(l.failures))
			}
			if handled.Load() != 0 {
				t.Error("storage fault reached the fault handler")
			}
		})
	}
}

func TestOperationFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("constraint violated")

	l := newTestListener()
	var handled []OperationKind
	var mu sync.Mutex
	d := setupDispatcher(t, &failingStore{Store: seededStore(t), err: boom},
		WithListener(l),
		WithFaultHandler(func(kind OperationKind, err error) {
			mu.Lock()
			handled = append(handled, kind)
			mu.Unlock()
		}),
	)

	if err := d.MarkMissedCallsAsRead(ctx); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := d.FetchCallsByText(ctx, "x"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	closeDispatcher(t, d)

	if len(l.failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(l.failures))
	}
	first := <-l.failures
	if first.kind != KindMarkMissedRead {
		t.Errorf("expected %s first, got %s", KindMarkMissedRead, first.kind)
	}
	var opErr *OperationError
	if !errors.As(first.err, &opErr) {
		t.Fatalf("expected *OperationError, got %T", first.err)
	}
	if opErr.Kind != KindMarkMissedRead || opErr.Token.ID == "" {
		t.Errorf("unexpected operation error: %+v", opErr)
	}
	if !errors.Is(first.err, boom) {
		t.Errorf("expected cause %v, got %v", boom, first.err)
	}
	if len(l.calls) != 0 {
		t.Error("failed fetch delivered rows")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 2 {
		t.Errorf("expected fault handler called twice, got %d", len(handled))
	}
}

// busyStore reports ErrBusy for the first failures queries.
type busyStore struct {
	store.Store
	failures int32
	attempts atomic.Int32
}

func (s *busyStore) QueryCalls(ctx context.Context, p store.Predicate) (store.ResultSet, error) {
	if s.attempts.Add(1) <= s.failures {
		return nil, fmt.Errorf("%w: database is locked", store.ErrBusy)
	}
	return s.Store.QueryCalls(ctx, p)
}

func TestBusyRetry(t *testing.T) {
	ctx := context.Background()
	fastRetry := retry.Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
		IsRetryable:    store.IsBusy,
	}

	t.Run("retries until the store frees up", func(t *testing.T) {
		l := newTestListener()
		st := &busyStore{Store: seededStore(t), failures: 2}
		d := setupDispatcher(t, st, WithListener(l), WithBusyRetry(fastRetry))
		if err := d.FetchCalls(ctx, store.CallTypeMissed, 0); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		f := waitFetch(t, l)
		closeDispatcher(t, d)
		expectIDs(t, f.calls, "c3", "c1")
		if got := st.attempts.Load(); got != 3 {
			t.Errorf("expected 3 attempts, got %d", got)
		}
	})

	t.Run("still busy after retries produces no result", func(t *testing.T) {
		l := newTestListener()
		st := &busyStore{Store: seededStore(t), failures: 100}
		d := setupDispatcher(t, st, WithListener(l), WithBusyRetry(fastRetry))
		if err := d.FetchCalls(ctx, CallTypeAll, 0); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		closeDispatcher(t, d)
		if len(l.calls) != 0 || len(l.failures) != 0 {
			t.Error("busy store reached the listener")
		}
		if got := st.attempts.Load(); got != 4 {
			t.Errorf("expected 4 attempts, got %d", got)
		}
	})
}

func TestSubmission(t *testing.T) {
	t.Run("full queue blocks until context ends", func(t *testing.T) {
		st := newGatedStore(t)
		d := setupDispatcher(t, st, WithQueueSize(1))
		bg := context.Background()

		if err := d.FetchCalls(bg, CallTypeAll, 0); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		st.waitEntered(t)
		if err := d.FetchVoicemailStatus(bg); err != nil {
			t.Fatalf("queue status fetch: %v", err)
		}

		ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
		defer cancel()
		err := d.MarkNewCallsAsOld(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
		if _, ok := d.Outstanding(KindMarkCallsOld); ok {
			t.Error("rejected submission left a token behind")
		}

		close(st.gate)
		closeDispatcher(t, d)
	})

	t.Run("rejected fetch keeps the accepted one outstanding", func(t *testing.T) {
		l := newTestListener()
		st := newGatedStore(t)
		d := setupDispatcher(t, st, WithListener(l), WithQueueSize(1))
		bg := context.Background()

		if err := d.FetchCallsByText(bg, "5"); err != nil {
			t.Fatalf("fetch 5: %v", err)
		}
		st.waitEntered(t)
		if err := d.FetchCallsByText(bg, "555"); err != nil {
			t.Fatalf("fetch 555: %v", err)
		}
		accepted, ok := d.Outstanding(KindFetchByFilterText)
		if !ok {
			t.Fatal("expected the 555 fetch outstanding")
		}

		ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
		defer cancel()
		if err := d.FetchCallsByText(ctx, "020"); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
		if tok, ok := d.Outstanding(KindFetchLog); !ok || tok != accepted {
			t.Errorf("rejected fetch replaced the outstanding token: got %v (ok=%v), want %v", tok, ok, accepted)
		}

		close(st.gate)
		f := waitFetch(t, l)
		closeDispatcher(t, d)

		expectIDs(t, f.calls, "c2", "c1")
		if len(l.calls) != 0 {
			t.Errorf("expected one delivery, got %d more", len(l.calls))
		}
		st.allClosed(t)
	})

	t.Run("close timeout abandons pending deliveries", func(t *testing.T) {
		l := newTestListener()
		st := newGatedStore(t)
		buf := &bufferedDeliverer{}
		d := setupDispatcher(t, st, WithListener(l), WithDeliverer(buf))
		bg := context.Background()

		if err := d.FetchVoicemailStatus(bg); err != nil {
			t.Fatalf("fetch status: %v", err)
		}
		if err := d.FetchCalls(bg, CallTypeAll, 0); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		st.waitEntered(t)

		ctx, cancel := context.WithTimeout(bg, 50*time.Millisecond)
		defer cancel()
		if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected shutdown timeout, got %v", err)
		}

		for _, fn := range buf.take() {
			fn()
		}
		if len(l.statuses) != 0 || len(l.calls) != 0 {
			t.Errorf("listener called after close gave up: statuses=%d calls=%d", len(l.statuses), len(l.calls))
		}
		st.allClosed(t)
		close(st.gate)
	})

	t.Run("caller cancellation does not cancel queued work", func(t *testing.T) {
		l := newTestListener()
		d := setupDispatcher(t, seededStore(t), WithListener(l))
		ctx, cancel := context.WithCancel(context.Background())
		if err := d.FetchCalls(ctx, CallTypeAll, 0); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		cancel()
		f := waitFetch(t, l)
		closeDispatcher(t, d)
		if len(f.calls) != len(testCalls) {
			t.Errorf("expected %d calls, got %d", len(testCalls), len(f.calls))
		}
	})

	t.Run("strict slot resolution rejects at submission", func(t *testing.T) {
		d := setupDispatcher(t, seededStore(t), WithStrictSlotResolution(true))
		defer closeDispatcher(t, d)
		err := d.FetchCallsInSlot(context.Background(), CallTypeAll, 0, 3)
		if !errors.Is(err, ErrSlotUnresolved) {
			t.Errorf("expected ErrSlotUnresolved, got %v", err)
		}
		if _, ok := d.Outstanding(KindFetchLog); ok {
			t.Error("rejected fetch left a token behind")
		}
	})

	t.Run("fetch limit option", func(t *testing.T) {
		l := newTestListener()
		d := setupDispatcher(t, seededStore(t), WithListener(l), WithFetchLimit(2))
		if err := d.FetchCalls(context.Background(), CallTypeAll, 0); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		f := waitFetch(t, l)
		closeDispatcher(t, d)
		expectIDs(t, f.calls, "c5", "c4")
	})

	t.Run("close drains queued operations", func(t *testing.T) {
		l := newTestListener()
		d := setupDispatcher(t, seededStore(t), WithListener(l))
		bg := context.Background()
		for range 5 {
			if err := d.FetchVoicemailStatus(bg); err != nil {
				t.Fatalf("fetch: %v", err)
			}
		}
		if err := d.FetchCalls(bg, CallTypeAll, 0); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		closeDispatcher(t, d)
		if len(l.calls) != 1 {
			t.Errorf("expected queued call fetch delivered on close, got %d", len(l.calls))
		}
		if len(l.statuses) == 0 {
			t.Error("expected a voicemail status delivery")
		}
	})
}

func TestDeliveryIsSerial(t *testing.T) {
	ctx := context.Background()
	var active, maxActive atomic.Int32
	l := ListenerFuncs{
		VoicemailStatusFetched: func(store.ResultSet) {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		},
	}
	d := setupDispatcher(t, seededStore(t), WithListener(l))
	for range 10 {
		if err := d.FetchVoicemailStatus(ctx); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}
	closeDispatcher(t, d)
	if maxActive.Load() > 1 {
		t.Errorf("listener callbacks overlapped: %d", maxActive.Load())
	}
}
