// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rbaliyan/calllog/store"
)

// Compile-time checks
var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	mu        sync.RWMutex
	calls     map[string]*store.Call
	statuses  map[string]store.VoicemailStatus
	connected int32
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		calls:    make(map[string]*store.Call),
		statuses: make(map[string]store.VoicemailStatus),
	}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// InsertCalls adds calls, replacing any call with the same ID.
func (s *Store) InsertCalls(ctx context.Context, calls []store.Call) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range calls {
		c := calls[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		s.calls[c.ID] = &c
	}
	return nil
}

// UpsertVoicemailStatus replaces the status of each source package.
func (s *Store) UpsertVoicemailStatus(ctx context.Context, statuses []store.VoicemailStatus) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range statuses {
		s.statuses[st.SourcePackage] = st
	}
	return nil
}

// QueryCalls returns matching calls, newest first.
func (s *Store) QueryCalls(ctx context.Context, p store.Predicate) (store.ResultSet, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]*store.Call, 0, len(s.calls))
	for _, c := range s.calls {
		if matchesPredicate(c, p) {
			cp := *c
			matched = append(matched, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Date != matched[j].Date {
			return matched[i].Date > matched[j].Date
		}
		return matched[i].ID > matched[j].ID
	})
	if limit := p.Limit(); limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	rows := make([][]any, len(matched))
	for i, c := range matched {
		rows[i] = c.Row(store.CallColumns)
	}
	return store.NewRows(store.CallColumns, rows), nil
}

// UpdateCalls applies u to every matching call.
func (s *Store) UpdateCalls(ctx context.Context, u store.Update) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if err := u.Validate(); err != nil {
		return 0, err
	}

	// Every assignment is checked before any row changes.
	var scratch store.Call
	for _, a := range u.Set {
		if err := scratch.Set(a.Column, a.Value); err != nil {
			return 0, fmt.Errorf("%w: %s: %v", store.ErrFilterInvalid, a.Column, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	type change struct {
		row     *store.Call
		updated store.Call
	}
	var changes []change
	for _, c := range s.calls {
		if !matchesPredicate(c, u.Where) {
			continue
		}
		updated := *c
		for _, a := range u.Set {
			if err := updated.Set(a.Column, a.Value); err != nil {
				return 0, err
			}
		}
		if updated != *c {
			changes = append(changes, change{row: c, updated: updated})
		}
	}
	for _, ch := range changes {
		*ch.row = ch.updated
	}
	return int64(len(changes)), nil
}

// QueryVoicemailStatus returns every voicemail source ordered by package.
func (s *Store) QueryVoicemailStatus(ctx context.Context) (store.ResultSet, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	statuses := make([]store.VoicemailStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		statuses = append(statuses, st)
	}
	s.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].SourcePackage < statuses[j].SourcePackage
	})
	rows := make([][]any, len(statuses))
	for i := range statuses {
		rows[i] = statuses[i].Row()
	}
	return store.NewRows(store.VoicemailStatusColumns, rows), nil
}

// Len returns the number of stored calls.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}
