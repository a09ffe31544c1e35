package postgres

import (
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/rbaliyan/calllog/store"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"disk full", &pq.Error{Code: "53100"}, store.ErrDiskFull},
		{"io error", &pq.Error{Code: "58030"}, store.ErrDiskIO},
		{"data corrupted", &pq.Error{Code: "XX001"}, store.ErrCorrupt},
		{"missing table", &pq.Error{Code: "42P01"}, store.ErrUnavailable},
		{"connection failure", &pq.Error{Code: "08006"}, store.ErrUnavailable},
		{"deadlock", &pq.Error{Code: "40P01"}, store.ErrBusy},
		{"bad connection", driver.ErrBadConn, store.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("mapError(%v) = %v, want %v", tt.err, got, tt.want)
			}
			if !errors.Is(got, tt.err) && !errors.As(got, new(*pq.Error)) {
				t.Errorf("original error lost: %v", got)
			}
		})
	}
}

func TestMapErrorPassthrough(t *testing.T) {
	if mapError(nil) != nil {
		t.Error("expected nil")
	}
	syntax := &pq.Error{Code: "42601"}
	got := mapError(syntax)
	if store.IsStorageFault(got) || store.IsBusy(got) {
		t.Errorf("syntax error must not be a storage fault: %v", got)
	}
}
