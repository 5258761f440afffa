// File: internal/checkpoint/checkpoint.go
// Brief: Durable unit-name -> identifier records, one JSON document per environment.

// Package checkpoint persists which deployment units completed and the
// identifier (contract address) each one produced. A record is loaded once per
// run, mutated in memory after every unit and saved in full before the next
// unit starts, so a crash loses at most the in-flight unit.
package checkpoint

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrTimeout is returned when a bounded checkpoint operation does not finish in time.
var ErrTimeout = errors.New("timeout")

// Record maps unit names to the identifier each produced.
type Record map[string]string

// Store loads and saves records keyed by environment (chain id).
type Store interface {
	// Load returns the persisted record, or an empty record on first run.
	Load(ctx context.Context, env string) (Record, error)
	// Save replaces the stored record with rec.
	Save(ctx context.Context, env string, rec Record) error
}

// Has reports whether a non-empty identifier is recorded for name.
func Has(rec Record, name string) bool {
	if rec == nil {
		return false
	}
	return strings.TrimSpace(rec[name]) != ""
}

// Clone returns a copy that can be mutated independently.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Names returns recorded unit names with non-empty identifiers, sorted.
func (r Record) Names() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		if Has(r, k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
