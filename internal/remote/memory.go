package remote

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBackend implements Backend in process.
// Used by tests and by the "memory" remote URL for local development.
type MemoryBackend struct {
	mu      sync.RWMutex
	rows    map[string][]map[string]any // collection -> rows in insertion order
	unique  map[string][][]string       // collection -> unique field sets
	failure func(op, collection string) error
	inserts int
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		rows:   make(map[string][]map[string]any),
		unique: make(map[string][][]string),
	}
}

// Unique declares a unique constraint over fields; violating inserts and
// updates fail with ErrConflict.
func (m *MemoryBackend) Unique(collection string, fields ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unique[collection] = append(m.unique[collection], fields)
}

// FailWith installs a hook consulted before every operation. A non-nil
// return is returned to the caller. Pass nil to clear.
func (m *MemoryBackend) FailWith(fn func(op, collection string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = fn
}

// Inserts returns the number of successful inserts.
func (m *MemoryBackend) Inserts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inserts
}

// Count returns the number of rows in collection.
func (m *MemoryBackend) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows[collection])
}

func (m *MemoryBackend) fail(op, collection string) error {
	if m.failure == nil {
		return nil
	}
	return m.failure(op, collection)
}

func (m *MemoryBackend) Select(ctx context.Context, collection string, q Query) ([]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("select", collection); err != nil {
		return nil, err
	}

	var matched []map[string]any
	for _, row := range m.rows[collection] {
		if matches(row, q.Filters) {
			matched = append(matched, row)
		}
	}
	if q.OrderBy != "" {
		slices.SortStableFunc(matched, func(a, b map[string]any) int {
			c := compareValues(a[q.OrderBy], b[q.OrderBy])
			if q.Descending {
				return -c
			}
			return c
		})
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]json.RawMessage, 0, len(matched))
	for _, row := range matched {
		b, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("memory select %s: %w", collection, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *MemoryBackend) Insert(ctx context.Context, collection string, row json.RawMessage) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("insert", collection); err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(row, &fields); err != nil {
		return nil, fmt.Errorf("insert %s: %w: %v", collection, ErrRejected, err)
	}
	fields["id"] = uuid.NewString()
	if err := m.checkUnique(collection, fields, ""); err != nil {
		return nil, err
	}
	m.rows[collection] = append(m.rows[collection], fields)
	m.inserts++
	return json.Marshal(fields)
}

func (m *MemoryBackend) Update(ctx context.Context, collection, id string, row json.RawMessage) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("update", collection); err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(row, &fields); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w: %v", collection, id, ErrRejected, err)
	}
	rows := m.rows[collection]
	i := slices.IndexFunc(rows, func(r map[string]any) bool { return r["id"] == id })
	if i < 0 {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	merged := make(map[string]any, len(rows[i])+len(fields))
	for k, v := range rows[i] {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	merged["id"] = id
	if err := m.checkUnique(collection, merged, id); err != nil {
		return nil, err
	}
	rows[i] = merged
	return json.Marshal(merged)
}

func (m *MemoryBackend) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete", collection); err != nil {
		return err
	}
	rows := m.rows[collection]
	i := slices.IndexFunc(rows, func(r map[string]any) bool { return r["id"] == id })
	if i < 0 {
		return fmt.Errorf("delete %s/%s: %w", collection, id, ErrNotFound)
	}
	m.rows[collection] = slices.Delete(rows, i, i+1)
	return nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fail("ping", "")
}

// checkUnique must be called with mu held.
func (m *MemoryBackend) checkUnique(collection string, fields map[string]any, selfID string) error {
	for _, set := range m.unique[collection] {
		for _, row := range m.rows[collection] {
			if row["id"] == selfID {
				continue
			}
			same := true
			for _, f := range set {
				if fmt.Sprint(row[f]) != fmt.Sprint(fields[f]) {
					same = false
					break
				}
			}
			if same {
				return fmt.Errorf("%s unique %v: %w", collection, set, ErrConflict)
			}
		}
	}
	return nil
}

// compareValues orders numbers numerically, RFC 3339 timestamps chronologically
// and everything else by its string form.
func compareValues(a, b any) int {
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			return cmp.Compare(fa, fb)
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	ta, errA := time.Parse(time.RFC3339Nano, sa)
	tb, errB := time.Parse(time.RFC3339Nano, sb)
	if errA == nil && errB == nil {
		return ta.Compare(tb)
	}
	return cmp.Compare(sa, sb)
}

func matches(row map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if fmt.Sprint(row[f.Field]) != f.Value {
			return false
		}
	}
	return true
}
