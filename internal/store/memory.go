package store

import (
	"context"
	"sync"

	"github.com/DavinciDreams/Megawatts-sub008/internal/logging"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// NewMemory returns a repository that keeps every collection in process.
// Records are held as encoded JSON so callers never share pointers with the
// store, matching the SQLite backend's copy semantics.
func NewMemory() Repository {
	logging.StoreDebug("Initializing in-memory repository")
	m := &memoryBackend{tables: make(map[string]*memTable, len(allTables))}
	for _, t := range allTables {
		m.tables[t] = &memTable{rows: make(map[string]*row)}
	}
	return newRepository(m)
}

type memTable struct {
	rows  map[string]*row
	order []string
}

type memoryBackend struct {
	mu     sync.RWMutex
	tables map[string]*memTable
}

func (m *memoryBackend) table(name string) *memTable {
	t, ok := m.tables[name]
	if !ok {
		t = &memTable{rows: make(map[string]*row)}
		m.tables[name] = t
	}
	return t
}

func (m *memoryBackend) get(ctx context.Context, table, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, types.ErrNotFound
	}
	r, ok := t.rows[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return r.Data, nil
}

func (m *memoryBackend) insert(ctx context.Context, table string, r row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(table)
	if _, exists := t.rows[r.ID]; exists {
		return errDuplicate
	}
	t.rows[r.ID] = &r
	t.order = append(t.order, r.ID)
	return nil
}

func (m *memoryBackend) update(ctx context.Context, table, id string, fn func([]byte) (row, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(table)
	cur, ok := t.rows[id]
	if !ok {
		return types.ErrNotFound
	}
	next, err := fn(cur.Data)
	if err != nil {
		return err
	}
	next.CreatedAt = cur.CreatedAt
	t.rows[id] = &next
	return nil
}

func (m *memoryBackend) scan(ctx context.Context, table, kind, ref string, fn func([]byte) (bool, error)) error {
	m.mu.RLock()
	var snapshot []row
	t := m.tables[table]
	if t == nil {
		m.mu.RUnlock()
		return nil
	}
	for _, id := range t.order {
		r := t.rows[id]
		if kind != "" && r.Kind != kind {
			continue
		}
		if ref != "" && r.Ref != ref {
			continue
		}
		snapshot = append(snapshot, *r)
	}
	m.mu.RUnlock()

	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		more, err := fn(r.Data)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return nil
}

func (m *memoryBackend) remove(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(table)
	if _, ok := t.rows[id]; !ok {
		return types.ErrNotFound
	}
	delete(t.rows, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memoryBackend) close() error { return nil }
