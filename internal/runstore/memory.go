package runstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps runs in process memory. Records are copied on the way
// in and out so callers never share state with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

// Save implements Store
func (m *MemoryStore) Save(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clone := run.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = clone
	return nil
}

// Get implements Store
func (m *MemoryStore) Get(ctx context.Context, id string) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return run.Clone(), nil
}

// List implements Store
func (m *MemoryStore) List(ctx context.Context, filter Filter) ([]*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		if filter.matches(run) {
			runs = append(runs, run.Clone())
		}
	}
	m.mu.RUnlock()
	return sortAndLimit(runs, filter.Limit), nil
}

// Prune implements Store
func (m *MemoryStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, run := range m.runs {
		if run.FinishedAt != nil && run.FinishedAt.Before(cutoff) {
			delete(m.runs, id)
			removed++
		}
	}
	return removed, nil
}

// Close implements Store
func (m *MemoryStore) Close() error {
	return nil
}

// sortAndLimit orders runs newest first, ties by ID, and truncates to limit
func sortAndLimit(runs []*Run, limit int) []*Run {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}
