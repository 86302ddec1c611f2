package audit

import (
	"context"
	"sync"
)

// MemoryRepository keeps entries in a slice. Insertion order is preserved,
// so List walks it backwards for newest-first results.
//
// Thread Safety: All methods are safe for concurrent use.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryRepository creates an empty in-memory audit repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Append stores a copy of e.
func (m *MemoryRepository) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, *e)
	m.mu.Unlock()
	return nil
}

// List returns entries matching the filter, newest first.
func (m *MemoryRepository) List(_ context.Context, filter Filter) (*ListResult, error) {
	filter = filter.normalise()

	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := []Entry{}
	for i := len(m.entries) - 1; i >= 0; i-- {
		if filter.matches(&m.entries[i]) {
			matched = append(matched, m.entries[i])
		}
	}

	total := len(matched)
	page := []Entry{}
	if filter.Offset < total {
		end := min(filter.Offset+filter.Limit, total)
		page = append(page, matched[filter.Offset:end]...)
	}

	return &ListResult{
		Entries: page,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
