package market

import (
	"context"
	"sync"
)

// InMemory keeps listings in process memory for tests and database-less
// deployments.
type InMemory struct {
	mu    sync.RWMutex
	items []*FoodItem
	byID  map[string]*FoodItem
}

// NewInMemory builds an empty in-memory marketplace store.
func NewInMemory() *InMemory {
	return &InMemory{byID: make(map[string]*FoodItem)}
}

var _ Store = (*InMemory)(nil)

// CreateItem stores a listing.
func (m *InMemory) CreateItem(_ context.Context, item *FoodItem) error {
	cp := *item
	m.mu.Lock()
	m.items = append(m.items, &cp)
	m.byID[cp.ID] = &cp
	m.mu.Unlock()
	return nil
}

// FindItem returns one listing by id.
func (m *InMemory) FindItem(_ context.Context, id string) (*FoodItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

// ListItems returns listings newest first, optionally filtered by category.
func (m *InMemory) ListItems(_ context.Context, category string, limit int) ([]*FoodItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*FoodItem, 0, len(m.items))
	for i := len(m.items) - 1; i >= 0; i-- {
		if category != "" && m.items[i].Category != category {
			continue
		}
		cp := *m.items[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
