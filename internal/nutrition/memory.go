package nutrition

import (
	"context"
	"sync"
)

// InMemory keeps analyses and predictions in process memory. It backs the
// API when no database is configured and the package tests.
type InMemory struct {
	mu          sync.RWMutex
	analyses    []*Record
	predictions []*PredictionRecord
}

// NewInMemory builds an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

var (
	_ Store           = (*InMemory)(nil)
	_ PredictionStore = (*InMemory)(nil)
)

// CreateAnalysis stores a meal analysis record.
func (m *InMemory) CreateAnalysis(_ context.Context, rec *Record) error {
	cp := *rec
	m.mu.Lock()
	m.analyses = append(m.analyses, &cp)
	m.mu.Unlock()
	return nil
}

// ListAnalysesByUser returns the user's analyses, most recent first.
func (m *InMemory) ListAnalysesByUser(_ context.Context, userID string, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, limit)
	for i := len(m.analyses) - 1; i >= 0; i-- {
		if m.analyses[i].UserID != userID {
			continue
		}
		cp := *m.analyses[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// CreatePrediction stores a crop prediction record.
func (m *InMemory) CreatePrediction(_ context.Context, rec *PredictionRecord) error {
	cp := *rec
	m.mu.Lock()
	m.predictions = append(m.predictions, &cp)
	m.mu.Unlock()
	return nil
}

// ListPredictionsByFarmer returns the farmer's predictions, most recent first.
func (m *InMemory) ListPredictionsByFarmer(_ context.Context, farmerID string, limit int) ([]*PredictionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PredictionRecord, 0, limit)
	for i := len(m.predictions) - 1; i >= 0; i-- {
		if m.predictions[i].FarmerID != farmerID {
			continue
		}
		cp := *m.predictions[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
