package payments

import (
	"context"
	"sync"
	"time"
)

// InMemory keeps donations in process memory for tests and database-less
// deployments.
type InMemory struct {
	mu        sync.RWMutex
	donations []*Donation
	byRef     map[string]*Donation
}

// NewInMemory builds an empty in-memory donation store.
func NewInMemory() *InMemory {
	return &InMemory{byRef: make(map[string]*Donation)}
}

var _ DonationStore = (*InMemory)(nil)

// CreateDonation stores a donation.
func (m *InMemory) CreateDonation(_ context.Context, d *Donation) error {
	cp := *d
	m.mu.Lock()
	m.donations = append(m.donations, &cp)
	if cp.Reference != "" {
		m.byRef[cp.Reference] = &cp
	}
	m.mu.Unlock()
	return nil
}

// FindDonationByReference looks a donation up by its gateway api_ref.
func (m *InMemory) FindDonationByReference(_ context.Context, reference string) (*Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byRef[reference]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// UpdateDonationStatus applies a state transition to the donation.
func (m *InMemory) UpdateDonationStatus(_ context.Context, id string, status Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.donations {
		if d.ID == id {
			d.Status = status
			d.UpdatedAt = at
			if d.Reference != "" {
				m.byRef[d.Reference] = d
			}
			return nil
		}
	}
	return ErrNotFound
}

// ListDonationsByDonor returns the donor's donations, most recent first.
func (m *InMemory) ListDonationsByDonor(_ context.Context, donorID string, limit int) ([]*Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Donation, 0, limit)
	for i := len(m.donations) - 1; i >= 0; i-- {
		if m.donations[i].DonorID != donorID {
			continue
		}
		cp := *m.donations[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListDonations returns donations, most recent first; limit zero means all.
func (m *InMemory) ListDonations(_ context.Context, limit int) ([]*Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Donation, 0, len(m.donations))
	for i := len(m.donations) - 1; i >= 0; i-- {
		cp := *m.donations[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
