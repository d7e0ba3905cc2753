// Package market is the food marketplace: farmers list produce, anyone
// browses it.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nutriguard.org/internal/ids"
)

var (
	// ErrNotFound reports a food item that does not exist.
	ErrNotFound = errors.New("market: food item not found")
	// ErrInvalidItem reports a listing that fails validation.
	ErrInvalidItem = errors.New("market: invalid food item")
)

// FoodItem is one marketplace listing.
type FoodItem struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Category        string            `json:"category"`
	NutritionalInfo map[string]string `json:"nutritional_info,omitempty"`
	PricePerKg      float64           `json:"price_per_kg"`
	AvailabilityKg  int               `json:"availability"`
	FarmerID        string            `json:"farmer_id"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Store persists marketplace listings.
type Store interface {
	CreateItem(ctx context.Context, item *FoodItem) error
	FindItem(ctx context.Context, id string) (*FoodItem, error)
	ListItems(ctx context.Context, category string, limit int) ([]*FoodItem, error)
}

// ListingRequest is the farmer-supplied portion of a new listing.
type ListingRequest struct {
	Name            string            `json:"name"`
	Category        string            `json:"category"`
	NutritionalInfo map[string]string `json:"nutritional_info,omitempty"`
	PricePerKg      float64           `json:"price_per_kg"`
	AvailabilityKg  int               `json:"availability"`
}

// Service validates and records marketplace listings.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption customizes Service construction.
type ServiceOption func(*Service)

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a marketplace service over the given store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List records a new listing owned by the farmer.
func (s *Service) List(ctx context.Context, farmerID string, req ListingRequest) (*FoodItem, error) {
	name := strings.TrimSpace(req.Name)
	category := strings.TrimSpace(req.Category)
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidItem)
	case category == "":
		return nil, fmt.Errorf("%w: category is required", ErrInvalidItem)
	case req.PricePerKg < 0:
		return nil, fmt.Errorf("%w: price_per_kg must not be negative", ErrInvalidItem)
	case req.AvailabilityKg < 0:
		return nil, fmt.Errorf("%w: availability must not be negative", ErrInvalidItem)
	}

	item := &FoodItem{
		ID:              ids.New(),
		Name:            name,
		Category:        strings.ToLower(category),
		NutritionalInfo: req.NutritionalInfo,
		PricePerKg:      req.PricePerKg,
		AvailabilityKg:  req.AvailabilityKg,
		FarmerID:        farmerID,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Item returns one listing by id.
func (s *Service) Item(ctx context.Context, id string) (*FoodItem, error) {
	return s.store.FindItem(ctx, id)
}

// Browse lists items, optionally filtered by category, newest first.
func (s *Service) Browse(ctx context.Context, category string, limit int) ([]*FoodItem, error) {
	return s.store.ListItems(ctx, strings.ToLower(strings.TrimSpace(category)), limit)
}
