// Package memory implements the domain store interfaces with in-process maps.
// It backs paper-trading mode and tests; the postgres package is the
// production implementation.
package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/leverbot/leverbot/internal/domain"
)

// PositionStore is an in-memory domain.PositionStore. Safe for concurrent
// use. Positions are deep-copied at the boundary so callers cannot mutate
// stored state behind the store's back.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// NewPositionStore returns an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

func clonePosition(p domain.Position) domain.Position {
	cp := p
	if p.Amount != nil {
		cp.Amount = new(big.Int).Set(p.Amount)
	}
	cp.Fills = make([]domain.AppliedFill, len(p.Fills))
	copy(cp.Fills, p.Fills)
	return cp
}

// Create inserts a new position.
func (s *PositionStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.positions[pos.ID] = clonePosition(pos)
	return nil
}

// Update replaces a stored position.
func (s *PositionStore) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	s.positions[pos.ID] = clonePosition(pos)
	return nil
}

// GetByID returns one position.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return clonePosition(p), nil
}

func (s *PositionStore) filter(keep func(domain.Position) bool) []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, p := range s.positions {
		if keep(p) {
			out = append(out, clonePosition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetOpen returns all open positions.
func (s *PositionStore) GetOpen(_ context.Context) ([]domain.Position, error) {
	return s.filter(func(p domain.Position) bool {
		return p.Status == domain.PositionStatusOpen
	}), nil
}

// GetOpenByVenue returns open positions for one venue.
func (s *PositionStore) GetOpenByVenue(_ context.Context, venue string) ([]domain.Position, error) {
	return s.filter(func(p domain.Position) bool {
		return p.Status == domain.PositionStatusOpen && p.Venue == venue
	}), nil
}

// FindOpenBySymbol returns created or open positions for an instrument across
// venues.
func (s *PositionStore) FindOpenBySymbol(_ context.Context, symbol string) ([]domain.Position, error) {
	return s.filter(func(p domain.Position) bool {
		return p.Symbol == symbol && p.Status != domain.PositionStatusClosed
	}), nil
}

// CountActive counts created plus open positions.
func (s *PositionStore) CountActive(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.positions {
		if p.Status != domain.PositionStatusClosed {
			n++
		}
	}
	return n, nil
}

// CountActiveByVenue counts created plus open positions on one venue.
func (s *PositionStore) CountActiveByVenue(_ context.Context, venue string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.positions {
		if p.Venue == venue && p.Status != domain.PositionStatusClosed {
			n++
		}
	}
	return n, nil
}

// ListClosedBefore returns closed positions with closed_at before cutoff.
func (s *PositionStore) ListClosedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	out := s.filter(func(p domain.Position) bool {
		return p.Status == domain.PositionStatusClosed && p.ClosedAt != nil && p.ClosedAt.Before(cutoff)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a position.
func (s *PositionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.positions, id)
	return nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
