package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leverbot/leverbot/internal/domain"
)

// OrderStore is an in-memory domain.OrderStore.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

// NewOrderStore returns an empty store.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]domain.Order)}
}

// Create inserts a new order.
func (s *OrderStore) Create(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.orders[order.ID] = order
	return nil
}

// GetByID returns one order.
func (s *OrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

// GetByClientOrderID finds an order by its client-assigned id.
func (s *OrderStore) GetByClientOrderID(_ context.Context, clientOrderID string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ClientOrderID == clientOrderID {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

// UpdateStatus sets the order status.
func (s *OrderStore) UpdateStatus(_ context.Context, id string, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = o
	return nil
}

// UpdateLimitPrice sets the order limit price.
func (s *OrderStore) UpdateLimitPrice(_ context.Context, id string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.LimitPrice = price
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = o
	return nil
}

// ListByPosition returns all orders submitted for one position, oldest first.
func (s *OrderStore) ListByPosition(_ context.Context, positionID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.PositionID == positionID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
