package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leverbot/leverbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, client_order_id, position_id, venue, symbol,
	side, intent, amount, limit_price, status, created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side, intent, status string
	var amountStr *string

	err := row.Scan(
		&o.ID, &o.ClientOrderID, &o.PositionID, &o.Venue, &o.Symbol,
		&side, &intent, &amountStr, &o.LimitPrice, &status,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Intent = domain.FillIntent(intent)
	o.Status = domain.OrderStatus(status)
	if amountStr != nil {
		o.Amount = new(big.Int)
		o.Amount.SetString(*amountStr, 10)
	}
	return o, nil
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, client_order_id, position_id, venue, symbol,
			side, intent, amount, limit_price, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.ClientOrderID, o.PositionID, o.Venue, o.Symbol,
		string(o.Side), string(o.Intent), amountString(o.Amount),
		o.LimitPrice, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// GetByID returns one order.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+orderSelectCols+" FROM orders WHERE id = $1", id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("postgres: order %s: %w", id, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// GetByClientOrderID returns one order by its client-assigned id.
func (s *OrderStore) GetByClientOrderID(ctx context.Context, clientOrderID string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+orderSelectCols+" FROM orders WHERE client_order_id = $1", clientOrderID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("postgres: order by client id %s: %w", clientOrderID, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("postgres: get order by client id %s: %w", clientOrderID, err)
	}
	return o, nil
}

// UpdateStatus transitions an order's lifecycle state.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1",
		id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update order %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order %s status: %w", id, domain.ErrNotFound)
	}
	return nil
}

// UpdateLimitPrice records a venue-side limit price change.
func (s *OrderStore) UpdateLimitPrice(ctx context.Context, id string, price float64) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE orders SET limit_price = $2, updated_at = NOW() WHERE id = $1",
		id, price)
	if err != nil {
		return fmt.Errorf("postgres: update order %s limit price: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order %s limit price: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListByPosition returns every order submitted for one position.
func (s *OrderStore) ListByPosition(ctx context.Context, positionID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+orderSelectCols+" FROM orders WHERE position_id = $1 ORDER BY created_at",
		positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", positionID, err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

var _ domain.OrderStore = (*OrderStore)(nil)
