package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leverbot/leverbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. The amount
// column is TEXT so integer amounts round-trip exactly; the fill ledger lives
// in position_fills and is append-only.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, venue, symbol, kind, direction, amount,
	filled_size, remaining_size, entry_price, current_price,
	stop_loss, take_profit, realized_pnl, leverage, status,
	exit_requested, trail_count, last_trail_at,
	created_at, opened_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var kind, direction, status string
	var amountStr *string

	err := row.Scan(
		&p.ID, &p.Venue, &p.Symbol, &kind, &direction, &amountStr,
		&p.FilledSize, &p.RemainingSize, &p.EntryPrice, &p.CurrentPrice,
		&p.StopLoss, &p.TakeProfit, &p.RealizedPnL, &p.Leverage, &status,
		&p.ExitRequested, &p.TrailCount, &p.LastTrailAt,
		&p.CreatedAt, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Kind = domain.PositionKind(kind)
	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	if amountStr != nil {
		p.Amount = new(big.Int)
		p.Amount.SetString(*amountStr, 10)
	}
	return p, nil
}

func amountString(a *big.Int) *string {
	if a == nil {
		return nil
	}
	v := a.String()
	return &v
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, venue, symbol, kind, direction, amount,
			filled_size, remaining_size, entry_price, current_price,
			stop_loss, take_profit, realized_pnl, leverage, status,
			exit_requested, trail_count, last_trail_at,
			created_at, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18,
			$19, $20, $21, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Venue, p.Symbol, string(p.Kind), string(p.Direction), amountString(p.Amount),
		p.FilledSize, p.RemainingSize, p.EntryPrice, p.CurrentPrice,
		p.StopLoss, p.TakeProfit, p.RealizedPnL, p.Leverage, string(p.Status),
		p.ExitRequested, p.TrailCount, p.LastTrailAt,
		p.CreatedAt, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields and appends any new ledger entries.
// Existing ledger rows are never rewritten.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin update for %s: %w", p.ID, err)
	}
	defer tx.Rollback(ctx)

	const query = `
		UPDATE positions SET
			direction      = $2,
			amount         = $3,
			filled_size    = $4,
			remaining_size = $5,
			entry_price    = $6,
			current_price  = $7,
			stop_loss      = $8,
			take_profit    = $9,
			realized_pnl   = $10,
			leverage       = $11,
			status         = $12,
			exit_requested = $13,
			trail_count    = $14,
			last_trail_at  = $15,
			opened_at      = $16,
			closed_at      = $17,
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := tx.Exec(ctx, query,
		p.ID, string(p.Direction), amountString(p.Amount),
		p.FilledSize, p.RemainingSize, p.EntryPrice, p.CurrentPrice,
		p.StopLoss, p.TakeProfit, p.RealizedPnL, p.Leverage, string(p.Status),
		p.ExitRequested, p.TrailCount, p.LastTrailAt,
		p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, domain.ErrNotFound)
	}

	const insertFill = `
		INSERT INTO position_fills (fill_id, position_id, order_id, size, price, realized_pnl, side, intent, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (fill_id) DO NOTHING`
	for _, f := range p.Fills {
		if _, err := tx.Exec(ctx, insertFill,
			f.FillID, p.ID, f.OrderID, f.Size, f.Price, f.RealizedPnL,
			string(f.Side), string(f.Intent), f.Timestamp,
		); err != nil {
			return fmt.Errorf("postgres: append fill %s: %w", f.FillID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit update for %s: %w", p.ID, err)
	}
	return nil
}

// GetByID returns one position with its fill ledger.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+positionSelectCols+" FROM positions WHERE id = $1", id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}

	fills, err := s.loadFills(ctx, id)
	if err != nil {
		return domain.Position{}, err
	}
	p.Fills = fills
	return p, nil
}

func (s *PositionStore) loadFills(ctx context.Context, positionID string) ([]domain.AppliedFill, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fill_id, order_id, size, price, realized_pnl, side, intent, ts
		FROM position_fills WHERE position_id = $1 ORDER BY ts, fill_id`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load fills for %s: %w", positionID, err)
	}
	defer rows.Close()

	var fills []domain.AppliedFill
	for rows.Next() {
		var f domain.AppliedFill
		var side, intent string
		if err := rows.Scan(&f.FillID, &f.OrderID, &f.Size, &f.Price, &f.RealizedPnL, &side, &intent, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.Side = domain.OrderSide(side)
		f.Intent = domain.FillIntent(intent)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

func (s *PositionStore) queryPositions(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate positions: %w", err)
	}

	// Monitor and reconciliation paths need the ledgers.
	for i := range out {
		fills, err := s.loadFills(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Fills = fills
	}
	return out, nil
}

// GetOpen returns all open positions.
func (s *PositionStore) GetOpen(ctx context.Context) ([]domain.Position, error) {
	return s.queryPositions(ctx,
		"SELECT "+positionSelectCols+" FROM positions WHERE status = $1 ORDER BY created_at",
		string(domain.PositionStatusOpen))
}

// GetOpenByVenue returns open positions on one venue.
func (s *PositionStore) GetOpenByVenue(ctx context.Context, venue string) ([]domain.Position, error) {
	return s.queryPositions(ctx,
		"SELECT "+positionSelectCols+" FROM positions WHERE status = $1 AND venue = $2 ORDER BY created_at",
		string(domain.PositionStatusOpen), venue)
}

// FindOpenBySymbol returns open or created positions for an instrument across
// all venues.
func (s *PositionStore) FindOpenBySymbol(ctx context.Context, symbol string) ([]domain.Position, error) {
	return s.queryPositions(ctx,
		"SELECT "+positionSelectCols+" FROM positions WHERE symbol = $1 AND status IN ($2, $3) ORDER BY created_at",
		symbol, string(domain.PositionStatusCreated), string(domain.PositionStatusOpen))
}

// CountActive counts created plus open positions.
func (s *PositionStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM positions WHERE status IN ($1, $2)",
		string(domain.PositionStatusCreated), string(domain.PositionStatusOpen),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count active positions: %w", err)
	}
	return n, nil
}

// CountActiveByVenue counts created plus open positions on one venue.
func (s *PositionStore) CountActiveByVenue(ctx context.Context, venue string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM positions WHERE venue = $1 AND status IN ($2, $3)",
		venue, string(domain.PositionStatusCreated), string(domain.PositionStatusOpen),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count active positions on %s: %w", venue, err)
	}
	return n, nil
}

// ListClosedBefore returns closed positions whose closed_at is strictly
// before the cutoff.
func (s *PositionStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryPositions(ctx,
		"SELECT "+positionSelectCols+" FROM positions WHERE status = $1 AND closed_at < $2 ORDER BY closed_at LIMIT $3",
		string(domain.PositionStatusClosed), cutoff, limit)
}

// Delete removes a position and, via cascade, its fill ledger.
func (s *PositionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM positions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
