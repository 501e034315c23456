package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, side, category, order_id, quantity,
	entry_price, size_usd::text, bait_amount::text, expected_profit::text,
	entry_consciousness, entry_confidence, open_time, status, trailing,
	close_reason, close_price, close_time, realized_pnl::text`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                        domain.Position
		side, status, reason     string
		size, bait, expected, pl string
		trailing                 []byte
	)
	if err := row.Scan(
		&p.ID, &p.Symbol, &side, &p.Category, &p.OrderID, &p.Quantity,
		&p.EntryPrice, &size, &bait, &expected,
		&p.EntryConsciousness, &p.EntryConfidence, &p.OpenTime, &status, &trailing,
		&reason, &p.ClosePrice, &p.CloseTime, &pl,
	); err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.CloseReason(reason)

	var err error
	if p.SizeUSD, err = parseDec(size); err != nil {
		return domain.Position{}, err
	}
	if p.BaitAmount, err = parseDec(bait); err != nil {
		return domain.Position{}, err
	}
	if p.ExpectedProfit, err = parseDec(expected); err != nil {
		return domain.Position{}, err
	}
	if p.RealizedPnL, err = parseDec(pl); err != nil {
		return domain.Position{}, err
	}
	if len(trailing) > 0 {
		if err := json.Unmarshal(trailing, &p.Trailing); err != nil {
			return domain.Position{}, err
		}
	}
	return p, nil
}

// Create inserts an opened position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	trailing, err := json.Marshal(p.Trailing)
	if err != nil {
		return fmt.Errorf("postgres: marshal trailing %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO positions (
			id, symbol, side, category, order_id, quantity,
			entry_price, size_usd, bait_amount, expected_profit,
			entry_consciousness, entry_confidence, open_time, status, trailing
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8::text::numeric, $9::text::numeric, $10::text::numeric,
			$11, $12, $13, $14, $15
		)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Symbol, string(p.Side), p.Category, p.OrderID, p.Quantity,
		p.EntryPrice, decText(p.SizeUSD), decText(p.BaitAmount), decText(p.ExpectedProfit),
		p.EntryConsciousness, p.EntryConfidence, p.OpenTime.UTC(), string(p.Status), trailing,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// UpdateTrailing stores the trailing-stop state of an active position.
func (s *PositionStore) UpdateTrailing(ctx context.Context, id string, t domain.Trailing) error {
	trailing, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("postgres: marshal trailing %s: %w", id, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET trailing = $2, updated_at = NOW() WHERE id = $1 AND status = 'ACTIVE'`,
		id, trailing)
	if err != nil {
		return fmt.Errorf("postgres: update trailing %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update trailing %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Close records the close of p. Closing twice is a no-op.
func (s *PositionStore) Close(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			status       = $2,
			close_reason = $3,
			close_price  = $4,
			close_time   = $5,
			realized_pnl = $6::text::numeric,
			updated_at   = NOW()
		WHERE id = $1 AND status <> 'CLOSED'`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, string(domain.PositionStatusClosed), string(p.CloseReason),
		p.ClosePrice, utcPtr(p.CloseTime), decText(p.RealizedPnL),
	)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM positions WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: close position %s: %w", p.ID, err)
		}
		if !exists {
			return fmt.Errorf("postgres: close position %s: %w", p.ID, domain.ErrNotFound)
		}
	}
	return nil
}

// GetOpen returns every position not yet closed, oldest first.
func (s *PositionStore) GetOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE status <> 'CLOSED' ORDER BY open_time`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open positions: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get open positions rows: %w", err)
	}
	return out, nil
}

// GetByID retrieves one position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
