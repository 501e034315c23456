package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// HistoryStore implements domain.HistoryStore over the append-only
// execution_history table.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a HistoryStore backed by pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

const historySelectCols = `position_id, symbol, side, category, entry_price, close_price,
	size_usd::text, realized_pnl::text, reason, open_time, close_time`

// Append inserts rec. A record for the same position is written once.
func (s *HistoryStore) Append(ctx context.Context, rec domain.ExecutionRecord) error {
	const query = `
		INSERT INTO execution_history (
			position_id, symbol, side, category, entry_price, close_price,
			size_usd, realized_pnl, reason, open_time, close_time
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::text::numeric, $8::text::numeric, $9, $10, $11
		)
		ON CONFLICT (position_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.PositionID, rec.Symbol, string(rec.Side), rec.Category, rec.EntryPrice, rec.ClosePrice,
		decText(rec.SizeUSD), decText(rec.RealizedPnL), string(rec.Reason),
		rec.OpenTime.UTC(), rec.CloseTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: append history %s: %w", rec.PositionID, err)
	}
	return nil
}

// List returns records newest first.
func (s *HistoryStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	query, args := listClause(`SELECT `+historySelectCols+` FROM execution_history WHERE 1=1`, nil, "close_time", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history: %w", err)
	}
	return scanHistory(rows)
}

// ListBetween returns records closed in [from, to), oldest first.
func (s *HistoryStore) ListBetween(ctx context.Context, from, to time.Time) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+historySelectCols+` FROM execution_history
		 WHERE close_time >= $1 AND close_time < $2 ORDER BY close_time`,
		from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: list history between: %w", err)
	}
	return scanHistory(rows)
}

func scanHistory(rows pgx.Rows) ([]domain.ExecutionRecord, error) {
	defer rows.Close()
	var out []domain.ExecutionRecord
	for rows.Next() {
		var (
			r            domain.ExecutionRecord
			side, reason string
			size, pnl    string
		)
		if err := rows.Scan(
			&r.PositionID, &r.Symbol, &side, &r.Category, &r.EntryPrice, &r.ClosePrice,
			&size, &pnl, &reason, &r.OpenTime, &r.CloseTime,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan history: %w", err)
		}
		r.Side = domain.Side(side)
		r.Reason = domain.CloseReason(reason)
		var err error
		if r.SizeUSD, err = parseDec(size); err != nil {
			return nil, fmt.Errorf("postgres: scan history size: %w", err)
		}
		if r.RealizedPnL, err = parseDec(pnl); err != nil {
			return nil, fmt.Errorf("postgres: scan history pnl: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: history rows: %w", err)
	}
	return out, nil
}

var _ domain.HistoryStore = (*HistoryStore)(nil)
