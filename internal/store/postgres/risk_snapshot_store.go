package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// RiskSnapshotStore implements domain.RiskSnapshotStore. Every risk update
// appends a row; Latest reads the newest.
type RiskSnapshotStore struct {
	pool *pgxpool.Pool
}

// NewRiskSnapshotStore creates a RiskSnapshotStore backed by pool.
func NewRiskSnapshotStore(pool *pgxpool.Pool) *RiskSnapshotStore {
	return &RiskSnapshotStore{pool: pool}
}

// Save appends st.
func (s *RiskSnapshotStore) Save(ctx context.Context, st domain.RiskState) error {
	const query = `
		INSERT INTO risk_snapshots (
			start_equity, peak_equity, trough_equity, equity, daily_pnl,
			drawdown, last_reset_date, emergency_stop, stopped_at, updated_at
		) VALUES (
			$1::text::numeric, $2::text::numeric, $3::text::numeric, $4::text::numeric, $5::text::numeric,
			$6, $7, $8, $9, $10
		)`
	_, err := s.pool.Exec(ctx, query,
		decText(st.StartEquity), decText(st.PeakEquity), decText(st.TroughEquity),
		decText(st.Equity), decText(st.DailyPnL),
		st.Drawdown, st.LastResetDate, st.EmergencyStop, utcPtr(st.StoppedAt), st.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: save risk snapshot: %w", err)
	}
	return nil
}

// Latest returns the newest snapshot or domain.ErrNotFound.
func (s *RiskSnapshotStore) Latest(ctx context.Context) (domain.RiskState, error) {
	var (
		st                                 domain.RiskState
		start, peak, trough, equity, daily string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT start_equity::text, peak_equity::text, trough_equity::text, equity::text, daily_pnl::text,
		       drawdown, last_reset_date, emergency_stop, stopped_at, updated_at
		FROM risk_snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&start, &peak, &trough, &equity, &daily,
		&st.Drawdown, &st.LastResetDate, &st.EmergencyStop, &st.StoppedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RiskState{}, fmt.Errorf("postgres: latest risk snapshot: %w", domain.ErrNotFound)
		}
		return domain.RiskState{}, fmt.Errorf("postgres: latest risk snapshot: %w", err)
	}

	if st.StartEquity, err = parseDec(start); err != nil {
		return domain.RiskState{}, err
	}
	if st.PeakEquity, err = parseDec(peak); err != nil {
		return domain.RiskState{}, err
	}
	if st.TroughEquity, err = parseDec(trough); err != nil {
		return domain.RiskState{}, err
	}
	if st.Equity, err = parseDec(equity); err != nil {
		return domain.RiskState{}, err
	}
	if st.DailyPnL, err = parseDec(daily); err != nil {
		return domain.RiskState{}, err
	}
	return st, nil
}

var _ domain.RiskSnapshotStore = (*RiskSnapshotStore)(nil)
