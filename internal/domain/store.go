package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	UpdateTrailing(ctx context.Context, id string, t Trailing) error
	Close(ctx context.Context, pos Position) error
	GetOpen(ctx context.Context) ([]Position, error)
	GetByID(ctx context.Context, id string) (Position, error)
}

// HistoryStore persists the append-only execution history.
type HistoryStore interface {
	Append(ctx context.Context, rec ExecutionRecord) error
	List(ctx context.Context, opts ListOpts) ([]ExecutionRecord, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]ExecutionRecord, error)
}

// RiskSnapshotStore persists risk governor snapshots.
type RiskSnapshotStore interface {
	Save(ctx context.Context, st RiskState) error
	Latest(ctx context.Context) (RiskState, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
