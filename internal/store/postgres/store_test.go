package postgres

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/qbtc?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "qbtc"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestListClause(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := listClause("SELECT 1 FROM t WHERE 1=1", nil, "close_time",
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20})
	assert.Equal(t, "SELECT 1 FROM t WHERE 1=1 AND close_time >= $1 ORDER BY close_time DESC LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{since, 10, 20}, args)

	q, args = listClause("SELECT 1 FROM t WHERE 1=1", nil, "created_at", domain.ListOpts{})
	assert.Equal(t, "SELECT 1 FROM t WHERE 1=1 ORDER BY created_at DESC", q)
	assert.Empty(t, args)
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])

	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	for _, table := range []string{"positions", "execution_history", "risk_snapshots", "audit_log"} {
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestDecimalText(t *testing.T) {
	d := decimal.RequireFromString("12.34500000")
	back, err := parseDec(decText(d))
	require.NoError(t, err)
	assert.True(t, d.Equal(back))

	zero, err := parseDec("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}
