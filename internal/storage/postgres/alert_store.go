// Package postgres provides the TimescaleDB-backed persistence gateway for
// whale alerts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/whale-sentinel/internal/whale"
)

// uniqueViolation is the Postgres error code for a unique-constraint breach.
const uniqueViolation = "23505"

// AlertStoreConfig controls the Postgres connection pool used for alert rows.
type AlertStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// AlertStore writes and reads whale alert rows in a TimescaleDB hypertable.
type AlertStore struct {
	pool  dbConn
	clock whale.Clock
	ids   whale.IDGenerator
}

// NewAlertStore creates a TimescaleDB-backed AlertStore using the provided config.
func NewAlertStore(ctx context.Context, cfg AlertStoreConfig, clock whale.Clock, ids whale.IDGenerator) (*AlertStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AlertStore{pool: pool, clock: clock, ids: ids}, nil
}

// NewAlertStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewAlertStoreWithPool(pool dbConn, clock whale.Clock, ids whale.IDGenerator) (*AlertStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &AlertStore{pool: pool, clock: clock, ids: ids}, nil
}

// Close releases the underlying pool resources.
func (s *AlertStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InitSchema creates the hypertable and its indexes. Safe to run repeatedly.
func (s *AlertStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS timescaledb`,
		`CREATE TABLE IF NOT EXISTS whale_alerts (
			id UUID NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			blockchain TEXT,
			symbol TEXT NOT NULL,
			amount NUMERIC(36,18) NOT NULL,
			amount_usd NUMERIC(36,2) NOT NULL,
			from_address TEXT,
			to_address TEXT,
			transaction_type TEXT,
			fingerprint VARCHAR(64) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (timestamp, id)
		)`,
		`SELECT create_hypertable('whale_alerts', 'timestamp', if_not_exists => TRUE)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS whale_alerts_ts_fingerprint_idx
			ON whale_alerts (timestamp, fingerprint)`,
		`CREATE INDEX IF NOT EXISTS whale_alerts_symbol_idx ON whale_alerts (symbol, timestamp DESC)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

const insertAlertSQL = `
INSERT INTO whale_alerts (
	id,
	timestamp,
	blockchain,
	symbol,
	amount,
	amount_usd,
	from_address,
	to_address,
	transaction_type,
	fingerprint,
	created_at,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`

// InsertAlert writes one validated record. A unique-constraint violation
// means the alert is already stored: no second row is written and
// whale.ErrDuplicateAlert is returned.
func (s *AlertStore) InsertAlert(ctx context.Context, rec whale.CandidateRecord) (whale.PersistedAlert, error) {
	if s == nil || s.pool == nil {
		return whale.PersistedAlert{}, fmt.Errorf("alert store is not configured")
	}
	if err := rec.Validate(); err != nil {
		return whale.PersistedAlert{}, fmt.Errorf("insert alert: %w", err)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return whale.PersistedAlert{}, fmt.Errorf("generate alert id: %w", err)
	}
	now := s.clock.Now().UTC()

	alert := whale.PersistedAlert{
		ID:              id,
		Timestamp:       rec.Timestamp.UTC(),
		Blockchain:      rec.Blockchain,
		Symbol:          rec.Symbol,
		Amount:          rec.Amount,
		AmountUSD:       rec.AmountUSD,
		FromAddress:     rec.FromAddress,
		ToAddress:       rec.ToAddress,
		TransactionType: rec.TransactionType,
		Fingerprint:     rec.Fingerprint,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	args := []any{
		alert.ID,
		alert.Timestamp,
		alert.Blockchain,
		alert.Symbol,
		alert.Amount,
		alert.AmountUSD,
		alert.FromAddress,
		alert.ToAddress,
		alert.TransactionType,
		alert.Fingerprint,
		alert.CreatedAt,
		alert.UpdatedAt,
	}
	if _, err := s.pool.Exec(ctx, insertAlertSQL, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return whale.PersistedAlert{}, fmt.Errorf("insert alert %s: %w", rec.Fingerprint, whale.ErrDuplicateAlert)
		}
		return whale.PersistedAlert{}, fmt.Errorf("insert alert: %w", err)
	}
	return alert, nil
}

const alertColumns = `id, timestamp, blockchain, symbol, amount, amount_usd,
	from_address, to_address, transaction_type, fingerprint, created_at, updated_at`

// GetAlertByFingerprint returns the stored alert with the given fingerprint,
// or nil when none exists.
func (s *AlertStore) GetAlertByFingerprint(ctx context.Context, fingerprint string) (*whale.PersistedAlert, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("alert store is not configured")
	}
	query := `SELECT ` + alertColumns + ` FROM whale_alerts WHERE fingerprint = $1 LIMIT 1`

	var alert whale.PersistedAlert
	err := s.pool.QueryRow(ctx, query, fingerprint).Scan(
		&alert.ID,
		&alert.Timestamp,
		&alert.Blockchain,
		&alert.Symbol,
		&alert.Amount,
		&alert.AmountUSD,
		&alert.FromAddress,
		&alert.ToAddress,
		&alert.TransactionType,
		&alert.Fingerprint,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert by fingerprint: %w", err)
	}
	return &alert, nil
}

// ListRecentAlerts returns alerts matching the filter, newest first.
func (s *AlertStore) ListRecentAlerts(ctx context.Context, filter whale.AlertFilter) ([]whale.PersistedAlert, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("alert store is not configured")
	}

	var (
		conditions []string
		args       []any
	)
	addCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.Symbol != "" {
		addCondition("LOWER(symbol) = LOWER($%d)", filter.Symbol)
	}
	if filter.Blockchain != "" {
		addCondition("LOWER(blockchain) = LOWER($%d)", filter.Blockchain)
	}
	if filter.MinAmountUSD > 0 {
		addCondition("amount_usd >= $%d", filter.MinAmountUSD)
	}
	if !filter.Since.IsZero() {
		addCondition("timestamp >= $%d", filter.Since.UTC())
	}

	query := `SELECT ` + alertColumns + ` FROM whale_alerts`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []whale.PersistedAlert
	for rows.Next() {
		var alert whale.PersistedAlert
		if err := rows.Scan(
			&alert.ID,
			&alert.Timestamp,
			&alert.Blockchain,
			&alert.Symbol,
			&alert.Amount,
			&alert.AmountUSD,
			&alert.FromAddress,
			&alert.ToAddress,
			&alert.TransactionType,
			&alert.Fingerprint,
			&alert.CreatedAt,
			&alert.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

var validGroupBy = map[string]bool{
	"symbol":           true,
	"blockchain":       true,
	"transaction_type": true,
}

// AlertStats aggregates alerts within the window grouped by symbol,
// blockchain, or transaction_type.
func (s *AlertStore) AlertStats(ctx context.Context, groupBy string, window time.Duration) ([]whale.AlertStat, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("alert store is not configured")
	}
	if !validGroupBy[groupBy] {
		return nil, fmt.Errorf("invalid group_by %q", groupBy)
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	since := s.clock.Now().UTC().Add(-window)

	query := fmt.Sprintf(`
SELECT
	COALESCE(%[1]s, 'unknown') AS grp,
	COUNT(id) AS count,
	COALESCE(SUM(amount), 0) AS total_amount,
	COALESCE(SUM(amount_usd), 0) AS total_amount_usd,
	COALESCE(AVG(amount_usd), 0) AS avg_amount_usd,
	COALESCE(MAX(amount_usd), 0) AS max_amount_usd
FROM whale_alerts
WHERE timestamp >= $1
GROUP BY %[1]s
ORDER BY count DESC`, groupBy)

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("alert stats: %w", err)
	}
	defer rows.Close()

	var stats []whale.AlertStat
	for rows.Next() {
		var stat whale.AlertStat
		if err := rows.Scan(
			&stat.Group,
			&stat.Count,
			&stat.TotalAmount,
			&stat.TotalAmountUSD,
			&stat.AvgAmountUSD,
			&stat.MaxAmountUSD,
		); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("alert stats: %w", err)
	}
	return stats, nil
}
