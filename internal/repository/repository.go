// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/farehawk/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with SQLite, lib/pq and pgx.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	case "pgx":
		db, err = openPgx(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const tripColumns = `id, tenant_id, pickup_unix, distance_km, duration_min, fare, speed_kmh, passengers, created_at`

// SaveTrips stores a batch of trips in one transaction.
// Re-ingesting an id overwrites its values but keeps its original position.
func (r *SQLRepository) SaveTrips(ctx context.Context, tenantID string, trips []*domain.Trip) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(trips) == 0 {
		return nil
	}
	for _, t := range trips {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		r.rebind(`SELECT COALESCE(MAX(seq), 0) FROM trips WHERE tenant_id = ?`), tenantID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("failed to read trip sequence: %w", err)
	}

	query := `
		INSERT INTO trips (
			id, tenant_id, seq, pickup_unix, pickup_hour,
			distance_km, duration_min, fare, speed_kmh, passengers, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			pickup_unix = excluded.pickup_unix,
			pickup_hour = excluded.pickup_hour,
			distance_km = excluded.distance_km,
			duration_min = excluded.duration_min,
			fare = excluded.fare,
			speed_kmh = excluded.speed_kmh,
			passengers = excluded.passengers
	`

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return fmt.Errorf("failed to prepare trip insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, t := range trips {
		seq++
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		ts := t.Timestamp.UTC()

		if _, err := stmt.ExecContext(ctx,
			t.ID, tenantID, seq, ts.UnixMilli(), ts.Hour(),
			t.DistanceKm, t.DurationMin, t.Fare, t.SpeedKmh, t.Passengers, createdAt,
		); err != nil {
			return fmt.Errorf("failed to save trip %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// GetTrip retrieves a trip by ID with tenant isolation.
func (r *SQLRepository) GetTrip(ctx context.Context, tenantID string, tripID string) (*domain.Trip, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + tripColumns + ` FROM trips WHERE tenant_id = ? AND id = ?`

	t, err := scanTrip(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, tripID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTrips retrieves the trips matching filter.
func (r *SQLRepository) ListTrips(ctx context.Context, tenantID string, filter domain.TripFilter) ([]*domain.Trip, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	where, args, err := tripWhere(tenantID, filter)
	if err != nil {
		return nil, err
	}
	order, err := tripOrder(filter)
	if err != nil {
		return nil, err
	}

	return r.queryTrips(ctx, `SELECT `+tripColumns+` FROM trips`+where+order, args...)
}

// CountTrips counts the trips matching filter, ignoring sort and pagination.
func (r *SQLRepository) CountTrips(ctx context.Context, tenantID string, filter domain.TripFilter) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	where, args, err := tripWhere(tenantID, filter)
	if err != nil {
		return 0, err
	}

	var n int
	if err := r.db.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM trips`+where), args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// AllTrips returns the tenant's complete collection in ingestion order.
func (r *SQLRepository) AllTrips(ctx context.Context, tenantID string) ([]*domain.Trip, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + tripColumns + ` FROM trips WHERE tenant_id = ? ORDER BY seq ASC`
	return r.queryTrips(ctx, query, tenantID)
}

func (r *SQLRepository) queryTrips(ctx context.Context, query string, args ...any) ([]*domain.Trip, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trips := make([]*domain.Trip, 0)
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}

	return trips, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*domain.Trip, error) {
	var t domain.Trip
	var pickup int64

	if err := row.Scan(
		&t.ID, &t.TenantID, &pickup,
		&t.DistanceKm, &t.DurationMin, &t.Fare, &t.SpeedKmh, &t.Passengers,
		&t.CreatedAt,
	); err != nil {
		return nil, err
	}

	t.Timestamp = time.UnixMilli(pickup).UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

// SaveHeuristicRule stores an operator rule with tenant isolation.
func (r *SQLRepository) SaveHeuristicRule(ctx context.Context, tenantID string, rule *domain.HeuristicRuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO heuristic_rules (
			id, tenant_id, name, description, expression, type, reason, priority, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			type = excluded.type,
			reason = excluded.reason,
			priority = excluded.priority,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Expression, string(rule.Type), rule.Reason, rule.Priority, enabled,
		now, now,
	)
	return err
}

// ListHeuristicRules returns every stored rule for a tenant, enabled or not,
// in evaluation order.
func (r *SQLRepository) ListHeuristicRules(ctx context.Context, tenantID string) ([]*domain.HeuristicRuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, type, reason, priority, enabled, created_at, updated_at
		FROM heuristic_rules
		WHERE tenant_id = ?
		ORDER BY priority, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.HeuristicRuleConfig
	for rows.Next() {
		var cfg domain.HeuristicRuleConfig
		var typ string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Expression, &typ, &cfg.Reason, &cfg.Priority, &enabled,
			&cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, err
		}

		cfg.Type = domain.AnomalyType(typ)
		cfg.Enabled = enabled == 1
		rules = append(rules, &cfg)
	}

	return rules, rows.Err()
}

// DeleteHeuristicRule removes a rule.
func (r *SQLRepository) DeleteHeuristicRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx,
		r.rebind(`DELETE FROM heuristic_rules WHERE tenant_id = ? AND id = ?`), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveDetectionRun stores a completed run with tenant isolation.
func (r *SQLRepository) SaveDetectionRun(ctx context.Context, tenantID string, run *domain.DetectionRun) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	report, err := json.Marshal(run.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO detection_runs (
			id, tenant_id, anomaly_count, total_analyzed, elapsed_ms, report, trace_id, created_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		run.ID, tenantID, run.Report.Count(), run.Report.TotalAnalyzed, run.Report.ElapsedMs,
		string(report), run.TraceID, createdAt.UnixNano(),
	)
	return err
}

const runColumns = `id, tenant_id, report, trace_id, created_unix`

// GetDetectionRun retrieves a run by ID with tenant isolation.
func (r *SQLRepository) GetDetectionRun(ctx context.Context, tenantID string, runID string) (*domain.DetectionRun, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + runColumns + ` FROM detection_runs WHERE tenant_id = ? AND id = ?`
	return r.scanRun(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID))
}

// LatestDetectionRun retrieves the most recent run for a tenant.
func (r *SQLRepository) LatestDetectionRun(ctx context.Context, tenantID string) (*domain.DetectionRun, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + runColumns + `
		FROM detection_runs
		WHERE tenant_id = ?
		ORDER BY created_unix DESC
		LIMIT 1
	`
	return r.scanRun(r.db.QueryRowContext(ctx, r.rebind(query), tenantID))
}

func (r *SQLRepository) scanRun(row rowScanner) (*domain.DetectionRun, error) {
	var run domain.DetectionRun
	var report string
	var created int64

	err := row.Scan(&run.ID, &run.TenantID, &report, &run.TraceID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(report), &run.Report); err != nil {
		return nil, fmt.Errorf("failed to parse report for run %s: %w", run.ID, err)
	}
	run.CreatedAt = time.Unix(0, created).UTC()

	return &run, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL drivers.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" && r.driver != "pgx" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
