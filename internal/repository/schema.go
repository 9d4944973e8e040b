package repository

// Schema definitions for FareHawk.
// Compatible with both SQLite and PostgreSQL.

// Trips keep their pickup time as unix milliseconds and the pickup hour so
// that range, sort and time-of-day filters stay driver independent.
// seq records ingestion order per tenant.
const schemaTrips = `
CREATE TABLE IF NOT EXISTS trips (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    seq BIGINT NOT NULL,
    pickup_unix BIGINT NOT NULL,
    pickup_hour INTEGER NOT NULL,
    distance_km DOUBLE PRECISION NOT NULL,
    duration_min DOUBLE PRECISION NOT NULL,
    fare DOUBLE PRECISION NOT NULL,
    speed_kmh DOUBLE PRECISION NOT NULL,
    passengers INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_trips_seq ON trips(tenant_id, seq);
CREATE INDEX IF NOT EXISTS idx_trips_pickup ON trips(tenant_id, pickup_unix);
CREATE INDEX IF NOT EXISTS idx_trips_hour ON trips(tenant_id, pickup_hour);
`

const schemaHeuristicRules = `
CREATE TABLE IF NOT EXISTS heuristic_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    expression TEXT NOT NULL,
    type TEXT NOT NULL,
    reason TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_heuristic_rules_enabled ON heuristic_rules(tenant_id, enabled);
`

// detection_runs stores the full report as JSON; the scalar columns exist for
// listing without decoding it.
const schemaDetectionRuns = `
CREATE TABLE IF NOT EXISTS detection_runs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    anomaly_count INTEGER NOT NULL,
    total_analyzed INTEGER NOT NULL,
    elapsed_ms DOUBLE PRECISION NOT NULL,
    report TEXT NOT NULL,
    trace_id TEXT NOT NULL DEFAULT '',
    created_unix BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detection_runs_tenant ON detection_runs(tenant_id, created_unix);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTrips,
		schemaHeuristicRules,
		schemaDetectionRuns,
	}
}
