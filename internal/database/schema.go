package database

import "strings"

// Schema is an ordered list of idempotent DDL statements. The token
// {{timestamp}} expands to the driver's timestamp column type.
type Schema []string

func (s Schema) statements(driver string) []string {
	ts := "TIMESTAMP"
	if driver == DriverPostgres {
		ts = "TIMESTAMPTZ"
	}
	out := make([]string, len(s))
	for i, stmt := range s {
		out[i] = strings.ReplaceAll(stmt, "{{timestamp}}", ts)
	}
	return out
}

// AgentSchema backs the on-device store: the pending event queue and the
// key/value table used for optimistic state and cached responses.
var AgentSchema = Schema{
	`CREATE TABLE IF NOT EXISTS pending_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_attempt INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_events_timestamp ON pending_events(timestamp, seq)`,
	`CREATE TABLE IF NOT EXISTS local_state (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// ServerSchema backs the visit API. The partial unique index on open visits
// is what holds the one-open-visit-per-user rule under concurrency.
var ServerSchema = Schema{
	`CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT,
		phone TEXT,
		email TEXT,
		nif TEXT,
		created_at {{timestamp}} NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_name ON companies (LOWER(name))`,
	`CREATE TABLE IF NOT EXISTS technologies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at {{timestamp}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS visits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		company_id TEXT REFERENCES companies(id),
		check_in_at {{timestamp}} NOT NULL,
		check_in_lat DOUBLE PRECISION,
		check_in_lng DOUBLE PRECISION,
		check_in_no_gps_reason TEXT,
		check_out_at {{timestamp}},
		check_out_lat DOUBLE PRECISION,
		check_out_lng DOUBLE PRECISION,
		check_out_no_gps_reason TEXT,
		duration_seconds BIGINT,
		created_at {{timestamp}} NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_visits_one_open ON visits(user_id) WHERE check_out_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_visits_user_check_in ON visits(user_id, check_in_at)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		company_id TEXT NOT NULL REFERENCES companies(id),
		technology_id TEXT NOT NULL REFERENCES technologies(id),
		visit_id TEXT REFERENCES visits(id),
		value_cents BIGINT,
		notes TEXT,
		created_at {{timestamp}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		action TEXT NOT NULL,
		ip TEXT,
		user_agent TEXT,
		metadata TEXT,
		created_at {{timestamp}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action, created_at)`,
}
