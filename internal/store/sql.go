package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// dialect captures the differences between the supported SQL databases.
type dialect struct {
	name          string
	timestampType string
	serialPK      string
	rebind        func(string) string
}

// schema is rendered per dialect: {{ts}} is the timestamp column type and
// {{serial}} an auto-incrementing primary key.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS storage_resources (
    id        TEXT PRIMARY KEY,
    host_name TEXT NOT NULL,
    port      INTEGER NOT NULL,
    protocols TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS storage_preferences (
    gateway_id                TEXT NOT NULL,
    storage_resource_id       TEXT NOT NULL,
    login_user_name           TEXT NOT NULL,
    file_system_root_location TEXT NOT NULL,
    credential_token          TEXT NOT NULL,
    PRIMARY KEY (gateway_id, storage_resource_id)
)`,
	`CREATE TABLE IF NOT EXISTS group_resource_profiles (
    id                       TEXT PRIMARY KEY,
    default_credential_token TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS ssh_credentials (
    token       TEXT NOT NULL,
    gateway_id  TEXT NOT NULL,
    private_key TEXT NOT NULL,
    passphrase  TEXT NOT NULL,
    PRIMARY KEY (token, gateway_id)
)`,
	`CREATE TABLE IF NOT EXISTS applications (
    id         TEXT PRIMARY KEY,
    image      TEXT NOT NULL,
    command    TEXT NOT NULL,
    input_dir  TEXT NOT NULL,
    output_dir TEXT NOT NULL,
    inputs     TEXT NOT NULL,
    outputs    TEXT NOT NULL,
    parameters TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS data_products (
    uri          TEXT PRIMARY KEY,
    gateway_id   TEXT NOT NULL,
    owner_name   TEXT NOT NULL,
    product_name TEXT NOT NULL,
    type         TEXT NOT NULL,
    created_at   {{ts}} NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS replica_locations (
    product_uri         TEXT NOT NULL,
    position            INTEGER NOT NULL,
    storage_resource_id TEXT NOT NULL,
    name                TEXT NOT NULL,
    file_path           TEXT NOT NULL,
    category            TEXT NOT NULL,
    persistence         TEXT NOT NULL,
    PRIMARY KEY (product_uri, position)
)`,
	`CREATE TABLE IF NOT EXISTS task_runs (
    id             TEXT PRIMARY KEY,
    task_id        TEXT NOT NULL,
    application_id TEXT NOT NULL,
    gateway_id     TEXT NOT NULL,
    state          TEXT NOT NULL,
    message        TEXT NOT NULL,
    retryable      BOOLEAN,
    error_kind     TEXT NOT NULL,
    duration_ms    INTEGER,
    created_at     {{ts}} NOT NULL,
    started_at     {{ts}},
    finished_at    {{ts}}
)`,
	`CREATE INDEX IF NOT EXISTS idx_task_runs_task_id ON task_runs (task_id)`,
	`CREATE TABLE IF NOT EXISTS task_events (
    id         {{serial}},
    run_id     TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    line       TEXT NOT NULL,
    created_at {{ts}} NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_task_events_run_id ON task_events (run_id, seq)`,
	`CREATE TABLE IF NOT EXISTS jobs (
    id           TEXT PRIMARY KEY,
    state        TEXT NOT NULL,
    backend_code INTEGER NOT NULL,
    updated_at   {{ts}} NOT NULL
)`,
}

// Compile-time interface satisfaction check.
var _ Store = (*SQLStore)(nil)

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	r := strings.NewReplacer("{{ts}}", s.d.timestampType, "{{serial}}", s.d.serialPK)
	for _, stmt := range schema {
		if _, err := s.db.Exec(r.Replace(stmt)); err != nil {
			return fmt.Errorf("migrate %s schema: %w", s.d.name, err)
		}
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(q), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.rebind(q), args...)
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.d.rebind(q), args...)
}
