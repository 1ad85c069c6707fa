package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:crs.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/crs?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if driver == DriverSQLite {
		// one writer; keeps ApplyChange transactions from tripping SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	if err := EnsureSchema(ctx, db, driver); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	default:
		return fmt.Errorf("unsupported driver: %s", driver)
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Timestamps are unix milliseconds so same-second entries keep their order.
const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS parameters (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  weightage REAL NOT NULL,
  position INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sub_parameters (
  id TEXT PRIMARY KEY,
  parameter_id TEXT NOT NULL REFERENCES parameters(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  weightage REAL NOT NULL,
  max_score REAL NOT NULL,
  scoring_mode TEXT NOT NULL DEFAULT 'ACCUMULATIVE',
  calculation_mode TEXT NOT NULL DEFAULT 'LATEST',
  deduction_value REAL,
  min_score REAL,
  position INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS students (
  id TEXT PRIMARY KEY,
  register_number TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  current_crs REAL NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scores (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
  sub_parameter_id TEXT NOT NULL REFERENCES sub_parameters(id),
  obtained_score REAL NOT NULL,
  data TEXT NOT NULL DEFAULT '',
  recorded_by TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scores_student ON scores(student_id, sub_parameter_id);

CREATE TABLE IF NOT EXISTS violation_types (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  penalty REAL NOT NULL,
  severity TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS student_violations (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
  violation_type_id TEXT NOT NULL REFERENCES violation_types(id),
  comment TEXT NOT NULL DEFAULT '',
  recorded_by TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_violations_student ON student_violations(student_id);

CREATE TABLE IF NOT EXISTS crs_history (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
  previous_score REAL NOT NULL,
  new_score REAL NOT NULL,
  change_amount REAL NOT NULL,
  reason TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crs_history_student ON crs_history(student_id, created_at);

CREATE TABLE IF NOT EXISTS audit_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  action TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  actor TEXT NOT NULL DEFAULT '',
  details TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS parameters (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  weightage DOUBLE PRECISION NOT NULL,
  position INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sub_parameters (
  id TEXT PRIMARY KEY,
  parameter_id TEXT NOT NULL REFERENCES parameters(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  weightage DOUBLE PRECISION NOT NULL,
  max_score DOUBLE PRECISION NOT NULL,
  scoring_mode TEXT NOT NULL DEFAULT 'ACCUMULATIVE',
  calculation_mode TEXT NOT NULL DEFAULT 'LATEST',
  deduction_value DOUBLE PRECISION,
  min_score DOUBLE PRECISION,
  position INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS students (
  id TEXT PRIMARY KEY,
  register_number TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  current_crs DOUBLE PRECISION NOT NULL DEFAULT 0,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS scores (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
  sub_parameter_id TEXT NOT NULL REFERENCES sub_parameters(id),
  obtained_score DOUBLE PRECISION NOT NULL,
  data TEXT NOT NULL DEFAULT '',
  recorded_by TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scores_student ON scores(student_id, sub_parameter_id);

CREATE TABLE IF NOT EXISTS violation_types (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  penalty DOUBLE PRECISION NOT NULL,
  severity TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS student_violations (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
  violation_type_id TEXT NOT NULL REFERENCES violation_types(id),
  comment TEXT NOT NULL DEFAULT '',
  recorded_by TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_violations_student ON student_violations(student_id);

CREATE TABLE IF NOT EXISTS crs_history (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
  previous_score DOUBLE PRECISION NOT NULL,
  new_score DOUBLE PRECISION NOT NULL,
  change_amount DOUBLE PRECISION NOT NULL,
  reason TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crs_history_student ON crs_history(student_id, created_at);

CREATE TABLE IF NOT EXISTS audit_log (
  id BIGSERIAL PRIMARY KEY,
  action TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  actor TEXT NOT NULL DEFAULT '',
  details TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);
`
