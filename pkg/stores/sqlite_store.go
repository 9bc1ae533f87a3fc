package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultPath is the history database on the appliance.
const DefaultPath = "/persistent/state/history.db"

// SQLiteStore records apply cycles in SQLite. It implements
// engine.HistoryRecorder.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database. File databases use WAL journaling.
func (s *SQLiteStore) Init(ctx context.Context) error {
	pragmas := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	if s.cfg.Path != ":memory:" {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	dsn := s.cfg.Path + "?" + strings.Join(pragmas, "&")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordCycle stores a finished cycle, its outcomes and, when applied is
// not nil, the snapshot it made active. Everything is written in one
// transaction.
func (s *SQLiteStore) RecordCycle(ctx context.Context, result *engine.CycleResult, applied *config.RouterConfig) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if result == nil || result.ID == "" {
		return fmt.Errorf("cycle result has no id")
	}

	report, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode cycle report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	summary := result.Summary()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cycles (id, state, dry_run, started_at, completed_at, duration_ms, persisted,
			restart_required, operations, succeeded, failed, not_run, pending, error, report, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.ID,
		string(result.State),
		result.DryRun,
		result.StartedAt.UTC(),
		result.CompletedAt.UTC(),
		result.Duration.Milliseconds(),
		result.Persisted,
		result.RestartRequired(),
		summary.Total,
		summary.Succeeded,
		summary.Failed,
		summary.NotRun,
		summary.Pending,
		nullable(result.Error),
		string(report),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}

	for _, o := range result.Outcomes {
		commands, err := json.Marshal(o.Commands)
		if err != nil {
			return fmt.Errorf("failed to encode commands of %s: %w", o.OperationID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outcomes (cycle_id, step, operation_id, description, success, error, started_at, duration_ms, commands)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			result.ID,
			o.Step,
			o.OperationID,
			o.Description,
			o.Success,
			nullable(o.Error),
			o.StartedAt.UTC(),
			o.Duration.Milliseconds(),
			string(commands),
		)
		if err != nil {
			return fmt.Errorf("failed to insert outcome %s: %w", o.OperationID, err)
		}
	}

	if applied != nil {
		data, err := json.Marshal(applied)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshots (cycle_id, hostname, config, created_at)
			VALUES (?, ?, ?, ?)
		`, result.ID, applied.Hostname, string(data), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cycle %s: %w", result.ID, err)
	}
	return nil
}

const cycleColumns = `id, state, dry_run, started_at, completed_at, duration_ms, persisted,
	restart_required, operations, succeeded, failed, not_run, pending, error, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCycle(row scanner, extra ...interface{}) (*CycleRecord, error) {
	c := &CycleRecord{}
	var state string
	var durationMS int64
	dest := []interface{}{
		&c.ID,
		&state,
		&c.DryRun,
		&c.StartedAt,
		&c.CompletedAt,
		&durationMS,
		&c.Persisted,
		&c.RestartRequired,
		&c.Summary.Total,
		&c.Summary.Succeeded,
		&c.Summary.Failed,
		&c.Summary.NotRun,
		&c.Summary.Pending,
		&c.Error,
		&c.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	c.State = engine.CycleState(state)
	c.Duration = time.Duration(durationMS) * time.Millisecond
	return c, nil
}

// GetCycle returns a cycle with its report and outcomes.
func (s *SQLiteStore) GetCycle(ctx context.Context, id string) (*CycleRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cycleColumns+`, report FROM cycles WHERE id = ?`, id)

	var report string
	c, err := scanCycle(row, &report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cycle %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cycle: %w", err)
	}
	c.Report = json.RawMessage(report)

	c.Outcomes, err = s.ListOutcomes(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCycles returns cycles newest first, without reports.
func (s *SQLiteStore) ListCycles(ctx context.Context, filter CycleFilter) ([]*CycleRecord, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE 1=1`
	var args []interface{}

	if filter.State != nil {
		query += " AND state = ?"
		args = append(args, string(*filter.State))
	}
	if !filter.IncludeDryRuns {
		query += " AND dry_run = 0"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY started_at DESC, created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*CycleRecord
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		cycles = append(cycles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycles: %w", err)
	}

	return cycles, nil
}

// ListOutcomes returns the executed operations of a cycle in step order.
func (s *SQLiteStore) ListOutcomes(ctx context.Context, cycleID string) ([]*OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cycle_id, step, operation_id, description, success, error, started_at, duration_ms, commands
		FROM outcomes
		WHERE cycle_id = ?
		ORDER BY step ASC, id ASC
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*OutcomeRecord
	for rows.Next() {
		o := &OutcomeRecord{}
		var durationMS int64
		var commands string
		err := rows.Scan(
			&o.ID,
			&o.CycleID,
			&o.Step,
			&o.OperationID,
			&o.Description,
			&o.Success,
			&o.Error,
			&o.StartedAt,
			&durationMS,
			&commands,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal([]byte(commands), &o.Commands); err != nil {
			return nil, fmt.Errorf("failed to decode commands of %s: %w", o.OperationID, err)
		}
		outcomes = append(outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}

	return outcomes, nil
}

// LatestSnapshot returns the most recently applied configuration.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (*SnapshotRecord, error) {
	snap := &SnapshotRecord{}
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cycle_id, hostname, config, created_at
		FROM snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&snap.ID, &snap.CycleID, &snap.Hostname, &data, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	snap.Config = json.RawMessage(data)
	return snap, nil
}

// DeleteCyclesBefore prunes history older than t and returns how many
// cycles were removed. Outcomes and snapshots go with their cycle.
func (s *SQLiteStore) DeleteCyclesBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune cycles: %w", err)
	}
	return result.RowsAffected()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
