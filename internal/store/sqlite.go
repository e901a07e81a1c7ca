// ABOUTME: SQLite implementation of engine persistence using modernc.org/sqlite
// ABOUTME: Agent state snapshots, outcome ledger and spend events with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-conclave/internal/agent"
	"github.com/2389/coven-conclave/internal/jobs"
)

const spendTimeout = 5 * time.Second

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists agent state and ledgers in SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// RecordSpend may be called from several agents at once; one writer avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_state (
			agent_id TEXT PRIMARY KEY,
			state BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS outcomes (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id      TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			agent_id    TEXT NOT NULL,
			agent_name  TEXT NOT NULL,
			ability_key TEXT NOT NULL,
			value       INTEGER NOT NULL,
			critical    INTEGER NOT NULL DEFAULT 0,
			status      TEXT NOT NULL,
			at          TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_outcomes_user ON outcomes(user_id, at);
		CREATE INDEX IF NOT EXISTS idx_outcomes_job ON outcomes(job_id);

		CREATE TABLE IF NOT EXISTS spend_events (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			before_count INTEGER NOT NULL,
			at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_spend_agent ON spend_events(agent_id, at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "outcomes",
			column: "ability_label",
			apply:  `ALTER TABLE outcomes ADD COLUMN ability_label TEXT NOT NULL DEFAULT ''`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(
			`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column,
		).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveAgentState saves or updates agent state.
// Uses INSERT OR REPLACE to handle both insert and update cases.
func (s *SQLiteStore) SaveAgentState(ctx context.Context, agentID string, state agent.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding agent state: %w", err)
	}
	return s.saveAgentState(ctx, s.db, agentID, data)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) saveAgentState(ctx context.Context, db execer, agentID string, data []byte) error {
	query := `
		INSERT OR REPLACE INTO agent_state (agent_id, state, updated_at)
		VALUES (?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		agentID,
		data,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving agent state: %w", err)
	}
	return nil
}

// GetAgentState retrieves agent state.
// Returns ErrNotFound if the agent has no saved state.
func (s *SQLiteStore) GetAgentState(ctx context.Context, agentID string) (agent.State, error) {
	query := `SELECT state FROM agent_state WHERE agent_id = ?`

	var data []byte
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return agent.State{}, ErrNotFound
	}
	if err != nil {
		return agent.State{}, fmt.Errorf("querying agent state: %w", err)
	}

	var state agent.State
	if err := json.Unmarshal(data, &state); err != nil {
		return agent.State{}, fmt.Errorf("decoding agent state for %s: %w", agentID, err)
	}
	return state, nil
}

// SaveAgents snapshots every agent and writes them in one transaction.
func (s *SQLiteStore) SaveAgents(ctx context.Context, agents []*agent.Agent) error {
	encoded := make(map[string][]byte, len(agents))
	for _, a := range agents {
		data, err := json.Marshal(a.Snapshot())
		if err != nil {
			return fmt.Errorf("encoding agent state for %s: %w", a.ID, err)
		}
		encoded[a.ID] = data
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for id, data := range encoded {
		if err := s.saveAgentState(ctx, tx, id, data); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing agent state: %w", err)
	}
	s.logger.Debug("saved agent states", "count", len(encoded))
	return nil
}

// RestoreAgents applies saved snapshots to agents and returns how many had one.
// Agents without a snapshot keep their configured state.
func (s *SQLiteStore) RestoreAgents(ctx context.Context, agents []*agent.Agent) (int, error) {
	restored := 0
	for _, a := range agents {
		state, err := s.GetAgentState(ctx, a.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return restored, err
		}
		a.Restore(state)
		restored++
	}
	return restored, nil
}

// RecordOutcome appends one resolved step to the ledger.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, job *jobs.Job, o jobs.Outcome) error {
	query := `
		INSERT INTO outcomes (
			job_id, user_id, agent_id, agent_name, ability_key, ability_label,
			value, critical, status, at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.UserID,
		o.AgentID,
		o.AgentName,
		o.AbilityKey,
		o.AbilityLabel,
		o.Value,
		o.Critical,
		o.Status,
		at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting outcome: %w", err)
	}
	return nil
}

// ListOutcomes returns the newest outcomes first. An empty userID lists all users.
func (s *SQLiteStore) ListOutcomes(ctx context.Context, userID string, limit int) ([]OutcomeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, job_id, user_id, agent_id, agent_name, ability_key, ability_label,
			value, critical, status, at
		FROM outcomes
		WHERE (? = '' OR user_id = ?)
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var (
			r  OutcomeRecord
			at string
		)
		if err := rows.Scan(&r.ID, &r.JobID, &r.UserID, &r.AgentID, &r.AgentName,
			&r.AbilityKey, &r.AbilityLabel, &r.Value, &r.Critical, &r.Status, &at); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		r.At, _ = time.Parse(timeLayout, at)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outcomes: %w", err)
	}
	return out, nil
}

// RecordSpend stores one spend event. Failures are logged, never returned.
func (s *SQLiteStore) RecordSpend(agentID string, before int, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), spendTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spend_events (agent_id, before_count, at) VALUES (?, ?, ?)`,
		agentID, before, at.UTC().Format(timeLayout),
	)
	if err != nil {
		s.logger.Warn("failed to record spend", "agent_id", agentID, "error", err)
	}
}

// SpendEvents returns an agent's spends since the given time, oldest first.
func (s *SQLiteStore) SpendEvents(ctx context.Context, agentID string, since time.Time) ([]SpendEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, before_count, at FROM spend_events WHERE agent_id = ? AND at >= ? ORDER BY id`,
		agentID, since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("querying spend events: %w", err)
	}
	defer rows.Close()

	var out []SpendEvent
	for rows.Next() {
		var (
			ev SpendEvent
			at string
		)
		if err := rows.Scan(&ev.AgentID, &ev.Before, &at); err != nil {
			return nil, fmt.Errorf("scanning spend event: %w", err)
		}
		ev.At, _ = time.Parse(timeLayout, at)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating spend events: %w", err)
	}
	return out, nil
}
