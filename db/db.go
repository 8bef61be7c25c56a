package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shiftsmith/shiftsmith/models"
)

// Database persists completed traffic shifts and their metric histories.
// Dependency graphs are deliberately not persisted; resolution state is a
// cache, not authoritative configuration.
type Database struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite database at path.
func New(path string) (*Database, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &Database{db: db}
	if err := d.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return d, nil
}

func (d *Database) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS shifts (
		id TEXT PRIMARY KEY,
		strategy TEXT NOT NULL,
		old_env TEXT,
		new_env TEXT NOT NULL,
		success INTEGER NOT NULL,
		final_distribution TEXT NOT NULL,
		rollback_performed INTEGER NOT NULL,
		error_message TEXT,
		duration_ms INTEGER NOT NULL,
		triggered_by TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_shifts_new_env ON shifts(new_env);
	CREATE INDEX IF NOT EXISTS idx_shifts_started_at ON shifts(started_at DESC);

	CREATE TABLE IF NOT EXISTS shift_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		shift_id TEXT NOT NULL,
		sample TEXT NOT NULL,
		taken_at TIMESTAMP NOT NULL,
		FOREIGN KEY (shift_id) REFERENCES shifts(id)
	);

	CREATE INDEX IF NOT EXISTS idx_samples_shift_id ON shift_samples(shift_id);

	CREATE TABLE IF NOT EXISTS shift_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		shift_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		details TEXT,
		FOREIGN KEY (shift_id) REFERENCES shifts(id)
	);

	CREATE INDEX IF NOT EXISTS idx_events_shift_id ON shift_events(shift_id);
	`

	_, err := d.db.Exec(schema)
	return err
}

// SaveShift records a completed shift and its metric history.
func (d *Database) SaveShift(result *models.TrafficShiftResult, oldEnv, newEnv, triggeredBy string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO shifts (id, strategy, old_env, new_env, success, final_distribution, rollback_performed, error_message, duration_ms, triggered_by, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, result.ShiftID, result.Strategy, oldEnv, newEnv, result.Success, result.FinalDistribution,
		result.RollbackPerformed, result.ErrorMessage, result.Duration.Milliseconds(), triggeredBy,
		result.StartedAt, result.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert shift: %w", err)
	}

	for _, sample := range result.MetricsHistory {
		data, err := json.Marshal(sample)
		if err != nil {
			return fmt.Errorf("failed to marshal sample: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO shift_samples (shift_id, sample, taken_at) VALUES (?, ?, ?)
		`, result.ShiftID, string(data), sample.Timestamp); err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}

	return tx.Commit()
}

// GetShift loads a persisted shift with its metric history.
func (d *Database) GetShift(id string) (*models.TrafficShiftResult, error) {
	var (
		result     models.TrafficShiftResult
		durationMs int64
		success    int
		rollback   int
	)

	err := d.db.QueryRow(`
		SELECT id, strategy, success, final_distribution, rollback_performed, error_message, duration_ms, started_at, completed_at
		FROM shifts WHERE id = ?
	`, id).Scan(&result.ShiftID, &result.Strategy, &success, &result.FinalDistribution,
		&rollback, &result.ErrorMessage, &durationMs, &result.StartedAt, &result.CompletedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("shift not found")
	}
	if err != nil {
		return nil, err
	}

	result.Success = success != 0
	result.RollbackPerformed = rollback != 0
	result.Duration = time.Duration(durationMs) * time.Millisecond

	rows, err := d.db.Query(`SELECT sample FROM shift_samples WHERE shift_id = ? ORDER BY taken_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var sample models.TrafficMetrics
		if err := json.Unmarshal([]byte(data), &sample); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sample: %w", err)
		}
		result.MetricsHistory = append(result.MetricsHistory, sample)
	}

	return &result, rows.Err()
}

// GetShifts lists shifts for an environment, newest first.
func (d *Database) GetShifts(newEnv string, limit, offset int) ([]models.TrafficShiftResult, int, error) {
	var total int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM shifts WHERE new_env = ?`, newEnv).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := d.db.Query(`
		SELECT id, strategy, success, final_distribution, rollback_performed, error_message, duration_ms, started_at, completed_at
		FROM shifts
		WHERE new_env = ?
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, newEnv, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var shifts []models.TrafficShiftResult
	for rows.Next() {
		var (
			result     models.TrafficShiftResult
			durationMs int64
			success    int
			rollback   int
		)
		if err := rows.Scan(&result.ShiftID, &result.Strategy, &success, &result.FinalDistribution,
			&rollback, &result.ErrorMessage, &durationMs, &result.StartedAt, &result.CompletedAt); err != nil {
			return nil, 0, err
		}
		result.Success = success != 0
		result.RollbackPerformed = rollback != 0
		result.Duration = time.Duration(durationMs) * time.Millisecond
		shifts = append(shifts, result)
	}

	return shifts, total, rows.Err()
}

// AddEvent appends an audit event to a shift.
func (d *Database) AddEvent(shiftID, eventType, details string) error {
	_, err := d.db.Exec(`
		INSERT INTO shift_events (shift_id, event_type, details, timestamp)
		VALUES (?, ?, ?, ?)
	`, shiftID, eventType, details, time.Now())
	return err
}

// Close closes the database.
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable.
func (d *Database) Ping() error {
	return d.db.Ping()
}
