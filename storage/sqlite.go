package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"math"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// Extension is the file extension of sqlite study stores.
const Extension = ".db"

const schema = `
CREATE TABLE IF NOT EXISTS studies (
	name          TEXT PRIMARY KEY,
	direction     TEXT NOT NULL,
	method        TEXT NOT NULL,
	search_space  BLOB NOT NULL,
	method_config BLOB NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS trials (
	study_name    TEXT NOT NULL REFERENCES studies(name),
	number        INTEGER NOT NULL,
	run_id        TEXT NOT NULL,
	state         TEXT NOT NULL,
	value         REAL,
	params        BLOB NOT NULL,
	error         TEXT NOT NULL,
	started_at    INTEGER NOT NULL,
	completed_at  INTEGER NOT NULL,
	PRIMARY KEY (study_name, number)
);
CREATE TABLE IF NOT EXISTS trial_values (
	study_name TEXT NOT NULL,
	number     INTEGER NOT NULL,
	step       INTEGER NOT NULL,
	value      REAL,
	PRIMARY KEY (study_name, number, step),
	FOREIGN KEY (study_name, number) REFERENCES trials(study_name, number)
);`

// SQLite is a file-backed relational study store.
//
// Intermediate values live in their own table, one row per step, so that
// non-finite values survive: NaN is stored as NULL, infinities as REAL.
type SQLite struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

// OpenSQLite opens the sqlite store at path and takes the writer lock.
//
// When create is true the parent directory and the database file are created
// as needed. When create is false a missing file yields ErrStudyNotFound.
func OpenSQLite(path string, create bool) (Store, error) {
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		if !create {
			return nil, fmt.Errorf("%s: %w", path, ErrStudyNotFound)
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating study dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	// One connection owns the exclusive lock for the store's lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db, path: path}
	if err := s.init(context.Background()); err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

func (s *SQLite) init(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 0",
		"PRAGMA locking_mode = EXCLUSIVE",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return s.wrap("configuring store", err)
		}
	}

	// In exclusive locking mode the first write transaction keeps the lock
	// until the connection closes.
	if _, err := s.db.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return s.wrap("locking store", err)
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		_, _ = s.db.ExecContext(ctx, "ROLLBACK")

		return s.wrap("creating schema", err)
	}

	if _, err := s.db.ExecContext(ctx, "COMMIT"); err != nil {
		return s.wrap("creating schema", err)
	}

	return nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

// CreateStudy implements Store.
func (s *SQLite) CreateStudy(ctx context.Context, study StudyRecord) error {
	if s.closed.Load() {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO studies (name, direction, method, search_space, method_config, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		study.Name, study.Direction, study.Method, study.SearchSpace, study.MethodConfig, study.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%q: %w", study.Name, ErrStudyExists)
		}

		return s.wrap("creating study", err)
	}

	return nil
}

// LoadStudy implements Store.
func (s *SQLite) LoadStudy(ctx context.Context, name string) (StudyRecord, error) {
	if s.closed.Load() {
		return StudyRecord{}, ErrClosed
	}

	var (
		rec     StudyRecord
		created int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT name, direction, method, search_space, method_config, created_at FROM studies WHERE name = ?`, name,
	).Scan(&rec.Name, &rec.Direction, &rec.Method, &rec.SearchSpace, &rec.MethodConfig, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StudyRecord{}, fmt.Errorf("%q: %w", name, ErrStudyNotFound)
		}

		return StudyRecord{}, s.wrap("loading study", err)
	}

	rec.CreatedAt = time.Unix(0, created).UTC()

	return rec, nil
}

// AppendTrial implements Store.
func (s *SQLite) AppendTrial(ctx context.Context, study string, trial TrialRecord) error {
	if s.closed.Load() {
		return ErrClosed
	}

	params, err := json.Marshal(trial.Params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("appending trial", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM trials WHERE study_name = ?`, study).Scan(&count); err != nil {
		return s.wrap("appending trial", err)
	}

	if trial.Number != count {
		return fmt.Errorf("trial %d, next is %d: %w", trial.Number, count, ErrTrialNumber)
	}

	var value sql.NullFloat64
	if trial.Value != nil {
		value = nullFloat(*trial.Value)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trials (study_name, number, run_id, state, value, params, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		study, trial.Number, trial.RunID, trial.State, value, params, trial.Error,
		trial.Start.UnixNano(), trial.End.UnixNano(),
	); err != nil {
		return s.wrap("appending trial", err)
	}

	for step, v := range trial.Intermediate {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trial_values (study_name, number, step, value) VALUES (?, ?, ?, ?)`,
			study, trial.Number, step, nullFloat(v),
		); err != nil {
			return s.wrap("appending intermediate values", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.wrap("appending trial", err)
	}

	return nil
}

// Trials implements Store.
func (s *SQLite) Trials(ctx context.Context, study string) ([]TrialRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	intermediate, err := s.intermediate(ctx, study)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT number, run_id, state, value, params, error, started_at, completed_at
		 FROM trials WHERE study_name = ? ORDER BY number`, study)
	if err != nil {
		return nil, s.wrap("reading trials", err)
	}
	defer rows.Close()

	var out []TrialRecord

	for rows.Next() {
		var (
			rec                TrialRecord
			value              sql.NullFloat64
			params             []byte
			started, completed int64
		)

		if err := rows.Scan(&rec.Number, &rec.RunID, &rec.State, &value, &params, &rec.Error, &started, &completed); err != nil {
			return nil, s.wrap("reading trials", err)
		}

		if value.Valid {
			v := value.Float64
			rec.Value = &v
		}

		if err := json.Unmarshal(params, &rec.Params); err != nil {
			return nil, fmt.Errorf("decoding params of trial %d: %w", rec.Number, err)
		}

		rec.Intermediate = intermediate[rec.Number]

		rec.Start = time.Unix(0, started).UTC()
		rec.End = time.Unix(0, completed).UTC()

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, s.wrap("reading trials", err)
	}

	return out, nil
}

// intermediate reads the intermediate values of every trial of study, keyed
// by trial number. NULL reads back as NaN.
func (s *SQLite) intermediate(ctx context.Context, study string) (map[int]map[int]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT number, step, value FROM trial_values WHERE study_name = ?`, study)
	if err != nil {
		return nil, s.wrap("reading intermediate values", err)
	}
	defer rows.Close()

	out := map[int]map[int]float64{}

	for rows.Next() {
		var (
			number, step int
			value        sql.NullFloat64
		)

		if err := rows.Scan(&number, &step, &value); err != nil {
			return nil, s.wrap("reading intermediate values", err)
		}

		v := math.NaN()
		if value.Valid {
			v = value.Float64
		}

		if out[number] == nil {
			out[number] = map[int]float64{}
		}

		out[number][step] = v
	}

	if err := rows.Err(); err != nil {
		return nil, s.wrap("reading intermediate values", err)
	}

	return out, nil
}

// Close releases the connection and with it the writer lock. Later calls
// return ErrClosed.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	return s.db.Close()
}

// nullFloat maps NaN to NULL.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}

	return sql.NullFloat64{Float64: v, Valid: true}
}

func (s *SQLite) wrap(op string, err error) error {
	if isBusy(err) {
		return fmt.Errorf("%s %s: %w", op, s.path, ErrLocked)
	}

	return fmt.Errorf("%s %s: %w", op, s.path, err)
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

func isConstraint(err error) bool {
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "constraint") || strings.Contains(msg, "unique")
}
