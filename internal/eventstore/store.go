// Package eventstore keeps the lifecycle timeline of quiz attempts in SQLite.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-quiz/internal/config"
)

const (
	RetentionMemory    = "memory"
	RetentionSession   = "session"
	RetentionEphemeral = "ephemeral"
)

// Event types recorded on the timeline.
const (
	EventStarted          = "started"
	EventLoaded           = "loaded"
	EventGenerationFailed = "generation_failed"
	EventAnswered         = "answered"
	EventSubmitted        = "submitted"
	EventFinished         = "finished"
	EventNarrationStarted = "narration_started"
	EventNarrationStopped = "narration_stopped"
	EventNarrationFailed  = "narration_failed"
)

var ErrNotFound = errors.New("not found")

// Attempt is one generated quiz, from the start request to its end.
type Attempt struct {
	ID            string    `json:"id"`
	Topic         string    `json:"topic"`
	QuestionCount int       `json:"questionCount"`
	Difficulty    string    `json:"difficulty"`
	Status        string    `json:"status"`
	Correct       int       `json:"correct"`
	Total         int       `json:"total"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	FinishedAt    time.Time `json:"finishedAt"`
}

// Event represents a recorded timeline entry.
type Event struct {
	ID        int64           `json:"id"`
	AttemptID string          `json:"attemptId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Store wraps a SQLite-backed timeline. In memory mode the database lives
// for the lifetime of the process only.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "event-store"))
	if cfg.RetentionMode == RetentionEphemeral {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	var dsn string
	switch cfg.RetentionMode {
	case RetentionMemory:
		dsn = "file::memory:?_pragma=foreign_keys(ON)"
	case RetentionSession:
		dir := filepath.Dir(cfg.Path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	default:
		return nil, fmt.Errorf("unknown retention mode %q", cfg.RetentionMode)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.RetentionMode == RetentionMemory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart && cfg.RetentionMode == RetentionSession {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS attempts (
    attempt_id TEXT PRIMARY KEY,
    topic TEXT NOT NULL,
    question_count INTEGER NOT NULL,
    difficulty TEXT,
    status TEXT NOT NULL,
    correct INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 0,
    reason TEXT,
    created_at INTEGER NOT NULL,
    finished_at INTEGER
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    attempt_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(attempt_id) REFERENCES attempts(attempt_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_attempt_created ON events(attempt_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enabled reports whether events are retained at all.
func (s *Store) Enabled() bool { return s.db != nil }

// BeginAttempt records a new attempt in the "started" status.
func (s *Store) BeginAttempt(ctx context.Context, a Attempt) error {
	if s.db == nil {
		return nil
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts(attempt_id, topic, question_count, difficulty, status, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(attempt_id) DO UPDATE SET topic=excluded.topic, question_count=excluded.question_count, difficulty=excluded.difficulty`,
		a.ID, a.Topic, a.QuestionCount, a.Difficulty, EventStarted, a.CreatedAt.UnixNano())
	return err
}

// UpdateAttempt sets the status of an attempt, and its score when total > 0.
func (s *Store) UpdateAttempt(ctx context.Context, id, status string, correct, total int, reason string) error {
	if s.db == nil {
		return nil
	}
	var finished any
	switch status {
	case EventFinished, EventGenerationFailed:
		finished = s.clock().UnixNano()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET status = ?,
		   correct = CASE WHEN ? > 0 THEN ? ELSE correct END,
		   total = CASE WHEN ? > 0 THEN ? ELSE total END,
		   reason = COALESCE(NULLIF(?, ''), reason),
		   finished_at = COALESCE(?, finished_at)
		 WHERE attempt_id = ?`,
		status, total, correct, total, total, reason, finished, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(attempt_id, event_type, payload, created_at) VALUES(?, ?, ?, ?)`,
		evt.AttemptID, evt.Type, []byte(evt.Payload), evt.CreatedAt.UnixNano())
	return err
}

// GetAttempt loads one attempt.
func (s *Store) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	if s.db == nil {
		return Attempt{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, attemptColumns+` WHERE attempt_id = ?`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	return a, err
}

// ListAttempts returns up to limit attempts, newest first.
func (s *Store) ListAttempts(ctx context.Context, limit int) ([]Attempt, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, attemptColumns+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

const attemptColumns = `SELECT attempt_id, topic, question_count, difficulty, status, correct, total, reason, created_at, finished_at FROM attempts`

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (Attempt, error) {
	var (
		a          Attempt
		difficulty sql.NullString
		reason     sql.NullString
		created    int64
		finished   sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.Topic, &a.QuestionCount, &difficulty, &a.Status, &a.Correct, &a.Total, &reason, &created, &finished); err != nil {
		return Attempt{}, err
	}
	a.Difficulty = difficulty.String
	a.Reason = reason.String
	a.CreatedAt = time.Unix(0, created).UTC()
	if finished.Valid {
		a.FinishedAt = time.Unix(0, finished.Int64).UTC()
	}
	return a, nil
}

// ListAttemptEvents returns the events of an attempt in time order. A positive
// limit keeps only the newest limit events; otherwise all are returned.
func (s *Store) ListAttemptEvents(ctx context.Context, attemptID string, limit int) ([]Event, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, attempt_id, event_type, payload, created_at FROM (
		   SELECT id, attempt_id, event_type, payload, created_at
		   FROM events WHERE attempt_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		 ) ORDER BY created_at ASC, id ASC`, attemptID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			payload []byte
			created int64
		)
		if err := rows.Scan(&e.ID, &e.AttemptID, &e.Type, &payload, &created); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			e.Payload = payload
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM attempts WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxAttempts > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM attempts WHERE attempt_id IN (
			SELECT attempt_id FROM attempts ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxAttempts)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
