package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/emolens/emolens/internal/model"
)

var (
	ErrDuplicate = errors.New("duplicate")
	ErrNotFound  = errors.New("not found")
)

// Store is the SQLite session archive. Every completed or abandoned
// session leaves a row here with its raw event log, key moments, and
// terminal job outcome.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// SessionRecord is one archived recording session.
type SessionRecord struct {
	SessionID      string
	Kind           model.SessionKind
	StartedAt      time.Time
	EndedAt        *time.Time
	FinalState     model.FlowState
	Outcome        *model.Outcome
	OutcomeMessage string
}

func (s *Store) InsertSession(ctx context.Context, rec SessionRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(session_id, kind, started_at, ended_at, final_state, outcome, outcome_message)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, rec.SessionID, string(rec.Kind), ts(rec.StartedAt), nullableTS(rec.EndedAt), string(rec.FinalState), nullableOutcome(rec.Outcome), rec.OutcomeMessage)
	if isUniqueErr(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FinishSession stamps the terminal state and outcome of a session.
func (s *Store) FinishSession(ctx context.Context, sessionID string, finalState model.FlowState, outcome model.Outcome, message string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE sessions SET ended_at = ?, final_state = ?, outcome = ?, outcome_message = ?
WHERE session_id = ?
`, ts(time.Now()), string(finalState), string(outcome), message, sessionID)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish session rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT session_id, kind, started_at, ended_at, final_state, outcome, outcome_message
FROM sessions WHERE session_id = ?
`, sessionID)
	var rec SessionRecord
	var kind, started, finalState string
	var ended, outcome sql.NullString
	if err := row.Scan(&rec.SessionID, &kind, &started, &ended, &finalState, &outcome, &rec.OutcomeMessage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	rec.Kind = model.SessionKind(kind)
	rec.FinalState = model.FlowState(finalState)
	startedAt, err := parseTS(started)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("parse started_at: %w", err)
	}
	rec.StartedAt = startedAt
	if ended.Valid {
		v, err := parseTS(ended.String)
		if err != nil {
			return SessionRecord{}, fmt.Errorf("parse ended_at: %w", err)
		}
		rec.EndedAt = &v
	}
	if outcome.Valid {
		o := model.Outcome(outcome.String)
		rec.Outcome = &o
	}
	return rec, nil
}

func (s *Store) AppendEvents(ctx context.Context, sessionID string, events []model.GameEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin events tx: %w", err)
	}
	for i, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("encode event data: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO game_events(event_id, session_id, event_type, timestamp_seconds, data_json, seq)
VALUES (?, ?, ?, ?, ?, ?)
`, uuid.NewString(), sessionID, ev.Type, ev.TimestampSeconds, string(data), i); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]model.GameEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT event_type, timestamp_seconds, data_json
FROM game_events WHERE session_id = ? ORDER BY seq
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	var out []model.GameEvent
	for rows.Next() {
		var ev model.GameEvent
		var data string
		if err := rows.Scan(&ev.Type, &ev.TimestampSeconds, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) AppendKeyMoments(ctx context.Context, sessionID string, moments []model.KeyMoment) error {
	if len(moments) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin moments tx: %w", err)
	}
	for _, m := range moments {
		id := m.MomentID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO key_moments(moment_id, session_id, timestamp_seconds, reason, kind, face_frame, game_frame, seq)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, id, sessionID, m.TimestampSeconds, m.Reason, string(m.Kind), nullableStr(m.FaceFrame), nullableStr(m.GameFrame), m.Seq); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert key moment: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit key moments: %w", err)
	}
	return nil
}

func (s *Store) ListKeyMoments(ctx context.Context, sessionID string) ([]model.KeyMoment, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT moment_id, timestamp_seconds, reason, kind, face_frame, game_frame, seq
FROM key_moments WHERE session_id = ?
ORDER BY timestamp_seconds, seq
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list key moments: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	var out []model.KeyMoment
	for rows.Next() {
		var m model.KeyMoment
		var kind string
		var face, game sql.NullString
		if err := rows.Scan(&m.MomentID, &m.TimestampSeconds, &m.Reason, &kind, &face, &game, &m.Seq); err != nil {
			return nil, fmt.Errorf("scan key moment: %w", err)
		}
		m.Kind = model.MomentKind(kind)
		if face.Valid {
			v := face.String
			m.FaceFrame = &v
		}
		if game.Valid {
			v := game.String
			m.GameFrame = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertJob records the latest known state of an analysis job.
func (s *Store) UpsertJob(ctx context.Context, job model.AnalysisJob, outcome *model.Outcome) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs(job_id, session_id, status, progress, message, outcome, submitted_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET
	status=excluded.status,
	progress=excluded.progress,
	message=excluded.message,
	outcome=excluded.outcome,
	completed_at=excluded.completed_at
`, job.JobID, job.SessionID, string(job.Status), job.Progress, job.Message, nullableOutcome(outcome), ts(job.SubmittedAt), nullableTS(job.CompletedAt))
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// Stats aggregates terminal job outcomes across the archive.
type Stats struct {
	Submitted int
	Completed int
	Failed    int
	Cancelled int
}

func (s *Store) JobStats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	var stats Stats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.Submitted += n
		switch model.JobStatus(status) {
		case model.JobCompleted:
			stats.Completed += n
		case model.JobFailed:
			stats.Failed += n
		case model.JobCancelled:
			stats.Cancelled += n
		}
	}
	return stats, rows.Err()
}

func nullableTS(v *time.Time) any {
	if v == nil {
		return nil
	}
	return ts(*v)
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableOutcome(v *model.Outcome) any {
	if v == nil {
		return nil
	}
	return string(*v)
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg,
		"UNIQUE constraint failed",
		"constraint failed: UNIQUE",
	)
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
