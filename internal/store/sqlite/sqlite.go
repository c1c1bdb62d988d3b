// Package sqlite is the local/dev alternate Store backend (C1), grounded
// on internal/task/repository/sqlite.go's single-writer SQLite pattern.
// Locking here is in-process only (one SQLite file implies one process
// anyway) rather than a true cross-fleet distributed lock - documented as
// a dev-mode simplification in DESIGN.md.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/genieflow/genieflow/internal/common/errors"
	"github.com/genieflow/genieflow/internal/common/logger"
	"github.com/genieflow/genieflow/internal/model"
	"github.com/genieflow/genieflow/internal/store"
)

const className = "SessionModel"

const schema = `
CREATE TABLE IF NOT EXISTS genieflow_objects (
	session_id TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS genieflow_progress (
	session_id           TEXT PRIMARY KEY,
	task_id              TEXT NOT NULL,
	total_nr_subtasks    INTEGER NOT NULL,
	nr_subtasks_executed INTEGER NOT NULL,
	tombstone            INTEGER NOT NULL,
	started_at           INTEGER NOT NULL DEFAULT 0,
	event_to_send_after  TEXT NOT NULL DEFAULT ''
);
`

// Store is the SQLite-backed implementation of store.Store.
type Store struct {
	db          *sql.DB
	appPrefix   string
	objectTTL   time.Duration
	compression bool
	logger      *logger.Logger

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// Config mirrors redis.Config's knobs for the sqlite backend.
type Config struct {
	Path             string
	AppPrefix        string
	ObjectExpiration time.Duration
	Compression      bool
}

// New opens (creating if necessary) the SQLite-backed Store.
func New(cfg Config, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store at %s: %w", cfg.Path, err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}

	return &Store{
		db:          db,
		appPrefix:   cfg.AppPrefix,
		objectTTL:   cfg.ObjectExpiration,
		compression: cfg.Compression,
		logger:      log,
		locks:       make(map[string]chan struct{}),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

type sqliteLock struct {
	s         *Store
	sessionID string
	ch        chan struct{}
}

// AcquireLock implements store.Store with an in-process mutex per session
// id, since a single-writer SQLite file is itself process-local.
func (s *Store) AcquireLock(ctx context.Context, sessionID string) (store.Lock, error) {
	s.locksMu.Lock()
	ch, exists := s.locks[sessionID]
	if !exists {
		ch = make(chan struct{}, 1)
		s.locks[sessionID] = ch
	}
	s.locksMu.Unlock()

	select {
	case ch <- struct{}{}:
		return &sqliteLock{s: s, sessionID: sessionID, ch: ch}, nil
	case <-ctx.Done():
		return nil, errors.LockAcquireTimeoutErr(sessionID)
	}
}

func (l *sqliteLock) Release(ctx context.Context) error {
	<-l.ch
	return nil
}

// GetModel implements store.Store.
func (s *Store) GetModel(ctx context.Context, sessionID string) (*model.SessionModel, error) {
	var raw []byte
	var expiresAt int64
	row := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM genieflow_objects WHERE session_id = ?`, sessionID)
	if err := row.Scan(&raw, &expiresAt); err == sql.ErrNoRows {
		return nil, errors.UnknownSession(sessionID)
	} else if err != nil {
		return nil, errors.PersistenceErr("object.get", err)
	}
	if expiresAt > 0 && time.Now().Unix() > expiresAt {
		return nil, errors.UnknownSession(sessionID)
	}

	payload, err := store.Deserialize(raw, className, model.SessionSchemaVersion)
	if err != nil {
		return nil, err
	}
	var m model.SessionModel
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, errors.PersistenceErr("object.unmarshal", err)
	}
	return &m, nil
}

// PutModel implements store.Store.
func (s *Store) PutModel(ctx context.Context, m *model.SessionModel) error {
	payload, err := store.Serialize(m, s.compression)
	if err != nil {
		return errors.PersistenceErr("object.serialize", err)
	}
	expiresAt := int64(0)
	if s.objectTTL > 0 {
		expiresAt = time.Now().Add(s.objectTTL).Unix()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO genieflow_objects (session_id, payload, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET payload=excluded.payload, expires_at=excluded.expires_at`,
		m.SessionID, payload, expiresAt)
	if err != nil {
		return errors.PersistenceErr("object.put", err)
	}
	return nil
}

// ProgressStart implements store.Store.
func (s *Store) ProgressStart(ctx context.Context, sessionID, taskID string, totalNrSubtasks int, eventToSendAfter string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO genieflow_progress (session_id, task_id, total_nr_subtasks, nr_subtasks_executed, tombstone, started_at, event_to_send_after)
		 VALUES (?, ?, ?, 0, 0, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET task_id=excluded.task_id, total_nr_subtasks=excluded.total_nr_subtasks,
			nr_subtasks_executed=0, tombstone=0, started_at=excluded.started_at, event_to_send_after=excluded.event_to_send_after`,
		sessionID, taskID, totalNrSubtasks, time.Now().Unix(), eventToSendAfter)
	if err != nil {
		return errors.PersistenceErr("progress.start", err)
	}
	return nil
}

// ProgressExists implements store.Store.
func (s *Store) ProgressExists(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM genieflow_progress WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return false, errors.PersistenceErr("progress.exists", err)
	}
	return n > 0, nil
}

// ProgressUpdateTodo implements store.Store.
func (s *Store) ProgressUpdateTodo(ctx context.Context, sessionID string, delta int) (int, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE genieflow_progress SET total_nr_subtasks = total_nr_subtasks + ? WHERE session_id = ?`,
		delta, sessionID); err != nil {
		return 0, errors.PersistenceErr("progress.update_todo", err)
	}
	var todo int
	if err := s.db.QueryRowContext(ctx,
		`SELECT total_nr_subtasks FROM genieflow_progress WHERE session_id = ?`, sessionID).Scan(&todo); err != nil {
		return 0, errors.PersistenceErr("progress.update_todo.read", err)
	}
	return todo, nil
}

// ProgressUpdateDone implements store.Store; see redis.Store.ProgressUpdateDone
// for the deletion invariant this mirrors.
func (s *Store) ProgressUpdateDone(ctx context.Context, sessionID string, delta int) (int, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE genieflow_progress SET nr_subtasks_executed = nr_subtasks_executed + ? WHERE session_id = ?`,
		delta, sessionID); err != nil {
		return 0, errors.PersistenceErr("progress.update_done", err)
	}

	var done, todo, tombstone int
	err := s.db.QueryRowContext(ctx,
		`SELECT nr_subtasks_executed, total_nr_subtasks, tombstone FROM genieflow_progress WHERE session_id = ?`,
		sessionID).Scan(&done, &todo, &tombstone)
	if err != nil {
		return 0, errors.PersistenceErr("progress.update_done.read", err)
	}

	if tombstone != 0 && done >= todo {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM genieflow_progress WHERE session_id = ?`, sessionID); err != nil {
			return done, errors.PersistenceErr("progress.update_done.delete", err)
		}
	}
	return done, nil
}

// ProgressTombstone implements store.Store.
func (s *Store) ProgressTombstone(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE genieflow_progress SET tombstone = 1 WHERE session_id = ?`, sessionID); err != nil {
		return errors.PersistenceErr("progress.tombstone", err)
	}
	return nil
}

// ProgressStatus implements store.Store.
func (s *Store) ProgressStatus(ctx context.Context, sessionID string) (int, int, error) {
	var todo, done int
	err := s.db.QueryRowContext(ctx,
		`SELECT total_nr_subtasks, nr_subtasks_executed FROM genieflow_progress WHERE session_id = ?`,
		sessionID).Scan(&todo, &done)
	if err == sql.ErrNoRows {
		return 0, 0, errors.UnknownSession(sessionID)
	} else if err != nil {
		return 0, 0, errors.PersistenceErr("progress.status", err)
	}
	return todo, done, nil
}

// ProgressDelete implements store.Store.
func (s *Store) ProgressDelete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM genieflow_progress WHERE session_id = ?`, sessionID); err != nil {
		return errors.PersistenceErr("progress.delete", err)
	}
	return nil
}

// ProgressRecord implements store.Store.
func (s *Store) ProgressRecord(ctx context.Context, sessionID string) (*model.GenieTaskProgress, error) {
	var p model.GenieTaskProgress
	var tombstone int
	err := s.db.QueryRowContext(ctx,
		`SELECT task_id, total_nr_subtasks, nr_subtasks_executed, tombstone, event_to_send_after FROM genieflow_progress WHERE session_id = ?`,
		sessionID).Scan(&p.TaskID, &p.TotalNrSubtasks, &p.NrSubtasksExecuted, &tombstone, &p.EventToSendAfter)
	if err == sql.ErrNoRows {
		return nil, errors.UnknownSession(sessionID)
	} else if err != nil {
		return nil, errors.PersistenceErr("progress.record", err)
	}
	p.SessionID = sessionID
	p.Tombstone = tombstone != 0
	return &p, nil
}

// ListStaleProgress returns every progress record started more than
// olderThan ago, still not deleted - candidates for the worker reaper
// (internal/worker/reaper.go) to tombstone and force through
// error_handler. Only the sqlite backend exposes this: Redis progress
// records self-expire via ProgExpiration's TTL, so the reaper's
// Redis-path is diagnostic-only (see reaper.go).
func (s *Store) ListStaleProgress(ctx context.Context, olderThan time.Duration) ([]model.GenieTaskProgress, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, task_id, total_nr_subtasks, nr_subtasks_executed, tombstone, event_to_send_after
		 FROM genieflow_progress WHERE started_at > 0 AND started_at < ?`, cutoff)
	if err != nil {
		return nil, errors.PersistenceErr("progress.list_stale", err)
	}
	defer rows.Close()

	var out []model.GenieTaskProgress
	for rows.Next() {
		var p model.GenieTaskProgress
		var tombstone int
		if err := rows.Scan(&p.SessionID, &p.TaskID, &p.TotalNrSubtasks, &p.NrSubtasksExecuted, &tombstone, &p.EventToSendAfter); err != nil {
			return nil, errors.PersistenceErr("progress.list_stale.scan", err)
		}
		p.Tombstone = tombstone != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

var _ store.Store = (*Store)(nil)
