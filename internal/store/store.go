// Package store defines the Store contract (C1): serialize/deserialize
// versioned session models, a distributed lock per session id, and a
// progress counter per session (spec §4.6).
package store

import (
	"context"

	"github.com/genieflow/genieflow/internal/model"
)

// Lock represents a held distributed lock for one session id. Release must
// be called exactly once, regardless of whether the holder's work
// succeeded; a held lock auto-renews and auto-expires per spec §5.
type Lock interface {
	Release(ctx context.Context) error
}

// Store is the contract Worker Runtime and Session Manager use to observe
// and mutate session state (spec §4.6). No other interface to persistence
// is permitted - in particular progress is only ever touched through the
// operations below, never via raw key access.
type Store interface {
	// AcquireLock blocks until the session's lock is held or the context is
	// cancelled/times out, in which case it returns LockAcquireTimeout.
	AcquireLock(ctx context.Context, sessionID string) (Lock, error)

	// GetModel loads and deserializes the session model. Returns
	// UnknownSession if none exists, SchemaMismatch if the persisted
	// schema_version disagrees with the code's.
	GetModel(ctx context.Context, sessionID string) (*model.SessionModel, error)

	// PutModel serializes and stores the session model, refreshing its TTL.
	PutModel(ctx context.Context, m *model.SessionModel) error

	// ProgressStart creates the progress record for a freshly-enqueued DAG:
	// {task_id, todo, done:0, tombstone:false}. eventToSendAfter is carried
	// along so a crash-recovery sweep can re-enter the state machine
	// without the in-memory compiled DAG (see worker.Reaper).
	ProgressStart(ctx context.Context, sessionID, taskID string, totalNrSubtasks int, eventToSendAfter string) error

	// ProgressExists reports whether a progress record is present, i.e.
	// whether a DAG is in flight for the session (spec §3 invariant: at
	// most one DAG in-flight per session).
	ProgressExists(ctx context.Context, sessionID string) (bool, error)

	// ProgressUpdateTodo atomically adds delta to total_nr_subtasks (used
	// by `map`'s runtime fan-out expansion) and returns the new total.
	ProgressUpdateTodo(ctx context.Context, sessionID string, delta int) (int, error)

	// ProgressUpdateDone atomically adds delta to nr_subtasks_executed and
	// returns the new count. When the updated count reaches total AND the
	// tombstone flag is set, the record is deleted as part of this call -
	// the "exactly one deletion per DAG" invariant from spec §9.
	ProgressUpdateDone(ctx context.Context, sessionID string, delta int) (int, error)

	// ProgressTombstone marks the record so the next ProgressUpdateDone
	// that reaches done>=total deletes it.
	ProgressTombstone(ctx context.Context, sessionID string) error

	// ProgressStatus returns (todo, done) for a session with an in-flight
	// DAG. Returns UnknownSession-shaped error if no record exists.
	ProgressStatus(ctx context.Context, sessionID string) (todo, done int, err error)

	// ProgressDelete unconditionally removes the progress record,
	// regardless of tombstone/count state. Used by error_handler (which
	// must terminate the DAG immediately on invoker failure) and by the
	// stale-progress reaper.
	ProgressDelete(ctx context.Context, sessionID string) error

	// ProgressRecord returns the raw record, primarily for the reaper and
	// for diagnostics; it is not part of the worker/session-manager
	// contract spec §4.6 closes over.
	ProgressRecord(ctx context.Context, sessionID string) (*model.GenieTaskProgress, error)
}
