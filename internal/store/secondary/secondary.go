// Package secondary is the durable archival store grounded on
// original_source/genie_flow/model/secondary_store.py's SecondaryStore:
// the primary Redis object store expires session models on a TTL (spec
// §3), so completed sessions are archived here, backed by Postgres via
// pgx, before they can be lost.
package secondary

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/genieflow/genieflow/internal/common/errors"
	"github.com/genieflow/genieflow/internal/common/logger"
	"github.com/genieflow/genieflow/internal/model"
	"github.com/genieflow/genieflow/internal/store"
)

const className = "SessionModel"

const schema = `
CREATE TABLE IF NOT EXISTS genieflow_archive (
	session_id   TEXT PRIMARY KEY,
	payload      BYTEA NOT NULL,
	archived_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PersistenceState tracks whether an in-memory archival record still needs
// to be written, mirroring the original's PersistenceState enum.
type PersistenceState int

const (
	StateNewObject PersistenceState = iota
	StateRetrievedObject
	StateDeletedObject
)

// Store is the pgx-backed archival store.
type Store struct {
	pool        *pgxpool.Pool
	appPrefix   string
	compression bool
	logger      *logger.Logger
}

// New opens the archival store against an already-migrated or
// to-be-migrated Postgres database.
func New(pool *pgxpool.Pool, appPrefix string, compression bool, log *logger.Logger) *Store {
	return &Store{pool: pool, appPrefix: appPrefix, compression: compression, logger: log}
}

// Migrate creates the archive table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Archive durably persists a session's final model, keyed the same way as
// the primary object store (spec §4.6 key scheme, kind=secondary).
func (s *Store) Archive(ctx context.Context, m *model.SessionModel) error {
	key := store.SecondaryKey(s.appPrefix, className, m.SessionID)
	payload, err := store.Serialize(m, s.compression)
	if err != nil {
		return errors.PersistenceErr("secondary.serialize", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO genieflow_archive (session_id, payload) VALUES ($1, $2)
		 ON CONFLICT (session_id) DO UPDATE SET payload = excluded.payload, archived_at = now()`,
		key, payload)
	if err != nil {
		return errors.PersistenceErr("secondary.archive", err)
	}
	return nil
}

// Retrieve loads a session's archived model, PersistenceState tracking left
// to the caller per the original's from_retrieved_values convention.
func (s *Store) Retrieve(ctx context.Context, sessionID string) (*model.SessionModel, error) {
	key := store.SecondaryKey(s.appPrefix, className, sessionID)

	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM genieflow_archive WHERE session_id = $1`, key).Scan(&raw)
	if err != nil {
		return nil, errors.UnknownSession(sessionID)
	}

	payload, err := store.Deserialize(raw, className, model.SessionSchemaVersion)
	if err != nil {
		return nil, err
	}
	var m model.SessionModel
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, errors.PersistenceErr("secondary.unmarshal", err)
	}
	return &m, nil
}

// Delete removes a session's archived record, marking it StateDeletedObject
// in the caller's bookkeeping.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	key := store.SecondaryKey(s.appPrefix, className, sessionID)
	_, err := s.pool.Exec(ctx, `DELETE FROM genieflow_archive WHERE session_id = $1`, key)
	if err != nil {
		return errors.PersistenceErr("secondary.delete", err)
	}
	return nil
}
