// Package redis is the production Store backend (C1): Redis-backed object
// store, distributed session lock with auto-renewal, and an atomic
// progress hash. Grounded on
// original_source/genie_flow/session_lock.py's SessionLockManager, adapted
// from pydantic_redis + redis_lock to go-redis's primitives.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/genieflow/genieflow/internal/common/errors"
	"github.com/genieflow/genieflow/internal/common/logger"
	"github.com/genieflow/genieflow/internal/model"
	"github.com/genieflow/genieflow/internal/store"
)

const className = "SessionModel"

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

const renewScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// Store is the Redis-backed implementation of store.Store.
type Store struct {
	objectClient   *redis.Client
	lockClient     *redis.Client
	progressClient *redis.Client

	appPrefix        string
	objectExpiration time.Duration
	lockExpiration   time.Duration
	progExpiration   time.Duration
	compression      bool

	logger *logger.Logger
}

// Config carries the three Redis connections and the expirations/flags
// spec §4.6 requires. The three connections may point at the same server
// (as the original does with a single Redis), separate logical DBs, or
// separate clusters - the Store does not care.
type Config struct {
	ObjectClient     *redis.Client
	LockClient       *redis.Client
	ProgressClient   *redis.Client
	AppPrefix        string
	ObjectExpiration time.Duration
	LockExpiration   time.Duration
	ProgExpiration   time.Duration
	Compression      bool
}

// New builds a redis-backed Store.
func New(cfg Config, log *logger.Logger) *Store {
	return &Store{
		objectClient:     cfg.ObjectClient,
		lockClient:       cfg.LockClient,
		progressClient:   cfg.ProgressClient,
		appPrefix:        cfg.AppPrefix,
		objectExpiration: cfg.ObjectExpiration,
		lockExpiration:   cfg.LockExpiration,
		progExpiration:   cfg.ProgExpiration,
		compression:      cfg.Compression,
		logger:           log.WithFields(zap.String("component", "redis-store")),
	}
}

// lock is a held distributed lock, auto-renewed on a background goroutine
// until Release is called - mirroring redis_lock.Lock(auto_renewal=True)
// in original_source/genie_flow/session_lock.py.
type lock struct {
	client    *redis.Client
	key       string
	token     string
	ttl       time.Duration
	cancel    context.CancelFunc
	renewDone chan struct{}
}

func (s *Store) acquireOnce(ctx context.Context, key string, ttl time.Duration) (*redis.Client, string, bool, error) {
	token := uuid.NewString()
	ok, err := s.lockClient.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, "", false, err
	}
	return s.lockClient, token, ok, nil
}

// AcquireLock implements store.Store.
func (s *Store) AcquireLock(ctx context.Context, sessionID string) (store.Lock, error) {
	key := store.LockKey(s.appPrefix, sessionID)

	deadline := time.Now().Add(s.lockExpiration * 3)
	backoff := 20 * time.Millisecond
	for {
		client, token, ok, err := s.acquireOnce(ctx, key, s.lockExpiration)
		if err != nil {
			return nil, errors.PersistenceErr("lock.acquire", err)
		}
		if ok {
			renewCtx, cancel := context.WithCancel(context.Background())
			l := &lock{
				client:    client,
				key:       key,
				token:     token,
				ttl:       s.lockExpiration,
				cancel:    cancel,
				renewDone: make(chan struct{}),
			}
			go l.renewLoop(renewCtx, s.logger)
			return l, nil
		}

		if time.Now().After(deadline) {
			return nil, errors.LockAcquireTimeoutErr(sessionID)
		}
		select {
		case <-ctx.Done():
			return nil, errors.LockAcquireTimeoutErr(sessionID)
		case <-time.After(backoff):
		}
	}
}

func (l *lock) renewLoop(ctx context.Context, log *logger.Logger) {
	defer close(l.renewDone)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := l.client.Eval(ctx, renewScript, []string{l.key}, l.token, l.ttl.Milliseconds()).Result()
			if err != nil {
				log.Warn("lock renewal failed", zap.String("key", l.key), zap.Error(err))
				continue
			}
			if n, _ := res.(int64); n == 0 {
				log.Warn("lock renewal found a different or missing holder", zap.String("key", l.key))
			}
		}
	}
}

// Release implements store.Lock.
func (l *lock) Release(ctx context.Context) error {
	l.cancel()
	<-l.renewDone
	_, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Result()
	return err
}

// GetModel implements store.Store.
func (s *Store) GetModel(ctx context.Context, sessionID string) (*model.SessionModel, error) {
	key := store.ObjectKey(s.appPrefix, className, sessionID)
	raw, err := s.objectClient.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, errors.UnknownSession(sessionID)
	}
	if err != nil {
		return nil, errors.PersistenceErr("object.get", err)
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
	key := store.ObjectKey(s.appPrefix, className, m.SessionID)
	payload, err := store.Serialize(m, s.compression)
	if err != nil {
		return errors.PersistenceErr("object.serialize", err)
	}
	if err := s.objectClient.Set(ctx, key, payload, s.objectExpiration).Err(); err != nil {
		return errors.PersistenceErr("object.set", err)
	}
	return nil
}

// ProgressStart implements store.Store.
func (s *Store) ProgressStart(ctx context.Context, sessionID, taskID string, totalNrSubtasks int, eventToSendAfter string) error {
	key := store.ProgressKey(s.appPrefix, sessionID)
	s.logger.Info("starting progress record",
		zap.String("session_id", sessionID), zap.Int("total_nr_subtasks", totalNrSubtasks))

	pipe := s.progressClient.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"task_id":              taskID,
		"total_nr_subtasks":    totalNrSubtasks,
		"nr_subtasks_executed": 0,
		"tombstone":            "f",
		"event_to_send_after":  eventToSendAfter,
	})
	pipe.Expire(ctx, key, s.progExpiration)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.PersistenceErr("progress.start", err)
	}
	return nil
}

// ProgressExists implements store.Store.
func (s *Store) ProgressExists(ctx context.Context, sessionID string) (bool, error) {
	key := store.ProgressKey(s.appPrefix, sessionID)
	n, err := s.progressClient.Exists(ctx, key).Result()
	if err != nil {
		return false, errors.PersistenceErr("progress.exists", err)
	}
	return n > 0, nil
}

// ProgressUpdateTodo implements store.Store.
func (s *Store) ProgressUpdateTodo(ctx context.Context, sessionID string, delta int) (int, error) {
	key := store.ProgressKey(s.appPrefix, sessionID)
	n, err := s.progressClient.HIncrBy(ctx, key, "total_nr_subtasks", int64(delta)).Result()
	if err != nil {
		return 0, errors.PersistenceErr("progress.update_todo", err)
	}
	return int(n), nil
}

// ProgressUpdateDone implements store.Store. When the new done count meets
// or exceeds todo AND the tombstone flag is set, the record is deleted here
// - the single point where "exactly one deletion per DAG" (spec §9) is
// enforced for the success path.
func (s *Store) ProgressUpdateDone(ctx context.Context, sessionID string, delta int) (int, error) {
	key := store.ProgressKey(s.appPrefix, sessionID)
	done, err := s.progressClient.HIncrBy(ctx, key, "nr_subtasks_executed", int64(delta)).Result()
	if err != nil {
		return 0, errors.PersistenceErr("progress.update_done", err)
	}

	vals, err := s.progressClient.HMGet(ctx, key, "total_nr_subtasks", "tombstone").Result()
	if err != nil {
		return int(done), errors.PersistenceErr("progress.update_done.read", err)
	}
	todo := toInt(vals[0])
	tombstoned := fmt.Sprint(vals[1]) == "t"

	if tombstoned && int(done) >= todo {
		if err := s.progressClient.Del(ctx, key).Err(); err != nil {
			return int(done), errors.PersistenceErr("progress.update_done.delete", err)
		}
	}
	return int(done), nil
}

// ProgressTombstone implements store.Store.
func (s *Store) ProgressTombstone(ctx context.Context, sessionID string) error {
	key := store.ProgressKey(s.appPrefix, sessionID)
	if err := s.progressClient.HSet(ctx, key, "tombstone", "t").Err(); err != nil {
		return errors.PersistenceErr("progress.tombstone", err)
	}
	return nil
}

// ProgressStatus implements store.Store.
func (s *Store) ProgressStatus(ctx context.Context, sessionID string) (int, int, error) {
	key := store.ProgressKey(s.appPrefix, sessionID)
	vals, err := s.progressClient.HMGet(ctx, key, "total_nr_subtasks", "nr_subtasks_executed").Result()
	if err != nil {
		return 0, 0, errors.PersistenceErr("progress.status", err)
	}
	if vals[0] == nil || vals[1] == nil {
		return 0, 0, errors.UnknownSession(sessionID)
	}
	return toInt(vals[0]), toInt(vals[1]), nil
}

// ProgressDelete implements store.Store.
func (s *Store) ProgressDelete(ctx context.Context, sessionID string) error {
	key := store.ProgressKey(s.appPrefix, sessionID)
	if err := s.progressClient.Del(ctx, key).Err(); err != nil {
		return errors.PersistenceErr("progress.delete", err)
	}
	return nil
}

// ProgressRecord implements store.Store.
func (s *Store) ProgressRecord(ctx context.Context, sessionID string) (*model.GenieTaskProgress, error) {
	key := store.ProgressKey(s.appPrefix, sessionID)
	vals, err := s.progressClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errors.PersistenceErr("progress.record", err)
	}
	if len(vals) == 0 {
		return nil, errors.UnknownSession(sessionID)
	}
	return &model.GenieTaskProgress{
		SessionID:          sessionID,
		TaskID:             vals["task_id"],
		TotalNrSubtasks:    toInt(vals["total_nr_subtasks"]),
		NrSubtasksExecuted: toInt(vals["nr_subtasks_executed"]),
		Tombstone:          vals["tombstone"] == "t",
		EventToSendAfter:   vals["event_to_send_after"],
	}, nil
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case string:
		var n int
		_, _ = fmt.Sscanf(t, "%d", &n)
		return n
	default:
		var n int
		_, _ = fmt.Sscanf(fmt.Sprint(v), "%d", &n)
		return n
	}
}

var _ store.Store = (*Store)(nil)
