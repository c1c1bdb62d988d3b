package worker

import (
	"context"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"github.com/genieflow/genieflow/internal/common/logger"
	"github.com/genieflow/genieflow/internal/model"
)

// staleProgressLister is implemented by store backends that can enumerate
// in-flight progress records older than a cutoff. Only the sqlite backend
// implements it (internal/store/sqlite.Store.ListStaleProgress): Redis
// progress records already self-expire via their TTL (see
// internal/store/redis.Store's progExpiration), so a Reaper pointed at a
// Redis-backed store degrades to a no-op sweep rather than erroring -
// Redis's own expiry is the reaper for that backend.
type staleProgressLister interface {
	ListStaleProgress(ctx context.Context, olderThan time.Duration) ([]model.GenieTaskProgress, error)
}

// Reaper periodically sweeps for sessions whose in-flight DAG has been
// stuck for longer than staleAfter - a worker crash mid-DAG, or an invoker
// that hung without ever failing - and force-terminates them through the
// same error_handler path a normal invoker failure takes. Grounded on
// goa-ai's go.mod require of github.com/robfig/cron for the scheduling
// shape, and on the teacher's internal/agent/lifecycle.Manager cleanup
// loop (ticker-driven background sweep with a stop channel) for the
// start/stop lifecycle; the retrieved slices of both repos have no call
// site for robfig/cron, so the schedule expression and AddFunc usage here
// follow the library's documented v1 API directly.
type Reaper struct {
	runtime    *Runtime
	staleAfter time.Duration
	log        *logger.Logger

	cron *cron.Cron
}

// NewReaper builds a Reaper that force-terminates any session whose
// progress record is older than staleAfter. The sweep schedule is given
// to Start.
func NewReaper(rt *Runtime, staleAfter time.Duration, log *logger.Logger) *Reaper {
	return &Reaper{
		runtime:    rt,
		staleAfter: staleAfter,
		log:        log.WithFields(zap.String("component", "worker-reaper")),
		cron:       cron.New(),
	}
}

// Start schedules the sweep on schedule, a robfig/cron v1 spec (a
// descriptor such as "@every 1m", or a field list whose first field is
// seconds), and begins running it in the background.
func (r *Reaper) Start(schedule string) error {
	if err := r.cron.AddFunc(schedule, r.sweepOnce); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule. Any sweep already in flight runs to completion.
func (r *Reaper) Stop() {
	r.cron.Stop()
}

// sweepOnce runs one reap pass. A store backend that does not implement
// staleProgressLister (Redis) is skipped with a debug log rather than an
// error: its progress TTL already reaps stale records on its own.
func (r *Reaper) sweepOnce() {
	lister, ok := r.runtime.store.(staleProgressLister)
	if !ok {
		r.log.Debug("store backend has no stale-progress scan; relying on its own TTL")
		return
	}

	ctx := context.Background()
	stale, err := lister.ListStaleProgress(ctx, r.staleAfter)
	if err != nil {
		r.log.Error("scanning for stale progress", zap.Error(err))
		return
	}

	for _, p := range stale {
		r.log.Warn("reaping stale session",
			zap.String("session_id", p.SessionID),
			zap.String("task_id", p.TaskID),
			zap.Int("todo", p.TotalNrSubtasks),
			zap.Int("done", p.NrSubtasksExecuted),
		)

		m, gerr := r.runtime.store.GetModel(ctx, p.SessionID)
		if gerr != nil {
			r.log.Error("loading model for stale session", zapErrorFields(p.SessionID, gerr)...)
			continue
		}
		if err := r.runtime.ErrorHandler(ctx, context.DeadlineExceeded, m.FlowTypeKey, p.SessionID, p.EventToSendAfter); err != nil {
			r.log.Error("force error_handler on stale session", zapErrorFields(p.SessionID, err)...)
		}
	}
}
