package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/genieflow/genieflow/internal/common/errors"
	"github.com/genieflow/genieflow/internal/common/logger"
	"github.com/genieflow/genieflow/internal/compiler"
	"github.com/genieflow/genieflow/internal/statemachine"
	"github.com/genieflow/genieflow/internal/store"
	"github.com/genieflow/genieflow/internal/template"
)

// Runtime executes compiled DAGs (spec §4.5). Every task except
// trigger_event/error_handler is a "progress-logging task": success
// increments the progress record's done counter, failure tombstones it
// (spec §4.5's closing paragraph); these updates never take the session
// lock (spec §5 - "the lock is acquired only in trigger_event/
// error_handler, never in middle-of-DAG tasks").
type Runtime struct {
	store   store.Store
	env     *template.Environment
	flows   *statemachine.Registry
	custom  map[string]CustomTaskFunc
	log     *logger.Logger
}

// NewRuntime builds a Runtime wired to the given store, template
// environment, and flow registry.
func NewRuntime(st store.Store, env *template.Environment, flows *statemachine.Registry, log *logger.Logger) *Runtime {
	return &Runtime{
		store:  st,
		env:    env,
		flows:  flows,
		custom: make(map[string]CustomTaskFunc),
		log:    log,
	}
}

// RegisterTask binds a TaskRef name to its implementation.
func (r *Runtime) RegisterTask(name string, fn CustomTaskFunc) {
	r.custom[name] = fn
}

// logProgress records one subtask's outcome against the session's
// progress record, independent of the session lock.
func (r *Runtime) logProgress(ctx context.Context, sessionID string, taskErr error) {
	if taskErr != nil {
		if err := r.store.ProgressTombstone(ctx, sessionID); err != nil {
			r.log.Error("tombstoning progress after task failure", zapErrorFields(sessionID, err)...)
		}
		return
	}
	if err := r.store.ProgressUpdateDone(ctx, sessionID, 1); err != nil {
		r.log.Error("recording task completion", zapErrorFields(sessionID, err)...)
	}
}

// Execute runs a compiled DAG end to end: walks dag.Root, then calls
// TriggerEvent on success or ErrorHandler on failure. sessionID and
// flowTypeKey identify the session whose progress and model this DAG
// belongs to.
func (r *Runtime) Execute(ctx context.Context, dag *compiler.DAG, renderData map[string]any, sessionID, flowTypeKey string) {
	// dag.Root is always the TaskTriggerEvent wrapper (compiler.Wrap);
	// its sole child is the actual compiled template DAG.
	inner := dag.Root.Children[0]

	result, err := r.executeNode(ctx, inner, renderData, sessionID)
	if err != nil {
		if herr := r.ErrorHandler(ctx, err, flowTypeKey, sessionID, dag.ErrorHandlerArgs.EventToSendAfter); herr != nil {
			r.log.Error("error_handler failed", zapErrorFields(sessionID, herr)...)
		}
		return
	}

	if terr := r.TriggerEvent(ctx, result, flowTypeKey, dag.ErrorHandlerArgs.EventToSendAfter, sessionID); terr != nil {
		r.log.Error("trigger_event failed", zapErrorFields(sessionID, terr)...)
	}
}

// executeNode recursively executes one compiled signature, returning its
// string result. Every leaf-level execution is progress-logged.
func (r *Runtime) executeNode(ctx context.Context, sig *compiler.Signature, renderData map[string]any, sessionID string) (string, error) {
	switch sig.Kind {
	case compiler.TaskInvoke:
		out, err := Invoke(ctx, r.env, renderData, sig.TemplateName)
		r.logProgress(ctx, sessionID, err)
		return out, err

	case compiler.TaskCustom:
		fn, ok := r.custom[sig.TaskName]
		if !ok {
			err := fmt.Errorf("custom task %q is not registered", sig.TaskName)
			r.logProgress(ctx, sessionID, err)
			return "", err
		}
		out, err := fn(ctx, renderData, sessionID)
		r.logProgress(ctx, sessionID, err)
		return out, err

	case compiler.TaskChainCtx:
		prev, err := r.executeNode(ctx, sig.Children[0], renderData, sessionID)
		if err != nil {
			return "", err
		}
		next := ChainCtx(prev, renderData)
		r.logProgress(ctx, sessionID, nil)
		return r.executeNode(ctx, sig.Children[1], next, sessionID)

	case compiler.TaskCombineDict:
		results := make([]string, len(sig.Children))
		errs := make([]error, len(sig.Children))
		var wg sync.WaitGroup
		for i, child := range sig.Children {
			wg.Add(1)
			go func(i int, child *compiler.Signature) {
				defer wg.Done()
				results[i], errs[i] = r.executeNode(ctx, child, renderData, sessionID)
			}(i, child)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return "", err
			}
		}
		out, err := CombineDict(results, sig.Keys)
		r.logProgress(ctx, sessionID, err)
		return out, err

	case compiler.TaskMap:
		return r.executeMap(ctx, sig, renderData, sessionID)

	default:
		err := fmt.Errorf("cannot execute signature of kind %v directly", sig.Kind)
		r.logProgress(ctx, sessionID, err)
		return "", err
	}
}

// executeMap resolves the map's list at runtime, fans out one invoke per
// element, and joins with combine_list - the runtime half of spec §4.4's
// MapOver rule. The runtime fan-out size is added to the progress
// record's todo count (spec §5's map_runtime_expansion).
func (r *Runtime) executeMap(ctx context.Context, sig *compiler.Signature, renderData map[string]any, sessionID string) (string, error) {
	spec := sig.MapOver
	if spec.Item == nil || spec.Item.Kind != template.KindLeaf {
		err := fmt.Errorf("map_over item must be a leaf template")
		r.logProgress(ctx, sessionID, err)
		return "", err
	}

	items, err := MapExpand(renderData, spec)
	if err != nil {
		r.logProgress(ctx, sessionID, err)
		return "", err
	}

	if _, err := r.store.ProgressUpdateTodo(ctx, sessionID, len(items)); err != nil {
		r.log.Error("updating progress todo for map fan-out", zapErrorFields(sessionID, err)...)
	}

	results := make([]string, len(items))
	for i, item := range items {
		out, ierr := Invoke(ctx, r.env, item, spec.Item.LeafPath)
		r.logProgress(ctx, sessionID, ierr)
		if ierr != nil {
			return "", ierr
		}
		results[i] = out
	}

	out, cerr := CombineList(results)
	r.logProgress(ctx, sessionID, cerr)
	return out, cerr
}

// TriggerEvent implements spec §4.5's `trigger_event`: acquire the
// session lock, load the model, verify-then-delete the progress record,
// re-enter the state machine with the DAG's final result, persist.
func (r *Runtime) TriggerEvent(ctx context.Context, previousResult, flowTypeKey, eventToSendAfter, sessionID string) error {
	lock, err := r.store.AcquireLock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	m, err := r.store.GetModel(ctx, sessionID)
	if err != nil {
		return err
	}

	todo, done, err := r.store.ProgressStatus(ctx, sessionID)
	if err == nil && done > todo {
		// Tolerated per spec §5: the counter may over-advance during a
		// map's runtime expansion; log and proceed.
		r.log.Warn("progress done exceeds todo at trigger_event",
			zap.String("session_id", sessionID),
			zap.Int("done", done),
			zap.Int("todo", todo),
		)
	}
	if err := r.store.ProgressDelete(ctx, sessionID); err != nil {
		return errors.PersistenceErr("progress_delete", err)
	}

	flow, ok := r.flows.Get(flowTypeKey)
	if !ok {
		return errors.UnknownFlow(flowTypeKey)
	}

	mc := statemachine.NewMachine(flow, m, r.env, nil)
	if _, err := mc.Send(ctx, eventToSendAfter, previousResult); err != nil {
		return err
	}

	return r.store.PutModel(ctx, m)
}

// ErrorHandler implements spec §4.5's `error_handler`: acquire the
// session lock, load the model, send event_to_send_after with an empty
// string so the flow's declared error-recovery branch is taken, record
// the failure, persist.
func (r *Runtime) ErrorHandler(ctx context.Context, cause error, flowTypeKey, sessionID, eventToSendAfter string) error {
	lock, err := r.store.AcquireLock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	m, err := r.store.GetModel(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := r.store.ProgressTombstone(ctx, sessionID); err != nil {
		r.log.Error("tombstoning progress in error_handler", zapErrorFields(sessionID, err)...)
	}
	// error_handler is the DAG's terminal step on the failure path, so no
	// further subtask completion will ever observe the tombstone through
	// ProgressUpdateDone's conditional delete - delete explicitly here.
	if err := r.store.ProgressDelete(ctx, sessionID); err != nil {
		r.log.Error("deleting progress in error_handler", zapErrorFields(sessionID, err)...)
	}

	flow, ok := r.flows.Get(flowTypeKey)
	if !ok {
		return errors.UnknownFlow(flowTypeKey)
	}

	mc := statemachine.NewMachine(flow, m, r.env, nil)
	if _, serr := mc.Send(ctx, eventToSendAfter, ""); serr != nil {
		return serr
	}

	record := map[string]any{
		"session_id": sessionID,
		"exception":  cause.Error(),
	}
	if aerr := m.AppendTaskError(record); aerr != nil {
		return aerr
	}

	return r.store.PutModel(ctx, m)
}

func zapErrorFields(sessionID string, err error) []zap.Field {
	return []zap.Field{zap.String("session_id", sessionID), zap.Error(err)}
}
