package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/genieflow/genieflow/internal/common/logger"
	"github.com/genieflow/genieflow/internal/compiler"
	"github.com/genieflow/genieflow/internal/statemachine"
	"github.com/genieflow/genieflow/internal/store"
	"github.com/genieflow/genieflow/internal/worker"
)

// modelFQN is carried into compiler.DAG.ErrorHandlerArgs purely for
// logging/diagnostic symmetry with the original's class-FQN round-trip
// (original_source/genie_flow/celery/__init__.go's get_fully_qualified_name_from_class).
// It plays no role in reloading the model: GenieFlow has a single
// SessionModel type, loaded by session id alone (spec §9's Open Question
// on per-flow model subclassing), so this is a constant rather than a
// reflected class path.
const modelFQN = "genieflow.model.SessionModel"

// TransitionListener bridges statemachine.Machine.Send's INVOKER-target
// callback to the Task Graph Compiler and the Worker Runtime's dispatcher
// (spec §4.8): compile the target state's template, start its progress
// record, then hand the DAG to the dispatcher. Built fresh per
// process_event dispatch, per spec §4.2 ("One instance per state-machine
// dispatch"). Grounded on
// original_source/ai_state_machine/event_observer.go's
// GenieStateMachineObserver._enqueue_task.
type TransitionListener struct {
	store store.Store
	disp  worker.Dispatcher
	log   *logger.Logger
}

// NewTransitionListener builds a listener that starts progress against st
// and dispatches compiled DAGs via disp.
func NewTransitionListener(st store.Store, disp worker.Dispatcher, log *logger.Logger) *TransitionListener {
	return &TransitionListener{store: st, disp: disp, log: log}
}

var _ statemachine.TransitionListener = (*TransitionListener)(nil)

// OnInvokerTransition implements statemachine.TransitionListener.
func (l *TransitionListener) OnInvokerTransition(ctx context.Context, mc *statemachine.Machine, outcome *statemachine.TransitionOutcome) error {
	sessionID := mc.Model().SessionID
	flowTypeKey := mc.Flow().Key

	events := mc.Flow().EventsOut(outcome.Target.ID)
	if len(events) == 0 {
		return fmt.Errorf("session %s: invoker state %q declares no outgoing events to send after its task completes", sessionID, outcome.Target.ID)
	}
	eventToSendAfter := events[0]

	renderData := mc.RenderData()
	dag, err := compiler.Wrap(outcome.Target.Template, modelFQN, sessionID, eventToSendAfter)
	if err != nil {
		return fmt.Errorf("compiling task graph for state %q: %w", outcome.Target.ID, err)
	}

	taskID := uuid.NewString()
	if err := l.store.ProgressStart(ctx, sessionID, taskID, dag.SubtaskCount, eventToSendAfter); err != nil {
		return err
	}

	l.log.Info("enqueuing invoker task graph",
		zap.String("session_id", sessionID),
		zap.String("flow_type_key", flowTypeKey),
		zap.String("target_state", outcome.Target.ID),
		zap.String("task_id", taskID),
		zap.Int("subtask_count", dag.SubtaskCount),
	)

	if err := l.disp.Dispatch(ctx, dag, renderData, sessionID, flowTypeKey); err != nil {
		if derr := l.store.ProgressDelete(ctx, sessionID); derr != nil {
			l.log.Error("rolling back progress record after dispatch failure",
				zap.String("session_id", sessionID), zap.Error(derr))
		}
		return fmt.Errorf("dispatching task graph for state %q: %w", outcome.Target.ID, err)
	}
	return nil
}
