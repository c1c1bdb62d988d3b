package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/genieflow/genieflow/internal/common/errors"
	"github.com/genieflow/genieflow/internal/common/logger"
	"github.com/genieflow/genieflow/internal/model"
	"github.com/genieflow/genieflow/internal/statemachine"
	"github.com/genieflow/genieflow/internal/store"
	"github.com/genieflow/genieflow/internal/template"
	"github.com/genieflow/genieflow/internal/worker"
)

// pollEvent is the reserved event name that short-circuits into
// handlePoll rather than the state machine, spec §4.1.
const pollEvent = "poll"

// Manager implements the Session Manager (C7, spec §4.1): the only entry
// point an HTTP layer needs for a GenieFlow session's lifetime, from
// creation through every event it receives. Grounded on
// original_source/genie_flow/session.go's SessionManager.
type Manager struct {
	flows      *statemachine.Registry
	models     *model.ModelKeyRegistry
	store      store.Store
	dispatcher worker.Dispatcher
	templates  *template.Environment
	log        *logger.Logger
}

// NewManager builds a Manager wired to the flow registry, model-constructor
// registry, store, template environment, and the dispatcher the Transition
// Listener hands compiled DAGs to.
func NewManager(flows *statemachine.Registry, models *model.ModelKeyRegistry, st store.Store, disp worker.Dispatcher, tmpl *template.Environment, log *logger.Logger) *Manager {
	return &Manager{flows: flows, models: models, store: st, dispatcher: disp, templates: tmpl, log: log}
}

// StartSession implements spec §4.1's start_session: validate the flow
// key, create a fresh session id and model, render the initial state's
// template synchronously (no invocation, even if the state is otherwise
// INVOKER-classified), record it as the first assistant dialogue element,
// and persist under a freshly acquired lock.
func (m *Manager) StartSession(ctx context.Context, flowTypeKey string) (*Response, error) {
	flow, ok := m.flows.Get(flowTypeKey)
	if !ok {
		return nil, apperrors.UnknownFlow(flowTypeKey)
	}

	sessionID := uuid.NewString()
	sm, err := m.models.New(flowTypeKey, sessionID)
	if err != nil {
		return nil, apperrors.Wrap(err, "building session model")
	}
	sm.State = flow.InitialState

	mc := statemachine.NewMachine(flow, sm, m.templates, nil)
	initial, err := mc.CurrentState()
	if err != nil {
		return nil, err
	}
	if initial.Template == nil || !initial.Template.IsLeaf() {
		return nil, apperrors.InternalError("invalid flow definition", errors.New("initial state must have a leaf template"))
	}

	text, err := m.templates.RenderLeaf(initial.Template.LeafPath, mc.RenderData())
	if err != nil {
		return nil, err
	}
	if err := sm.AppendDialogue(model.ActorAssistant, text, time.Now()); err != nil {
		return nil, err
	}

	lock, err := m.store.AcquireLock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	if err := m.store.PutModel(ctx, sm); err != nil {
		return nil, err
	}

	return &Response{
		SessionID:   sessionID,
		Response:    text,
		NextActions: flow.EventsOut(initial.ID),
	}, nil
}

// ProcessEvent implements spec §4.1's process_event: acquire the session
// lock, load the model, delegate poll events to handlePoll, otherwise
// dispatch the event against a freshly-instantiated machine with a fresh
// Transition Listener attached. TransitionNotAllowed is surfaced inside
// Response.Error (HTTP 200), never returned as an error.
func (m *Manager) ProcessEvent(ctx context.Context, flowTypeKey string, in EventInput) (*Response, error) {
	flow, ok := m.flows.Get(flowTypeKey)
	if !ok {
		return nil, apperrors.UnknownFlow(flowTypeKey)
	}

	lock, err := m.store.AcquireLock(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	sm, err := m.store.GetModel(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	if in.Event == pollEvent {
		return m.handlePoll(ctx, flow, sm)
	}

	listener := NewTransitionListener(m.store, m.dispatcher, m.log)
	mc := statemachine.NewMachine(flow, sm, m.templates, listener)

	if _, err := mc.Send(ctx, in.Event, in.EventInput); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.ErrCodeTransitionNotAllowed {
			detail, merr := json.Marshal(appErr.Detail)
			if merr != nil {
				return nil, merr
			}
			return &Response{SessionID: in.SessionID, Error: string(detail)}, nil
		}
		return nil, err
	}

	if err := m.store.PutModel(ctx, sm); err != nil {
		return nil, err
	}

	exists, err := m.store.ProgressExists(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if exists {
		return &Response{SessionID: in.SessionID, NextActions: []string{pollEvent}}, nil
	}

	return &Response{
		SessionID:   in.SessionID,
		Response:    sm.CurrentResponse(),
		NextActions: flow.EventsOut(sm.State),
	}, nil
}

// handlePoll implements spec §4.1's _handle_poll.
func (m *Manager) handlePoll(ctx context.Context, flow *statemachine.FlowDefinition, sm *model.SessionModel) (*Response, error) {
	exists, err := m.store.ProgressExists(ctx, sm.SessionID)
	if err != nil {
		return nil, err
	}
	if exists {
		todo, done, err := m.store.ProgressStatus(ctx, sm.SessionID)
		if err != nil {
			return nil, err
		}
		return &Response{
			SessionID:   sm.SessionID,
			NextActions: []string{pollEvent},
			Progress:    &Progress{TotalNumberOfSubtasks: todo, NumberOfSubtasksExecuted: done},
		}, nil
	}

	if sm.HasErrors() {
		return &Response{
			SessionID:   sm.SessionID,
			Error:       sm.TaskErrors[len(sm.TaskErrors)-1],
			NextActions: flow.EventsOut(sm.State),
		}, nil
	}

	return &Response{
		SessionID:   sm.SessionID,
		Response:    sm.CurrentResponse(),
		NextActions: flow.EventsOut(sm.State),
	}, nil
}

// GetTaskState implements spec §4.1's get_task_state: ready=false while a
// progress record exists; otherwise the session lock is taken only for
// the model read needed to compute next_actions.
func (m *Manager) GetTaskState(ctx context.Context, flowTypeKey, sessionID string) (*Status, error) {
	flow, ok := m.flows.Get(flowTypeKey)
	if !ok {
		return nil, apperrors.UnknownFlow(flowTypeKey)
	}

	exists, err := m.store.ProgressExists(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if exists {
		return &Status{SessionID: sessionID, Ready: false}, nil
	}

	lock, err := m.store.AcquireLock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sm, err := m.store.GetModel(ctx, sessionID)
	lock.Release(ctx)
	if err != nil {
		return nil, err
	}

	return &Status{
		SessionID:   sessionID,
		Ready:       true,
		NextActions: flow.EventsOut(sm.State),
	}, nil
}

// GetModel implements spec §4.1's get_model: load-under-lock, returned
// verbatim.
func (m *Manager) GetModel(ctx context.Context, sessionID string) (*model.SessionModel, error) {
	lock, err := m.store.AcquireLock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)
	return m.store.GetModel(ctx, sessionID)
}
