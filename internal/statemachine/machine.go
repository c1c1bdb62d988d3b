package statemachine

import (
	"context"
	"fmt"
	"time"

	"github.com/genieflow/genieflow/internal/common/errors"
	"github.com/genieflow/genieflow/internal/model"
	"github.com/genieflow/genieflow/internal/template"
)

// TransitionOutcome describes a completed Send() call: which transition
// fired and what dialogue persistence it resolved to.
type TransitionOutcome struct {
	Event       string
	Source      *StateDef
	Target      *StateDef
	Persistence DialoguePersistence
}

// Machine is an ephemeral state machine instance bound to one loaded
// session model (spec §4.2: "instantiated for each event dispatch, bound
// to the currently-loaded model"). Grounded on GenieStateMachine in
// original_source/ai_state_machine/genie_state_machine.go, restructured
// per spec §9's redesign note as a pure dispatch function over an explicit
// FlowDefinition rather than a statemachine.StateMachine subclass.
type Machine struct {
	flow     *FlowDefinition
	model    *model.SessionModel
	env      *template.Environment
	listener TransitionListener
}

// NewMachine binds flow and env to m. listener may be nil for read-only
// use (e.g. computing render data or current-state queries); Send requires
// a listener whenever a transition's target is an INVOKER state.
func NewMachine(flow *FlowDefinition, m *model.SessionModel, env *template.Environment, listener TransitionListener) *Machine {
	return &Machine{flow: flow, model: m, env: env, listener: listener}
}

// Model returns the bound session model.
func (mc *Machine) Model() *model.SessionModel { return mc.model }

// Flow returns the bound flow definition.
func (mc *Machine) Flow() *FlowDefinition { return mc.flow }

// CurrentState resolves the model's persisted state field against the
// flow definition.
func (mc *Machine) CurrentState() (*StateDef, error) {
	s, ok := mc.flow.States[mc.model.State]
	if !ok {
		return nil, fmt.Errorf("session %s: current state %q is not declared in flow %q", mc.model.SessionID, mc.model.State, mc.flow.Key)
	}
	return s, nil
}

// RenderData builds the data context template rendering uses: the model's
// Extraction bag plus the conventional keys (state_id, actor, actor_input,
// chat_history, dialogue), matching GenieStateMachine.render_data's
// model_dump()-plus-extras shape in the original.
func (mc *Machine) RenderData() map[string]any {
	data := make(map[string]any, len(mc.model.Extraction)+6)
	for k, v := range mc.model.Extraction {
		data[k] = v
	}
	data["session_id"] = mc.model.SessionID
	data["state_id"] = mc.model.State
	data["actor"] = mc.model.Actor
	data["actor_input"] = mc.model.ActorInput
	chat, _ := model.Format(mc.model.Dialogue, model.DialogueFormatChat)
	data["chat_history"] = chat
	data["dialogue"] = mc.model.Dialogue
	return data
}

// Send dispatches event against the current state (spec §4.2). It
// implements before_transition (actor/actor_input bookkeeping),
// after_transition (exit hook plus the dialogue persistence table, applied
// unconditionally), and finally on_transition's invoker-enqueue branch -
// matching original_source/genie_flow/celery/transition.go, where
// after_transition always runs and on_transition only gates whether a task
// is enqueued.
func (mc *Machine) Send(ctx context.Context, event, eventInput string) (*TransitionOutcome, error) {
	cur, err := mc.CurrentState()
	if err != nil {
		return nil, err
	}

	var matched *TransitionDef
	for _, t := range mc.flow.Transitions {
		if t.Source != cur.ID || t.Event != event {
			continue
		}
		if t.Guard != nil && !t.Guard(mc.model, eventInput) {
			continue
		}
		matched = t
		break
	}
	if matched == nil {
		return nil, errors.TransitionNotAllowed(errors.TransitionDetail{
			SessionID:      mc.model.SessionID,
			CurrentStateID: cur.ID,
			CurrentState:   cur.ID,
			PossibleEvents: mc.flow.EventsOut(cur.ID),
			ReceivedEvent:  event,
		})
	}

	target, ok := mc.flow.States[matched.Target]
	if !ok {
		return nil, fmt.Errorf("session %s: transition %q targets undeclared state %q", mc.model.SessionID, matched.Event, matched.Target)
	}

	// before_transition
	mc.model.ActorInput = eventInput
	if target.Kind == StateKindInvoker {
		mc.model.Actor = string(model.ActorAssistant)
	} else {
		mc.model.Actor = string(model.ActorUser)
	}

	outcome := &TransitionOutcome{
		Event:       matched.Event,
		Source:      cur,
		Target:      target,
		Persistence: DialoguePersistenceFor(cur.Kind, target.Kind),
	}

	// after_transition runs unconditionally, regardless of the target's
	// kind - only its table lookup (DialogueNone for INVOKER->INVOKER)
	// decides whether anything is actually recorded.
	if hook, ok := mc.flow.ExitHooks[cur.ID]; ok {
		if err := hook(mc.model, eventInput); err != nil {
			return nil, fmt.Errorf("exit hook for state %q: %w", cur.ID, err)
		}
	}

	if err := mc.applyDialoguePersistence(outcome); err != nil {
		return nil, err
	}

	// on_transition: INVOKER targets enqueue a DAG instead of running the
	// target's entry hook here - the invoker state's own exit (when the
	// task completes) and the next state's entry are applied later by
	// trigger_event re-entering Send with the DAG's final result.
	if target.Kind == StateKindInvoker {
		if mc.listener == nil {
			return nil, fmt.Errorf("session %s: transition to invoker state %q requires a TransitionListener", mc.model.SessionID, target.ID)
		}
		if err := mc.listener.OnInvokerTransition(ctx, mc, outcome); err != nil {
			return nil, err
		}
		mc.model.State = target.ID
		return outcome, nil
	}

	mc.model.State = target.ID

	if hook, ok := mc.flow.EntryHooks[target.ID]; ok {
		if err := hook(mc.model, eventInput); err != nil {
			return nil, fmt.Errorf("entry hook for state %q: %w", target.ID, err)
		}
	}

	return outcome, nil
}

// applyDialoguePersistence implements after_transition's table (spec
// §4.2/§9): DialogueNone records nothing, DialogueRaw records actor_input
// verbatim as a user element, DialogueRendered renders the target's
// template synchronously first and records it as an assistant element.
func (mc *Machine) applyDialoguePersistence(outcome *TransitionOutcome) error {
	if outcome.Persistence == DialogueNone {
		return nil
	}

	text := mc.model.ActorInput
	actor := model.ActorUser
	if outcome.Persistence == DialogueRendered {
		if outcome.Target.Template == nil || outcome.Target.Template.Kind != template.KindLeaf {
			return fmt.Errorf("state %q: DialogueRendered requires a leaf template", outcome.Target.ID)
		}
		rendered, err := mc.env.RenderLeaf(outcome.Target.Template.LeafPath, mc.RenderData())
		if err != nil {
			return err
		}
		text = rendered
		mc.model.ActorInput = rendered
		actor = model.ActorAssistant
	}

	return mc.model.AppendDialogue(actor, text, time.Now())
}
