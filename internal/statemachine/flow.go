package statemachine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/genieflow/genieflow/internal/model"
	"github.com/genieflow/genieflow/internal/template"
)

// Guard is a pure predicate over the loaded model and the event's raw
// input; spec §4.2 requires guards be side-effect-free. A nil Guard
// always holds.
type Guard func(m *model.SessionModel, eventInput string) bool

// Hook may mutate the model - used for exit hooks that, for instance,
// parse JSON out of actor_input into typed fields (spec §4.2).
type Hook func(m *model.SessionModel, eventInput string) error

// StateDef is one state in a flow definition. Kind is derived at
// Validate() time from whether Template requires an invoker.
type StateDef struct {
	ID       string
	Template *template.Expr
	Kind     StateKind
}

// TransitionDef is one guarded edge `source --event--> target`.
// Transitions for the same (source, event) are tried in registration
// order; the first whose guard holds is taken.
type TransitionDef struct {
	Event  string
	Source string
	Target string
	Guard  Guard
}

// FlowDefinition is a statically registered flow: its states, its guarded
// transitions, and its exit hooks. Grounded on genie_state_machine.py's
// statemachine.StateMachine subclass (states/transitions/hooks declared as
// class attributes) but expressed as an explicit Go value instead of
// Python class-level declarations, per spec §9's redesign note.
type FlowDefinition struct {
	Key          string
	InitialState string
	States       map[string]*StateDef
	Transitions  []*TransitionDef
	ExitHooks    map[string]Hook // keyed by state id, run on leaving that state
	EntryHooks   map[string]Hook // keyed by state id, run on entering that state
}

// NewFlowDefinition builds an empty flow definition for the given
// registry key and initial state id.
func NewFlowDefinition(key, initialState string) *FlowDefinition {
	return &FlowDefinition{
		Key:          key,
		InitialState: initialState,
		States:       make(map[string]*StateDef),
		ExitHooks:    make(map[string]Hook),
		EntryHooks:   make(map[string]Hook),
	}
}

// AddState registers a state and its template. Returns the definition for
// chaining.
func (f *FlowDefinition) AddState(id string, tmpl *template.Expr) *FlowDefinition {
	f.States[id] = &StateDef{ID: id, Template: tmpl}
	return f
}

// AddTransition registers a guarded edge. Returns the definition for
// chaining.
func (f *FlowDefinition) AddTransition(event, source, target string, guard Guard) *FlowDefinition {
	f.Transitions = append(f.Transitions, &TransitionDef{
		Event: event, Source: source, Target: target, Guard: guard,
	})
	return f
}

// OnExit registers a hook run while leaving stateID, before the dialogue
// persistence table is applied.
func (f *FlowDefinition) OnExit(stateID string, hook Hook) *FlowDefinition {
	f.ExitHooks[stateID] = hook
	return f
}

// OnEnter registers a hook run after entering stateID.
func (f *FlowDefinition) OnEnter(stateID string, hook Hook) *FlowDefinition {
	f.EntryHooks[stateID] = hook
	return f
}

// Validate checks registration-time invariants (spec §4.2): every state
// referenced by a transition must exist and carry a template, and derives
// each state's StateKind via env.HasInvoker. Grounded on
// GenieStateMachine.__init__'s "Missing templates for states" check in
// original_source/ai_state_machine/genie_state_machine.go.
func (f *FlowDefinition) Validate(env *template.Environment) error {
	if _, ok := f.States[f.InitialState]; !ok {
		return fmt.Errorf("flow %q: initial state %q is not declared", f.Key, f.InitialState)
	}

	var missing []string
	for id, s := range f.States {
		if s.Template == nil {
			missing = append(missing, id)
			continue
		}
		if env.HasInvoker(s.Template) {
			s.Kind = StateKindInvoker
		} else {
			s.Kind = StateKindUser
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("flow %q: missing templates for states: %s", f.Key, strings.Join(missing, ", "))
	}

	for _, t := range f.Transitions {
		if _, ok := f.States[t.Source]; !ok {
			return fmt.Errorf("flow %q: transition %q references unknown source state %q", f.Key, t.Event, t.Source)
		}
		if _, ok := f.States[t.Target]; !ok {
			return fmt.Errorf("flow %q: transition %q references unknown target state %q", f.Key, t.Event, t.Target)
		}
	}
	return nil
}

// EventsOut returns the distinct event names that can fire from stateID,
// in registration order - used to populate Response.next_actions and
// TransitionNotAllowed's possible_events (spec §4.1/§7).
func (f *FlowDefinition) EventsOut(stateID string) []string {
	seen := make(map[string]bool)
	var events []string
	for _, t := range f.Transitions {
		if t.Source != stateID || seen[t.Event] {
			continue
		}
		seen[t.Event] = true
		events = append(events, t.Event)
	}
	return events
}
