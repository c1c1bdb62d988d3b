// Package statemachine implements C6 (State Machine Runtime) and C8
// (Transition Listener): flow definitions registered statically, ephemeral
// machines bound to a loaded session model per dispatch, and the
// dialogue-persistence classification of spec §4.2/§9.
package statemachine

// StateKind classifies a state by whether reaching it requires calling an
// invoker backend (spec §4.2's (source_kind, target_kind) ∈ {USER,INVOKER}²
// transition type), determined from the state's template via
// template.Environment.HasInvoker.
type StateKind int

const (
	StateKindUser StateKind = iota
	StateKindInvoker
)

func (k StateKind) String() string {
	if k == StateKindInvoker {
		return "INVOKER"
	}
	return "USER"
}

// DialoguePersistence selects how a transition's actor_input is recorded
// into the dialogue, per the table in spec §4.2/§9.
type DialoguePersistence int

const (
	// DialogueNone records nothing (INVOKER→INVOKER: no user-visible text).
	DialogueNone DialoguePersistence = iota
	// DialogueRaw records the actor_input exactly as received.
	DialogueRaw
	// DialogueRendered renders the target state's template synchronously
	// and records that instead of the raw input.
	DialogueRendered
)

func (d DialoguePersistence) String() string {
	switch d {
	case DialogueRaw:
		return "RAW"
	case DialogueRendered:
		return "RENDERED"
	default:
		return "NONE"
	}
}

// dialoguePersistenceTable is grounded verbatim on
// original_source/genie_flow/celery/transition.go's _DIALOGUE_PERSISTENCE_MAP:
// USER→USER and USER→INVOKER record raw user text; INVOKER→USER renders the
// destination template so the user sees the assistant's next utterance
// without an extra round-trip; INVOKER→INVOKER records nothing.
var dialoguePersistenceTable = map[StateKind]map[StateKind]DialoguePersistence{
	StateKindUser: {
		StateKindUser:    DialogueRaw,
		StateKindInvoker: DialogueRaw,
	},
	StateKindInvoker: {
		StateKindUser:    DialogueRendered,
		StateKindInvoker: DialogueNone,
	},
}

// DialoguePersistenceFor looks up the persistence mode for a transition
// from source to target state kind.
func DialoguePersistenceFor(source, target StateKind) DialoguePersistence {
	return dialoguePersistenceTable[source][target]
}
