package statemachine

import "context"

// TransitionListener is C8: it observes a machine's transition into an
// INVOKER-kind state and is responsible for compiling the resulting task
// DAG, starting the session's progress record, then enqueuing the DAG
// (spec §4.8). Session Manager supplies the concrete implementation (in
// internal/session) so this package stays free of a dependency on the
// compiler/worker/store packages.
//
// Grounded on GenieStateMachineObserver in
// original_source/ai_state_machine/event_observer.go and
// TransitionManager.on_transition in
// original_source/genie_flow/celery/transition.go.
type TransitionListener interface {
	// OnInvokerTransition is called once the machine has decided the
	// transition's target is an INVOKER-kind state, after before_transition
	// bookkeeping but before the state is committed. Implementations
	// compile outcome.Target's template into a DAG and enqueue it; any
	// error aborts the transition.
	OnInvokerTransition(ctx context.Context, mc *Machine, outcome *TransitionOutcome) error
}
