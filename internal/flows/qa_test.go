package flows

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/genieflow/genieflow/internal/invoker"
	"github.com/genieflow/genieflow/internal/model"
	"github.com/genieflow/genieflow/internal/statemachine"
	"github.com/genieflow/genieflow/internal/template"
)

// fakeListener stands in for the Transition Listener: it records every
// INVOKER transition it is asked about instead of compiling/dispatching a
// real DAG, and immediately re-enters Send as trigger_event would once the
// test decides what the "task" produced.
type fakeListener struct {
	transitions    []string
	seenActorInput []string
}

func (l *fakeListener) OnInvokerTransition(ctx context.Context, mc *statemachine.Machine, outcome *statemachine.TransitionOutcome) error {
	l.transitions = append(l.transitions, outcome.Target.ID)
	actorInput, _ := mc.RenderData()["actor_input"].(string)
	l.seenActorInput = append(l.seenActorInput, actorInput)
	return nil
}

func templatesRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Join(filepath.Dir(file), "templates")
}

func newTestEnv(t *testing.T) *template.Environment {
	t.Helper()
	root := templatesRoot(t)
	factory := invoker.NewFactory()
	factory.Register("verbatim", invoker.NewVerbatimInvoker)

	env, err := template.NewEnvironment(root, factory, 1)
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}
	if err := env.RegisterTemplateDirectory("qa", filepath.Join(root, "qa")); err != nil {
		t.Fatalf("registering qa: %v", err)
	}
	if err := env.RegisterTemplateDirectory("qa_invoker", filepath.Join(root, "qa_invoker")); err != nil {
		t.Fatalf("registering qa_invoker: %v", err)
	}
	return env
}

func TestNewQAFlowValidates(t *testing.T) {
	env := newTestEnv(t)
	flow := NewQAFlow()
	if err := flow.Validate(env); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestNewQAFlowStateKindsMatchScenarioRoles(t *testing.T) {
	env := newTestEnv(t)
	flow := NewQAFlow()
	if err := flow.Validate(env); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	userStates := []string{
		stateIntro, stateUserEntersQuery, stateAICreatesResponse,
		stateUserEnteringRole, stateUserEnteringInitialInfo,
		stateUserReviewsSummary, stateUserReviewsSequence,
		stateUserReviewsRiskyResult, stateUserInformedOfFailure,
	}
	for _, id := range userStates {
		if flow.States[id].Kind != statemachine.StateKindUser {
			t.Errorf("expected %q to be USER, got %v", id, flow.States[id].Kind)
		}
	}

	invokerStates := []string{stateAIExtractsUserRole, stateAIParallelSummary, stateAISequenceStep, stateAIRiskyTask}
	for _, id := range invokerStates {
		if flow.States[id].Kind != statemachine.StateKindInvoker {
			t.Errorf("expected %q to be INVOKER, got %v", id, flow.States[id].Kind)
		}
	}
}

// TestS1PureUserLoop walks spec §8 S1: ask -> answer -> ask, never
// touching an invoker.
func TestS1PureUserLoop(t *testing.T) {
	env := newTestEnv(t)
	flow := NewQAFlow()
	if err := flow.Validate(env); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	m := &model.SessionModel{SessionID: "s1", FlowTypeKey: QAFlowTypeKey, State: stateIntro}
	mc := statemachine.NewMachine(flow, m, env, nil)

	if _, err := mc.Send(context.Background(), "ask", ""); err != nil {
		t.Fatalf("Send(ask): %v", err)
	}
	if m.State != stateUserEntersQuery {
		t.Fatalf("expected state %q, got %q", stateUserEntersQuery, m.State)
	}

	if _, err := mc.Send(context.Background(), "answer", "what is 2+2?"); err != nil {
		t.Fatalf("Send(answer): %v", err)
	}
	if m.State != stateAICreatesResponse {
		t.Fatalf("expected state %q, got %q", stateAICreatesResponse, m.State)
	}
	// Every USER->USER transition records RAW dialogue, including the
	// first "ask" with an empty actor_input - so two Sends leave two
	// entries, the second holding the actual query verbatim.
	if len(m.Dialogue) != 2 || m.Dialogue[1].ActorText != "what is 2+2?" {
		t.Fatalf("expected the raw query recorded verbatim as the second entry, got %+v", m.Dialogue)
	}
}

// TestS2SingleInvokerCall walks spec §8 S2: submitting a role dispatches
// through the listener, and the simulated trigger_event re-entry records
// the rendered response and folds the result into Extraction.
func TestS2SingleInvokerCall(t *testing.T) {
	env := newTestEnv(t)
	flow := NewQAFlow()
	if err := flow.Validate(env); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	listener := &fakeListener{}
	m := &model.SessionModel{SessionID: "s1", FlowTypeKey: QAFlowTypeKey, State: stateUserEnteringRole}
	mc := statemachine.NewMachine(flow, m, env, listener)

	if _, err := mc.Send(context.Background(), "submit_role", "I am a chef"); err != nil {
		t.Fatalf("Send(submit_role): %v", err)
	}
	if m.State != stateAIExtractsUserRole {
		t.Fatalf("expected state %q, got %q", stateAIExtractsUserRole, m.State)
	}
	if len(listener.transitions) != 1 || listener.transitions[0] != stateAIExtractsUserRole {
		t.Fatalf("expected the listener to see one INVOKER transition to %q, got %v", stateAIExtractsUserRole, listener.transitions)
	}
	// USER->INVOKER persists the raw submission immediately (after_transition
	// runs unconditionally ahead of the invoker dispatch), and the dispatch
	// itself must still see the unmangled raw text as actor_input.
	if len(m.Dialogue) != 1 || m.Dialogue[0].ActorText != "I am a chef" {
		t.Fatalf("expected the raw role submission recorded as dialogue, got %+v", m.Dialogue)
	}
	if len(listener.seenActorInput) != 1 || listener.seenActorInput[0] != "I am a chef" {
		t.Fatalf("expected the invoker dispatch to see the raw actor_input, got %v", listener.seenActorInput)
	}

	// Simulate trigger_event's re-entry with the "task"'s result.
	mc2 := statemachine.NewMachine(flow, m, env, nil)
	if _, err := mc2.Send(context.Background(), "role_extracted", `{"role":"chef"}`); err != nil {
		t.Fatalf("Send(role_extracted): %v", err)
	}
	if m.State != stateUserEnteringInitialInfo {
		t.Fatalf("expected state %q, got %q", stateUserEnteringInitialInfo, m.State)
	}
	if m.Extraction["previous_result"] != `{"role":"chef"}` {
		t.Fatalf("expected the exit hook to fold previous_result, got %#v", m.Extraction["previous_result"])
	}
	parsed, ok := m.Extraction["parsed_previous_result"].(map[string]any)
	if !ok || parsed["role"] != "chef" {
		t.Fatalf("expected parsed_previous_result decoded, got %#v", m.Extraction["parsed_previous_result"])
	}
}

// TestS5GuardedFallback walks spec §8 S5: a non-empty previous result
// takes the success branch, an empty one (error_handler's signature) takes
// the registered-second fallback branch, and a subsequent retry loops back.
func TestS5GuardedFallback(t *testing.T) {
	env := newTestEnv(t)
	flow := NewQAFlow()
	if err := flow.Validate(env); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	success := &model.SessionModel{SessionID: "succeed", FlowTypeKey: QAFlowTypeKey, State: stateAIRiskyTask}
	mcSuccess := statemachine.NewMachine(flow, success, env, nil)
	if _, err := mcSuccess.Send(context.Background(), "risky_done", "ok"); err != nil {
		t.Fatalf("Send(risky_done, success): %v", err)
	}
	if success.State != stateUserReviewsRiskyResult {
		t.Fatalf("expected the success branch, got %q", success.State)
	}

	failure := &model.SessionModel{SessionID: "fail", FlowTypeKey: QAFlowTypeKey, State: stateAIRiskyTask}
	mcFailure := statemachine.NewMachine(flow, failure, env, nil)
	if _, err := mcFailure.Send(context.Background(), "risky_done", ""); err != nil {
		t.Fatalf("Send(risky_done, failure): %v", err)
	}
	if failure.State != stateUserInformedOfFailure {
		t.Fatalf("expected the fallback branch, got %q", failure.State)
	}

	listener := &fakeListener{}
	mcRetry := statemachine.NewMachine(flow, failure, env, listener)
	if _, err := mcRetry.Send(context.Background(), "retry", ""); err != nil {
		t.Fatalf("Send(retry): %v", err)
	}
	if failure.State != stateAIRiskyTask {
		t.Fatalf("expected retry to loop back to %q, got %q", stateAIRiskyTask, failure.State)
	}
}
