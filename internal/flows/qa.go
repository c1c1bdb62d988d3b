// Package flows holds example flow definitions exercising the testable
// properties and scenarios spec §8 describes (S1-S6), grounded on the
// example QA flow referenced throughout that section. Real GenieFlow
// deployments register their own flows the same way: build a
// statemachine.FlowDefinition with its builder methods, register its
// templates with the Template Environment, and add it to the flow
// registry cmd/genieflow wires up.
package flows

import (
	"encoding/json"

	"github.com/genieflow/genieflow/internal/model"
	"github.com/genieflow/genieflow/internal/statemachine"
)

// QAFlowTypeKey is the flow_type_key this flow registers under.
const QAFlowTypeKey = "qa"

// State ids, named after the roles spec §8's scenarios give them.
const (
	stateIntro                    = "intro"
	stateUserEntersQuery          = "user_enters_query"
	stateAICreatesResponse        = "ai_creates_response"
	stateUserEnteringRole         = "user_entering_role"
	stateAIExtractsUserRole       = "ai_extracts_user_role"
	stateUserEnteringInitialInfo  = "user_entering_initial_information"
	stateAIParallelSummary        = "ai_parallel_summary"
	stateUserReviewsSummary       = "user_reviews_summary"
	stateAISequenceStep           = "ai_sequence_step"
	stateUserReviewsSequence      = "user_reviews_sequence"
	stateAIRiskyTask              = "ai_risky_task"
	stateUserReviewsRiskyResult   = "user_reviews_risky_result"
	stateUserInformedOfFailure    = "user_informed_of_failure"
)

// succeeded is the guard distinguishing trigger_event's re-entry (a
// non-empty previous result) from error_handler's (spec §8 S5 sends
// event_to_send_after with ""). Transitions are tried in registration
// order, so an INVOKER state's success edge must be registered before its
// fallback edge.
func succeeded(_ *model.SessionModel, eventInput string) bool { return eventInput != "" }

// parseResultExitHook folds the result an INVOKER state just produced
// into Extraction as previous_result/parsed_previous_result, mirroring
// internal/worker.ChainCtx's shape so the next state's template can read
// parsed_previous_result exactly like a mid-DAG chain_ctx step would
// (spec §8 S3/S4). Runs as the INVOKER state's exit hook, which fires
// before the target state's template is rendered.
func parseResultExitHook(m *model.SessionModel, eventInput string) error {
	if m.Extraction == nil {
		m.Extraction = make(map[string]any)
	}
	m.Extraction["previous_result"] = eventInput
	m.Extraction["parsed_previous_result"] = parseIfJSON(eventInput)
	return nil
}

func parseIfJSON(s string) any {
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err == nil {
		return decoded
	}
	return s
}

// NewQAFlow builds the example flow. Register its templates with the
// Template Environment (prefixes "qa" and "qa_invoker", rooted at
// internal/flows/templates) before calling FlowDefinition.Validate.
func NewQAFlow() *statemachine.FlowDefinition {
	f := statemachine.NewFlowDefinition(QAFlowTypeKey, stateIntro)

	// S1: a pure USER-only loop, no invoker ever involved.
	f.AddState(stateIntro, leafExpr("qa/intro.tmpl"))
	f.AddState(stateUserEntersQuery, leafExpr("qa/ask.tmpl"))
	f.AddState(stateAICreatesResponse, leafExpr("qa/response.tmpl"))

	f.AddTransition("ask", stateIntro, stateUserEntersQuery, nil)
	f.AddTransition("answer", stateUserEntersQuery, stateAICreatesResponse, nil)
	f.AddTransition("ask", stateAICreatesResponse, stateUserEntersQuery, nil)

	// S2: a single invoker call, verbatim-echo backend.
	f.AddState(stateUserEnteringRole, leafExpr("qa/ask_role.tmpl"))
	f.AddState(stateAIExtractsUserRole, leafExpr("qa_invoker/extract_role.tmpl"))
	f.AddState(stateUserEnteringInitialInfo, leafExpr("qa/ask_initial_info.tmpl"))

	f.AddTransition("start_role", stateIntro, stateUserEnteringRole, nil)
	f.AddTransition("submit_role", stateUserEnteringRole, stateAIExtractsUserRole, nil)
	f.AddTransition("role_extracted", stateAIExtractsUserRole, stateUserEnteringInitialInfo, nil)
	f.OnExit(stateAIExtractsUserRole, parseResultExitHook)

	// S3: a Parallel group joined into {ingredients, benefits}.
	f.AddState(stateAIParallelSummary, parallelSummaryExpr())
	f.AddState(stateUserReviewsSummary, leafExpr("qa/summary.tmpl"))

	f.AddTransition("start_summary", stateUserEnteringInitialInfo, stateAIParallelSummary, nil)
	f.AddTransition("summary_ready", stateAIParallelSummary, stateUserReviewsSummary, nil)
	f.OnExit(stateAIParallelSummary, parseResultExitHook)

	// S4: a Sequence chaining two leaves; the second sees
	// parsed_previous_result from the first.
	f.AddState(stateAISequenceStep, sequenceExpr())
	f.AddState(stateUserReviewsSequence, leafExpr("qa/seq_result.tmpl"))

	f.AddTransition("start_sequence", stateUserReviewsSummary, stateAISequenceStep, nil)
	f.AddTransition("sequence_done", stateAISequenceStep, stateUserReviewsSequence, nil)
	f.OnExit(stateAISequenceStep, parseResultExitHook)

	// S5: an invoker call with a guarded fallback branch taken when
	// error_handler re-enters with an empty previous result.
	f.AddState(stateAIRiskyTask, leafExpr("qa_invoker/risky_task.tmpl"))
	f.AddState(stateUserReviewsRiskyResult, leafExpr("qa/risky_result.tmpl"))
	f.AddState(stateUserInformedOfFailure, leafExpr("qa/failure_fallback.tmpl"))

	f.AddTransition("start_risky", stateUserReviewsSequence, stateAIRiskyTask, nil)
	f.AddTransition("risky_done", stateAIRiskyTask, stateUserReviewsRiskyResult, succeeded)
	f.AddTransition("risky_done", stateAIRiskyTask, stateUserInformedOfFailure, nil)
	f.AddTransition("retry", stateUserInformedOfFailure, stateAIRiskyTask, nil)
	f.OnExit(stateAIRiskyTask, parseResultExitHook)

	return f
}
