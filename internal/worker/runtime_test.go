package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/genieflow/genieflow/internal/common/logger"
	"github.com/genieflow/genieflow/internal/compiler"
	"github.com/genieflow/genieflow/internal/invoker"
	"github.com/genieflow/genieflow/internal/model"
	"github.com/genieflow/genieflow/internal/statemachine"
	"github.com/genieflow/genieflow/internal/template"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// newTestRuntime builds a Runtime with a real template.Environment (one
// prefix, qa, declaring no invoker, so its leaves classify as USER while
// still invoking through the default verbatim pool) and a
// statemachine.Registry holding a
// two-state flow: "asking" (USER) -> "answering" (USER) on event "answer".
func newTestRuntime(t *testing.T) (*Runtime, *fakeStore) {
	t.Helper()
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "qa", "ask.tmpl"), "ask")
	mustWriteFile(t, filepath.Join(root, "qa", "done.tmpl"), "done")

	factory := invoker.NewFactory()
	factory.Register("verbatim", invoker.NewVerbatimInvoker)

	env, err := template.NewEnvironment(root, factory, 1)
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}
	if err := env.RegisterTemplateDirectory("qa", filepath.Join(root, "qa")); err != nil {
		t.Fatalf("RegisterTemplateDirectory: %v", err)
	}

	flow := statemachine.NewFlowDefinition("qa", "asking")
	flow.AddState("asking", template.Leaf("qa/ask.tmpl"))
	flow.AddState("answering", template.Leaf("qa/done.tmpl"))
	flow.AddTransition("answer", "asking", "answering", nil)
	if err := flow.Validate(env); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	flows := statemachine.NewRegistry()
	flows.Register(flow)

	st := newFakeStore()
	rt := NewRuntime(st, env, flows, testLogger(t))
	return rt, st
}

func TestTriggerEventAdvancesStateAndDeletesProgress(t *testing.T) {
	rt, st := newTestRuntime(t)
	ctx := context.Background()

	m := &model.SessionModel{SessionID: "s1", FlowTypeKey: "qa", State: "asking"}
	if err := st.PutModel(ctx, m); err != nil {
		t.Fatalf("PutModel: %v", err)
	}
	if err := st.ProgressStart(ctx, "s1", "task-1", 1, "answer"); err != nil {
		t.Fatalf("ProgressStart: %v", err)
	}

	if err := rt.TriggerEvent(ctx, "the answer", "qa", "answer", "s1"); err != nil {
		t.Fatalf("TriggerEvent: %v", err)
	}

	got, err := st.GetModel(ctx, "s1")
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if got.State != "answering" {
		t.Fatalf("expected state answering, got %q", got.State)
	}
	if _, err := st.ProgressRecord(ctx, "s1"); err == nil {
		t.Fatal("expected the progress record to be deleted after trigger_event")
	}
}

func TestTriggerEventUnknownFlowIsError(t *testing.T) {
	rt, st := newTestRuntime(t)
	ctx := context.Background()
	m := &model.SessionModel{SessionID: "s1", FlowTypeKey: "nonexistent", State: "asking"}
	_ = st.PutModel(ctx, m)
	_ = st.ProgressStart(ctx, "s1", "t1", 1, "answer")

	if err := rt.TriggerEvent(ctx, "x", "nonexistent", "answer", "s1"); err == nil {
		t.Fatal("expected an error for an unregistered flow_type_key")
	}
}

func TestErrorHandlerRecordsFailureAndDeletesProgress(t *testing.T) {
	rt, st := newTestRuntime(t)
	ctx := context.Background()

	flow, _ := rt.flows.Get("qa")
	flow.AddTransition("fail", "asking", "answering", nil)

	m := &model.SessionModel{SessionID: "s1", FlowTypeKey: "qa", State: "asking"}
	_ = st.PutModel(ctx, m)
	_ = st.ProgressStart(ctx, "s1", "task-1", 1, "fail")

	cause := context.DeadlineExceeded
	if err := rt.ErrorHandler(ctx, cause, "qa", "s1", "fail"); err != nil {
		t.Fatalf("ErrorHandler: %v", err)
	}

	got, err := st.GetModel(ctx, "s1")
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if !got.HasErrors() {
		t.Fatal("expected a recorded task error")
	}
	if got.State != "answering" {
		t.Fatalf("expected state advanced via the error event, got %q", got.State)
	}
	if _, err := st.ProgressRecord(ctx, "s1"); err == nil {
		t.Fatal("expected the progress record to be deleted in error_handler")
	}
}

func TestExecuteSuccessPathCallsTriggerEvent(t *testing.T) {
	rt, st := newTestRuntime(t)
	ctx := context.Background()

	m := &model.SessionModel{SessionID: "s1", FlowTypeKey: "qa", State: "asking"}
	_ = st.PutModel(ctx, m)
	_ = st.ProgressStart(ctx, "s1", "task-1", 1, "answer")

	dag, err := compiler.Wrap(template.Leaf("qa/ask.tmpl"), "qa", "s1", "answer")
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	rt.Execute(ctx, dag, map[string]any{}, "s1", "qa")

	got, err := st.GetModel(ctx, "s1")
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if got.State != "answering" {
		t.Fatalf("expected Execute to drive the flow to answering via trigger_event, got %q", got.State)
	}
}

func TestExecuteFailurePathCallsErrorHandler(t *testing.T) {
	rt, st := newTestRuntime(t)
	ctx := context.Background()

	flow, _ := rt.flows.Get("qa")
	flow.AddTransition("fail", "asking", "answering", nil)

	m := &model.SessionModel{SessionID: "s1", FlowTypeKey: "qa", State: "asking"}
	_ = st.PutModel(ctx, m)
	_ = st.ProgressStart(ctx, "s1", "task-1", 1, "fail")

	dag, err := compiler.Wrap(template.TaskRef("unregistered_task"), "qa", "s1", "fail")
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	rt.Execute(ctx, dag, map[string]any{}, "s1", "qa")

	got, err := st.GetModel(ctx, "s1")
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if !got.HasErrors() {
		t.Fatal("expected a task error from the unregistered custom task")
	}
	if got.State != "answering" {
		t.Fatalf("expected Execute's failure path to drive the flow via error_handler, got %q", got.State)
	}
}

func TestRegisterTaskAndExecuteCustomTask(t *testing.T) {
	rt, st := newTestRuntime(t)
	ctx := context.Background()

	called := false
	rt.RegisterTask("greet", func(ctx context.Context, renderData map[string]any, sessionID string) (string, error) {
		called = true
		return "hi " + sessionID, nil
	})

	m := &model.SessionModel{SessionID: "s1", FlowTypeKey: "qa", State: "asking"}
	_ = st.PutModel(ctx, m)
	_ = st.ProgressStart(ctx, "s1", "task-1", 1, "answer")

	dag, err := compiler.Wrap(template.TaskRef("greet"), "qa", "s1", "answer")
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	rt.Execute(ctx, dag, map[string]any{}, "s1", "qa")

	if !called {
		t.Fatal("expected the registered custom task to run")
	}
	got, _ := st.GetModel(ctx, "s1")
	if got.State != "answering" {
		t.Fatalf("expected flow to advance after custom task success, got %q", got.State)
	}
}
