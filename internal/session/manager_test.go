package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/genieflow/genieflow/internal/common/errors"
	"github.com/genieflow/genieflow/internal/common/logger"
	"github.com/genieflow/genieflow/internal/compiler"
	"github.com/genieflow/genieflow/internal/invoker"
	"github.com/genieflow/genieflow/internal/model"
	"github.com/genieflow/genieflow/internal/statemachine"
	"github.com/genieflow/genieflow/internal/store"
	"github.com/genieflow/genieflow/internal/template"
)

type fakeLock struct{}

func (fakeLock) Release(ctx context.Context) error { return nil }

type fakeStore struct {
	mu       sync.Mutex
	models   map[string]*model.SessionModel
	progress map[string]*model.GenieTaskProgress
}

func newFakeStore() *fakeStore {
	return &fakeStore{models: make(map[string]*model.SessionModel), progress: make(map[string]*model.GenieTaskProgress)}
}

var _ store.Store = (*fakeStore)(nil)

func (s *fakeStore) AcquireLock(ctx context.Context, sessionID string) (store.Lock, error) {
	return fakeLock{}, nil
}

func (s *fakeStore) GetModel(ctx context.Context, sessionID string) (*model.SessionModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[sessionID]
	if !ok {
		return nil, errors.UnknownSession(sessionID)
	}
	return m, nil
}

func (s *fakeStore) PutModel(ctx context.Context, m *model.SessionModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.SessionID] = m
	return nil
}

func (s *fakeStore) ProgressStart(ctx context.Context, sessionID, taskID string, totalNrSubtasks int, eventToSendAfter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[sessionID] = &model.GenieTaskProgress{SessionID: sessionID, TaskID: taskID, TotalNrSubtasks: totalNrSubtasks, EventToSendAfter: eventToSendAfter}
	return nil
}

func (s *fakeStore) ProgressExists(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.progress[sessionID]
	return ok, nil
}

func (s *fakeStore) ProgressUpdateTodo(ctx context.Context, sessionID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[sessionID]
	if !ok {
		return 0, errors.UnknownSession(sessionID)
	}
	p.TotalNrSubtasks += delta
	return p.TotalNrSubtasks, nil
}

func (s *fakeStore) ProgressUpdateDone(ctx context.Context, sessionID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[sessionID]
	if !ok {
		return 0, errors.UnknownSession(sessionID)
	}
	p.NrSubtasksExecuted += delta
	if p.Tombstone && p.NrSubtasksExecuted >= p.TotalNrSubtasks {
		delete(s.progress, sessionID)
	}
	return p.NrSubtasksExecuted, nil
}

func (s *fakeStore) ProgressTombstone(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[sessionID]
	if !ok {
		return errors.UnknownSession(sessionID)
	}
	p.Tombstone = true
	return nil
}

func (s *fakeStore) ProgressStatus(ctx context.Context, sessionID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[sessionID]
	if !ok {
		return 0, 0, errors.UnknownSession(sessionID)
	}
	return p.TotalNrSubtasks, p.NrSubtasksExecuted, nil
}

func (s *fakeStore) ProgressDelete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.progress, sessionID)
	return nil
}

func (s *fakeStore) ProgressRecord(ctx context.Context, sessionID string) (*model.GenieTaskProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[sessionID]
	if !ok {
		return nil, errors.UnknownSession(sessionID)
	}
	return p, nil
}

// fakeDispatcher records every DAG handed to it instead of ever running it,
// so tests can assert a dispatch happened without a real worker runtime.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string // session IDs dispatched
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, dag *compiler.DAG, renderData map[string]any, sessionID, flowTypeKey string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, sessionID)
	return nil
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

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

// newTestManager builds a Manager over a 3-state "qa" flow:
// intro (USER) --ask--> answering (USER) --call--> calling (INVOKER).
func newTestManager(t *testing.T) (*Manager, *fakeStore, *fakeDispatcher) {
	t.Helper()
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "qa", "ask.tmpl"), "ask the question")
	mustWriteFile(t, filepath.Join(root, "qa", "answer.tmpl"), "your answer")
	mustWriteFile(t, filepath.Join(root, "qa_invoker", "meta.yaml"), "invoker:\n  type: verbatim\n")
	mustWriteFile(t, filepath.Join(root, "qa_invoker", "call.tmpl"), "{{.actor_input}}")

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

	flow := statemachine.NewFlowDefinition("qa", "intro")
	flow.AddState("intro", template.Leaf("qa/ask.tmpl"))
	flow.AddState("answering", template.Leaf("qa/answer.tmpl"))
	flow.AddState("calling", template.Leaf("qa_invoker/call.tmpl"))
	flow.AddTransition("ask", "intro", "answering", nil)
	flow.AddTransition("call", "answering", "calling", nil)
	flow.AddTransition("done", "calling", "answering", nil)
	if err := flow.Validate(env); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	flows := statemachine.NewRegistry()
	flows.Register(flow)

	models := model.NewModelKeyRegistry()
	models.Register("qa", model.DefaultConstructor)

	st := newFakeStore()
	disp := &fakeDispatcher{}
	mgr := NewManager(flows, models, st, disp, env, testLogger(t))
	return mgr, st, disp
}

func TestStartSessionRendersInitialStateAndPersists(t *testing.T) {
	mgr, st, _ := newTestManager(t)
	resp, err := mgr.StartSession(context.Background(), "qa")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if resp.Response != "ask the question" {
		t.Fatalf("expected initial template rendered, got %q", resp.Response)
	}
	if len(resp.NextActions) != 1 || resp.NextActions[0] != "ask" {
		t.Fatalf("expected next_actions [ask], got %v", resp.NextActions)
	}

	sm, err := st.GetModel(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatalf("expected the model to be persisted: %v", err)
	}
	if sm.State != "intro" {
		t.Fatalf("expected persisted state intro, got %q", sm.State)
	}
	if len(sm.Dialogue) != 1 || sm.Dialogue[0].ActorText != "ask the question" {
		t.Fatalf("expected the initial render recorded as assistant dialogue, got %+v", sm.Dialogue)
	}
}

func TestStartSessionUnknownFlowIsError(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	if _, err := mgr.StartSession(context.Background(), "nonexistent"); err == nil {
		t.Fatal("expected an error for an unregistered flow_type_key")
	}
}

func TestProcessEventUserToUserAdvances(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	start, err := mgr.StartSession(context.Background(), "qa")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	resp, err := mgr.ProcessEvent(context.Background(), "qa", EventInput{SessionID: start.SessionID, Event: "ask", EventInput: "42"})
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("expected no error, got %q", resp.Error)
	}
	if resp.Response != "42" {
		t.Fatalf("expected RAW persistence to echo actor_input, got %q", resp.Response)
	}
	if len(resp.NextActions) != 1 || resp.NextActions[0] != "call" {
		t.Fatalf("expected next_actions [call], got %v", resp.NextActions)
	}
}

func TestProcessEventUnmatchedEventSurfacesAsResponseError(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	start, err := mgr.StartSession(context.Background(), "qa")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	resp, err := mgr.ProcessEvent(context.Background(), "qa", EventInput{SessionID: start.SessionID, Event: "nonexistent", EventInput: "x"})
	if err != nil {
		t.Fatalf("expected no Go error for an unmatched event, got %v", err)
	}
	if resp.Error == "" {
		t.Fatal("expected a non-empty Response.Error for an unmatched event")
	}
}

func TestProcessEventToInvokerDispatchesAndSignalsPoll(t *testing.T) {
	mgr, st, disp := newTestManager(t)
	start, err := mgr.StartSession(context.Background(), "qa")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := mgr.ProcessEvent(context.Background(), "qa", EventInput{SessionID: start.SessionID, Event: "ask", EventInput: "42"}); err != nil {
		t.Fatalf("ProcessEvent(ask): %v", err)
	}

	resp, err := mgr.ProcessEvent(context.Background(), "qa", EventInput{SessionID: start.SessionID, Event: "call", EventInput: "go"})
	if err != nil {
		t.Fatalf("ProcessEvent(call): %v", err)
	}
	if len(resp.NextActions) != 1 || resp.NextActions[0] != pollEvent {
		t.Fatalf("expected next_actions [poll] while a DAG is in flight, got %v", resp.NextActions)
	}

	if len(disp.calls) != 1 || disp.calls[0] != start.SessionID {
		t.Fatalf("expected exactly one dispatch for %q, got %v", start.SessionID, disp.calls)
	}
	exists, err := st.ProgressExists(context.Background(), start.SessionID)
	if err != nil {
		t.Fatalf("ProgressExists: %v", err)
	}
	if !exists {
		t.Fatal("expected a progress record to have been started before dispatch")
	}
}

func TestHandlePollReturnsProgressWhileInFlight(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	start, err := mgr.StartSession(context.Background(), "qa")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	_, _ = mgr.ProcessEvent(context.Background(), "qa", EventInput{SessionID: start.SessionID, Event: "ask", EventInput: "42"})
	_, _ = mgr.ProcessEvent(context.Background(), "qa", EventInput{SessionID: start.SessionID, Event: "call", EventInput: "go"})

	resp, err := mgr.ProcessEvent(context.Background(), "qa", EventInput{SessionID: start.SessionID, Event: pollEvent})
	if err != nil {
		t.Fatalf("ProcessEvent(poll): %v", err)
	}
	if resp.Progress == nil {
		t.Fatal("expected a Progress payload while a DAG is in flight")
	}
	// A single leaf's compiled DAG is 1 invoke subtask + the trigger_event
	// wrapper Wrap adds on top (compiler.Wrap's count+1).
	if resp.Progress.TotalNumberOfSubtasks != 2 {
		t.Fatalf("expected total_number_of_subtasks 2, got %d", resp.Progress.TotalNumberOfSubtasks)
	}
}

func TestHandlePollSurfacesLastTaskError(t *testing.T) {
	mgr, st, _ := newTestManager(t)
	start, err := mgr.StartSession(context.Background(), "qa")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	sm, err := st.GetModel(context.Background(), start.SessionID)
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if err := sm.AppendTaskError(map[string]string{"exception": "boom"}); err != nil {
		t.Fatalf("AppendTaskError: %v", err)
	}
	if err := st.PutModel(context.Background(), sm); err != nil {
		t.Fatalf("PutModel: %v", err)
	}

	resp, err := mgr.ProcessEvent(context.Background(), "qa", EventInput{SessionID: start.SessionID, Event: pollEvent})
	if err != nil {
		t.Fatalf("ProcessEvent(poll): %v", err)
	}
	if resp.Error == "" {
		t.Fatal("expected the last recorded task error surfaced once no DAG is in flight")
	}
}

func TestGetTaskStateNotReadyWhileInFlight(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	start, _ := mgr.StartSession(context.Background(), "qa")
	_, _ = mgr.ProcessEvent(context.Background(), "qa", EventInput{SessionID: start.SessionID, Event: "ask", EventInput: "42"})
	_, _ = mgr.ProcessEvent(context.Background(), "qa", EventInput{SessionID: start.SessionID, Event: "call", EventInput: "go"})

	status, err := mgr.GetTaskState(context.Background(), "qa", start.SessionID)
	if err != nil {
		t.Fatalf("GetTaskState: %v", err)
	}
	if status.Ready {
		t.Fatal("expected Ready=false while a DAG is in flight")
	}
}

func TestGetTaskStateReadyOtherwise(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	start, _ := mgr.StartSession(context.Background(), "qa")

	status, err := mgr.GetTaskState(context.Background(), "qa", start.SessionID)
	if err != nil {
		t.Fatalf("GetTaskState: %v", err)
	}
	if !status.Ready {
		t.Fatal("expected Ready=true with no DAG in flight")
	}
	if len(status.NextActions) != 1 || status.NextActions[0] != "ask" {
		t.Fatalf("expected next_actions [ask], got %v", status.NextActions)
	}
}

func TestGetModelReturnsPersistedModel(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	start, _ := mgr.StartSession(context.Background(), "qa")

	sm, err := mgr.GetModel(context.Background(), start.SessionID)
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if sm.SessionID != start.SessionID {
		t.Fatalf("expected session id %q, got %q", start.SessionID, sm.SessionID)
	}
}
