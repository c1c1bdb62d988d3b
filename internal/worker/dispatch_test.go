package worker

import (
	"context"
	"testing"
	"time"

	"github.com/genieflow/genieflow/internal/compiler"
	"github.com/genieflow/genieflow/internal/model"
	"github.com/genieflow/genieflow/internal/template"
	"github.com/genieflow/genieflow/internal/worker/queue"
)

func TestQueueDispatcherDispatchAndRunExecutesJob(t *testing.T) {
	rt, st := newTestRuntime(t)
	ctx := context.Background()

	m := &model.SessionModel{SessionID: "s1", FlowTypeKey: "qa", State: "asking"}
	_ = st.PutModel(ctx, m)
	_ = st.ProgressStart(ctx, "s1", "task-1", 1, "answer")

	dag, err := compiler.Wrap(template.Leaf("qa/ask.tmpl"), "qa", "s1", "answer")
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	q := queue.NewLocalQueue(0)
	d := NewQueueDispatcher(q, rt, testLogger(t))
	d.Run(1)
	defer d.Stop()

	if err := d.Dispatch(ctx, dag, map[string]any{}, "s1", "qa"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, gerr := st.GetModel(ctx, "s1")
		if gerr == nil && got.State == "answering" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the dispatched job to advance the session to answering")
}

func TestQueueDispatcherStopDrainsWorkers(t *testing.T) {
	rt, _ := newTestRuntime(t)
	q := queue.NewLocalQueue(0)
	d := NewQueueDispatcher(q, rt, testLogger(t))
	d.Run(2)
	d.Stop()
	// Stop must return once every worker goroutine has exited; a second
	// Stop-equivalent call (q.Close) after that should not panic or hang.
	q.Close()
}
