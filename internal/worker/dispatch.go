package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/genieflow/genieflow/internal/common/logger"
	"github.com/genieflow/genieflow/internal/compiler"
	"github.com/genieflow/genieflow/internal/worker/queue"
)

// Dispatcher hands a compiled DAG off to a worker for execution - the Go
// shape of Celery's `task_compiler.task.apply_async(...)` call in
// original_source/genie_flow/celery/__init__.py's enqueue_task. The
// Transition Listener (internal/statemachine's OnInvokerTransition caller,
// realized in internal/session) calls Dispatch once per INVOKER transition,
// after the progress record has already been started.
type Dispatcher interface {
	Dispatch(ctx context.Context, dag *compiler.DAG, renderData map[string]any, sessionID, flowTypeKey string) error
}

// jobPayload is the wire shape queued onto the local priority queue or a
// NATS subject: the compiled signature tree plus the frozen render-data
// snapshot, both plain data (no closures), matching spec §4.4's "frozen at
// enqueue time" render_data rule.
type jobPayload struct {
	DAG        *compiler.DAG  `json:"dag"`
	RenderData map[string]any `json:"render_data"`
}

// QueueDispatcher pushes jobs onto a LocalQueue; a pool of goroutines
// started by Run pops them and executes them against a Runtime. This is
// the single-process analogue of "parallel workers consume from a shared
// task queue" (spec §5); NATSTransport generalizes the same queue.Job shape
// across a fleet of worker processes when configured in its place.
type QueueDispatcher struct {
	q   *queue.LocalQueue
	rt  *Runtime
	log *logger.Logger

	closed chan struct{}
	wg     sync.WaitGroup
}

// NewQueueDispatcher builds a dispatcher backed by q, executing popped jobs
// against rt.
func NewQueueDispatcher(q *queue.LocalQueue, rt *Runtime, log *logger.Logger) *QueueDispatcher {
	return &QueueDispatcher{q: q, rt: rt, log: log, closed: make(chan struct{})}
}

// Dispatch implements Dispatcher: encodes dag+renderData and pushes a Job.
func (d *QueueDispatcher) Dispatch(ctx context.Context, dag *compiler.DAG, renderData map[string]any, sessionID, flowTypeKey string) error {
	payload, err := json.Marshal(jobPayload{DAG: dag, RenderData: renderData})
	if err != nil {
		return fmt.Errorf("encoding job payload: %w", err)
	}
	return d.q.Push(&queue.Job{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		FlowTypeKey: flowTypeKey,
		Payload:     payload,
	})
}

// Run starts n worker goroutines popping jobs off the queue until Stop is
// called, executing each against the Runtime.
func (d *QueueDispatcher) Run(n int) {
	for i := 0; i < n; i++ {
		d.wg.Add(1)
		go d.loop()
	}
}

// Stop wakes all worker goroutines and waits for in-flight jobs to finish.
func (d *QueueDispatcher) Stop() {
	close(d.closed)
	d.q.Close()
	d.wg.Wait()
}

func (d *QueueDispatcher) loop() {
	defer d.wg.Done()
	for {
		job := d.q.Pop(d.closed)
		if job == nil {
			return
		}

		var payload jobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			d.log.Error("decoding job payload", zapErrorFields(job.SessionID, err)...)
			continue
		}
		d.rt.Execute(context.Background(), payload.DAG, payload.RenderData, job.SessionID, job.FlowTypeKey)
	}
}

// NATSDispatcher implements Dispatcher by publishing jobs onto a
// queue.NATSTransport instead of an in-process LocalQueue, letting the
// HTTP front door (`genieflow serve`) run in one process while a fleet of
// `genieflow worker` processes pulls from the shared subject (spec §5:
// "parallel workers consume from a shared task queue").
type NATSDispatcher struct {
	transport *queue.NATSTransport
}

// NewNATSDispatcher wraps an already-connected NATSTransport.
func NewNATSDispatcher(t *queue.NATSTransport) *NATSDispatcher {
	return &NATSDispatcher{transport: t}
}

// Dispatch implements Dispatcher by publishing the job for any worker
// subscribed to the transport's queue group to pick up.
func (d *NATSDispatcher) Dispatch(ctx context.Context, dag *compiler.DAG, renderData map[string]any, sessionID, flowTypeKey string) error {
	payload, err := json.Marshal(jobPayload{DAG: dag, RenderData: renderData})
	if err != nil {
		return fmt.Errorf("encoding job payload: %w", err)
	}
	return d.transport.Publish(&queue.Job{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		FlowTypeKey: flowTypeKey,
		Payload:     payload,
	})
}

// RunConsumer subscribes rt's worker loop to every job arriving on the
// transport under queueGroup, so each job is delivered to exactly one
// process in the group - the `genieflow worker` side of the split.
func RunConsumer(t *queue.NATSTransport, rt *Runtime, queueGroup string, log *logger.Logger) error {
	_, err := t.Subscribe(queueGroup, func(job *queue.Job) {
		var payload jobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			log.Error("decoding job payload", zapErrorFields(job.SessionID, err)...)
			return
		}
		rt.Execute(context.Background(), payload.DAG, payload.RenderData, job.SessionID, job.FlowTypeKey)
	})
	return err
}
