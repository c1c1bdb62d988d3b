package queue

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSTransport publishes and consumes Jobs over a NATS subject, letting
// multiple worker processes share one DAG job stream (spec §5: "parallel
// workers consume from a shared task queue"). Grounded on the teacher's
// go.mod require of github.com/nats-io/nats.go; the teacher's retrieved
// slice has no call site for it, so the publish/subscribe/queue-group
// usage here follows nats.go's documented core API directly.
type NATSTransport struct {
	conn    *nats.Conn
	subject string
}

// NewNATSTransport connects to url and binds to subject.
func NewNATSTransport(url, subject string) (*NATSTransport, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %q: %w", url, err)
	}
	return &NATSTransport{conn: conn, subject: subject}, nil
}

// Publish sends job to every worker subscribed to the transport's subject.
func (t *NATSTransport) Publish(job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return t.conn.Publish(t.subject, data)
}

// Subscribe joins queueGroup (so each job is delivered to exactly one
// worker process in the group) and invokes handler for every received
// job.
func (t *NATSTransport) Subscribe(queueGroup string, handler func(*Job)) (*nats.Subscription, error) {
	return t.conn.QueueSubscribe(t.subject, queueGroup, func(msg *nats.Msg) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			return
		}
		handler(&job)
	})
}

// Close closes the underlying NATS connection without draining it.
func (t *NATSTransport) Close() {
	t.conn.Close()
}
