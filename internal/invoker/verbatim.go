package invoker

import "context"

// VerbatimInvoker is the simplest invoker kind: it returns its input
// unchanged. Grounded on
// original_source/ai_state_machine/invoker/verbatim.py - useful for
// templates that only need rendering, and for tests that don't want a
// real backend in the loop.
type VerbatimInvoker struct{}

// NewVerbatimInvoker builds a VerbatimInvoker. It ignores cfg, matching the
// original's from_config(cls, config) classmethod pattern shared by every
// invoker kind.
func NewVerbatimInvoker(cfg Config) (Invoker, error) {
	return &VerbatimInvoker{}, nil
}

// Invoke implements Invoker.
func (v *VerbatimInvoker) Invoke(ctx context.Context, content string) (string, error) {
	return content, nil
}
