// Package invoker implements C2: the Invoker contract, a factory of
// concrete invoker kinds keyed by a string type, and the per-prefix
// blocking-bag pool (spec §4.7).
package invoker

import (
	"context"
	"fmt"
	"sync"

	"github.com/genieflow/genieflow/internal/common/errors"
)

// Invoker exposes exactly one operation: invoke a rendered string against a
// backend, returning a string or an InvokerError (spec §4.7).
type Invoker interface {
	Invoke(ctx context.Context, content string) (string, error)
}

// Config is the type-specific parameter bag declared under a prefix's
// `invoker:` meta.yaml key.
type Config map[string]any

// String returns cfg[key] as a string, or def if absent/not a string.
func (c Config) String(key, def string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Int returns cfg[key] as an int, or def if absent/not numeric.
func (c Config) Int(key string, def int) int {
	if v, ok := c[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return def
}

// Factory is the `type string → constructor` registry spec §4.7 requires.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]func(Config) (Invoker, error)
}

// NewFactory returns an empty Factory.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]func(Config) (Invoker, error))}
}

// Register binds an invoker kind's string type to its constructor.
func (f *Factory) Register(kind string, ctor func(Config) (Invoker, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

// Create builds one invoker of the given kind.
func (f *Factory) Create(kind string, cfg Config) (Invoker, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("invoker kind %q is not registered", kind)
	}
	return ctor(cfg)
}

// Pool is a fixed-size blocking bag of invokers for one template prefix
// (spec §4.7): Acquire blocks until one is free, Release returns it.
type Pool struct {
	slots chan Invoker
}

// NewPool builds a Pool of size invokers, all produced by ctor.
func NewPool(size int, ctor func(Config) (Invoker, error), cfg Config) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	p := &Pool{slots: make(chan Invoker, size)}
	for i := 0; i < size; i++ {
		inv, err := ctor(cfg)
		if err != nil {
			return nil, err
		}
		p.slots <- inv
	}
	return p, nil
}

// Acquire blocks until an invoker is available or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (Invoker, error) {
	select {
	case inv := <-p.slots:
		return inv, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns inv to the pool.
func (p *Pool) Release(inv Invoker) {
	p.slots <- inv
}

// Err wraps a backend failure as an InvokerError, per spec §4.7.
func Err(kind string, err error) error {
	return errors.InvokerErr(kind, err)
}
