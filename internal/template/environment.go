package template

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/genieflow/genieflow/internal/invoker"
)

// directory is one registered template prefix: its filesystem location,
// its merged meta.yaml config, and the invoker pool built from that
// config's `invoker:` section. Grounded on GenieEnvironment's
// _TemplateDirectory TypedDict in
// original_source/ai_state_machine/environment.go.
type directory struct {
	path string
	meta map[string]any
	pool *invoker.Pool

	// declaresInvoker is true only when this prefix's merged meta.yaml
	// chain explicitly carries an `invoker:` section - the signal
	// HasInvoker uses to classify a state INVOKER rather than USER. Every
	// prefix still gets a working pool (defaulting to verbatim) so
	// RenderLeaf/InvokeLeaf never need this flag; only classification does.
	declaresInvoker bool
}

// Environment is C3: it owns every registered template prefix, compiles
// Go templates on demand from disk, and routes invocations to the right
// prefix's invoker pool. text/template stands in for the original's
// jinja2.Environment + PrefixLoader - the actual templating engine is
// explicitly out of scope per spec.md §1, and no Jinja-equivalent
// template library is used anywhere in the example pack, so the stdlib
// engine is the only reasonable choice here.
type Environment struct {
	mu              sync.RWMutex
	root            string
	factory         *invoker.Factory
	defaultPoolSize int
	dirs            map[string]*directory
}

// NewEnvironment builds an Environment rooted at templateRoot, using
// factory to construct invokers and defaultPoolSize when a prefix's
// meta.yaml omits pool_size.
func NewEnvironment(templateRoot string, factory *invoker.Factory, defaultPoolSize int) (*Environment, error) {
	abs, err := filepath.Abs(templateRoot)
	if err != nil {
		return nil, err
	}
	if defaultPoolSize <= 0 {
		defaultPoolSize = 1
	}
	return &Environment{
		root:            abs,
		factory:         factory,
		defaultPoolSize: defaultPoolSize,
		dirs:            make(map[string]*directory),
	}, nil
}

// RegisterTemplateDirectory registers prefix for the templates under dir,
// reading and merging the meta.yaml chain from the environment's root
// down to dir and building that prefix's invoker pool. Grounded on
// register_template_directory in original_source/ai_state_machine/environment.go.
func (e *Environment) RegisterTemplateDirectory(prefix, dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.dirs[prefix]; exists {
		return fmt.Errorf("template prefix %q already registered", prefix)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	meta, err := mergeMetaChain(e.root, abs)
	if err != nil {
		return err
	}

	invRaw, declaresInvoker := meta["invoker"]
	invCfg, _ := invRaw.(map[string]any)
	kind, _ := invCfg["type"].(string)
	if kind == "" {
		kind = "verbatim"
	}
	poolSize := e.defaultPoolSize
	if v, ok := invCfg["pool_size"]; ok {
		if n, ok := v.(int); ok {
			poolSize = n
		}
	}

	pool, err := invoker.NewPool(poolSize, func(cfg invoker.Config) (invoker.Invoker, error) {
		return e.factory.Create(kind, cfg)
	}, invoker.Config(invCfg))
	if err != nil {
		return fmt.Errorf("building invoker pool for prefix %q: %w", prefix, err)
	}

	e.dirs[prefix] = &directory{path: abs, meta: meta, pool: pool, declaresInvoker: declaresInvoker}
	return nil
}

// RegisterDirectoryTree walks start, registering every subdirectory as its
// own prefix (by base name), mirroring _add_all_directories's recursive
// bottom-up registration in the original GenieEnvironment.
func (e *Environment) RegisterDirectoryTree(start string) error {
	entries, err := os.ReadDir(start)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		child := filepath.Join(start, entry.Name())
		if err := e.RegisterDirectoryTree(child); err != nil {
			return err
		}
	}
	return e.RegisterTemplateDirectory(filepath.Base(start), start)
}

func splitPrefix(templatePath string) (prefix, rest string) {
	parts := strings.SplitN(templatePath, "/", 2)
	if len(parts) != 2 {
		return templatePath, ""
	}
	return parts[0], parts[1]
}

// HasInvoker reports whether resolving expr would require calling an
// invoker backend - the test used to classify a state as spec §4.2's
// StateKindInvoker rather than StateKindUser, grounded on
// GenieEnvironment.has_invoker's use in
// original_source/genie_flow/celery/transition.go's _determine_transition_type.
// A KindLeaf only counts once its prefix's merged meta.yaml chain
// explicitly declares an `invoker:` section - every registered prefix
// still gets a working (default verbatim) pool so RenderLeaf/InvokeLeaf
// both always work, but a prefix with no declared invoker never flips a
// state to StateKindInvoker. This is what lets a USER state's template
// (spec §8 S1's verbatim template) live in a registered, renderable
// prefix without being mistaken for an INVOKER state: declare the
// invoker explicitly (even as `invoker: {type: verbatim}`, spec §8 S2's
// verbatim-echo invoker) only on prefixes meant to be dispatched through
// the worker runtime.
func (e *Environment) HasInvoker(expr *Expr) bool {
	if expr == nil {
		return false
	}
	switch expr.Kind {
	case KindLeaf:
		prefix, _ := splitPrefix(expr.LeafPath)
		e.mu.RLock()
		dir, ok := e.dirs[prefix]
		e.mu.RUnlock()
		return ok && dir.declaresInvoker
	case KindTaskRef:
		return true
	case KindSequence:
		for _, step := range expr.Sequence {
			if e.HasInvoker(step) {
				return true
			}
		}
		return false
	case KindParallel:
		for _, branch := range expr.Parallel {
			if e.HasInvoker(branch.Expr) {
				return true
			}
		}
		return false
	case KindMapOver:
		return e.HasInvoker(expr.MapOver.Item)
	default:
		return false
	}
}

// RenderLeaf renders the text/template file named by templatePath (e.g.
// "qa/ask.tmpl") against data. Equivalent to render_template in the
// original GenieEnvironment, minus Jinja's template-inheritance features
// (out of scope per spec.md §1).
func (e *Environment) RenderLeaf(templatePath string, data map[string]any) (string, error) {
	prefix, rest := splitPrefix(templatePath)
	e.mu.RLock()
	dir, ok := e.dirs[prefix]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template prefix %q is not registered", prefix)
	}

	full := filepath.Join(dir.path, rest)
	tmpl, err := template.New(filepath.Base(full)).ParseFiles(full)
	if err != nil {
		return "", fmt.Errorf("parsing template %q: %w", templatePath, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", templatePath, err)
	}
	return sb.String(), nil
}

// InvokeLeaf renders templatePath then passes the result through that
// prefix's invoker pool, returning the invoker's response. Equivalent to
// invoke_template in the original GenieEnvironment.
func (e *Environment) InvokeLeaf(ctx context.Context, templatePath string, data map[string]any) (string, error) {
	rendered, err := e.RenderLeaf(templatePath, data)
	if err != nil {
		return "", err
	}

	prefix, _ := splitPrefix(templatePath)
	e.mu.RLock()
	dir, ok := e.dirs[prefix]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template prefix %q is not registered", prefix)
	}

	inv, err := dir.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer dir.pool.Release(inv)

	return inv.Invoke(ctx, rendered)
}
