// Package template implements C3: the composite template expression type,
// its compilation target in internal/compiler, and the Template
// Environment (prefix registration, meta.yaml inheritance, invoker pools)
// that spec §4.3 describes.
package template

// Kind discriminates the composite template expression tagged union
// (spec §3's CompositeTemplateType / §9's redesign note replacing
// Python's str | Task | list | dict union with an explicit Go type).
type Kind int

const (
	// KindLeaf names a template file under a registered prefix, e.g.
	// "qa/ask.tmpl". Rendered with text/template, then optionally handed
	// to that prefix's invoker pool.
	KindLeaf Kind = iota
	// KindTaskRef names a worker-side task function registered outside
	// the template environment (spec §4.5's custom task slot, mirroring
	// the original's bare celery.Task leaves).
	KindTaskRef
	// KindSequence chains expressions: each one's output feeds the next
	// as chain_ctx (spec §4.4/§4.5).
	KindSequence
	// KindParallel runs every value concurrently and joins the results
	// into a dict keyed by the map's keys (combine_dict, spec §4.4/§4.5).
	KindParallel
	// KindMapOver fans a single child expression out over every element
	// of a list resolved from render data, then joins into a list
	// (combine_list, spec §4.4/§4.5).
	KindMapOver
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindTaskRef:
		return "task_ref"
	case KindSequence:
		return "sequence"
	case KindParallel:
		return "parallel"
	case KindMapOver:
		return "map_over"
	default:
		return "unknown"
	}
}

// MapOverSpec carries the parameters of a KindMapOver expression.
type MapOverSpec struct {
	// ListPath is resolved against render data to obtain the list of
	// values to fan out over (a restricted path expression - see
	// internal/compiler/path.go for the supported subset).
	ListPath string
	// IndexField and ValueField name the render-data keys that each
	// per-item invocation receives in addition to the parent's data,
	// matching the original's map_index_field/map_value_field.
	IndexField string
	ValueField string
	// Item is the expression invoked once per list element.
	Item *Expr
}

// Expr is one node of a composite template expression.
type Expr struct {
	Kind Kind

	LeafPath string // KindLeaf
	TaskName string // KindTaskRef

	Sequence []*Expr          // KindSequence
	Parallel []ParallelBranch // KindParallel, in registration order

	MapOver *MapOverSpec // KindMapOver
}

// ParallelBranch is one key/expression pair of a KindParallel node. A
// slice of these (rather than a map) is what preserves spec §4.4's
// "keys iterated in insertion order" requirement - Go map iteration order
// is randomized, so a map could not express that rule.
type ParallelBranch struct {
	Key  string
	Expr *Expr
}

// Leaf builds a KindLeaf expression for the template at path (e.g.
// "qa/ask.tmpl").
func Leaf(path string) *Expr {
	return &Expr{Kind: KindLeaf, LeafPath: path}
}

// TaskRef builds a KindTaskRef expression naming a registered worker task.
func TaskRef(name string) *Expr {
	return &Expr{Kind: KindTaskRef, TaskName: name}
}

// Sequence builds a KindSequence expression chaining the given steps in
// order.
func Sequence(steps ...*Expr) *Expr {
	return &Expr{Kind: KindSequence, Sequence: steps}
}

// Parallel builds a KindParallel expression joining the named branches
// into a dict keyed by their map keys, preserving the order the branches
// are passed in.
func Parallel(branches ...ParallelBranch) *Expr {
	return &Expr{Kind: KindParallel, Parallel: branches}
}

// MapOver builds a KindMapOver expression applying item once per element
// of the list resolved at listPath.
func MapOver(listPath, indexField, valueField string, item *Expr) *Expr {
	return &Expr{
		Kind: KindMapOver,
		MapOver: &MapOverSpec{
			ListPath:   listPath,
			IndexField: indexField,
			ValueField: valueField,
			Item:       item,
		},
	}
}

// IsLeaf reports whether e is a single KindLeaf node - the only shape
// StartSession's synchronous initial-state render accepts (spec §4.1).
func (e *Expr) IsLeaf() bool {
	return e != nil && e.Kind == KindLeaf
}
