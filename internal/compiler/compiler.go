package compiler

import (
	"fmt"

	"github.com/genieflow/genieflow/internal/template"
)

// Compile implements spec §4.4's compilation rules, returning a Signature
// tree and the number of worker subtasks it contributes (not counting the
// root trigger_event wrapper - see Wrap).
func Compile(expr *template.Expr) (*Signature, int, error) {
	if expr == nil {
		return nil, 0, fmt.Errorf("cannot compile a nil template expression")
	}

	switch expr.Kind {
	case template.KindLeaf:
		return &Signature{Kind: TaskInvoke, TemplateName: expr.LeafPath}, 1, nil

	case template.KindTaskRef:
		return &Signature{Kind: TaskCustom, TaskName: expr.TaskName}, 1, nil

	case template.KindSequence:
		return compileSequence(expr.Sequence)

	case template.KindParallel:
		return compileParallel(expr.Parallel)

	case template.KindMapOver:
		// A single placeholder task at compile time; the runtime fan-out is
		// resolved and counted by the Worker Runtime (spec §4.4/§5), not here.
		return &Signature{Kind: TaskMap, MapOver: expr.MapOver}, 1, nil

	default:
		return nil, 0, fmt.Errorf("compiling template expression of unknown kind %d", expr.Kind)
	}
}

// compileSequence chains each child's compiled signature with a chain_ctx
// task feeding the previous result into the next child's render data, per
// spec §4.5's chain_ctx semantics. No extra subtask is charged for the
// chain itself; one chain_ctx task is charged per link.
func compileSequence(children []*template.Expr) (*Signature, int, error) {
	if len(children) == 0 {
		return nil, 0, fmt.Errorf("cannot compile an empty sequence")
	}

	sig, total, err := Compile(children[0])
	if err != nil {
		return nil, 0, err
	}

	for _, child := range children[1:] {
		childSig, childCount, err := Compile(child)
		if err != nil {
			return nil, 0, err
		}
		sig = &Signature{Kind: TaskChainCtx, Children: []*Signature{sig, childSig}}
		total += 1 + childCount
	}
	return sig, total, nil
}

// compileParallel compiles a chord of groups joined by combine_dict, per
// spec §4.4: keys iterated in registration order, +1 subtask for the join.
func compileParallel(branches []template.ParallelBranch) (*Signature, int, error) {
	if len(branches) == 0 {
		return nil, 0, fmt.Errorf("cannot compile an empty parallel group")
	}

	sig := &Signature{Kind: TaskCombineDict}
	total := 1
	for _, b := range branches {
		childSig, childCount, err := Compile(b.Expr)
		if err != nil {
			return nil, 0, err
		}
		sig.Children = append(sig.Children, childSig)
		sig.Keys = append(sig.Keys, b.Key)
		total += childCount
	}
	return sig, total, nil
}

// Wrap implements spec §4.4's root wrapping: `compile(T) | trigger_event(...)`,
// with the error handler's curried args attached to the root (not the
// leaves). Returns the full DAG including the +1 subtask for trigger_event.
func Wrap(expr *template.Expr, modelFQN, sessionID, eventToSendAfter string) (*DAG, error) {
	root, count, err := Compile(expr)
	if err != nil {
		return nil, err
	}

	wrapped := &Signature{
		Kind:     TaskTriggerEvent,
		Children: []*Signature{root},
	}

	return &DAG{
		Root:         wrapped,
		SubtaskCount: count + 1,
		ErrorHandlerArgs: ErrorHandlerArgs{
			ModelFQN:         modelFQN,
			SessionID:        sessionID,
			EventToSendAfter: eventToSendAfter,
		},
	}, nil
}
