// Package compiler implements C4 (Task Graph Compiler, spec §4.4): it
// turns a composite template expression into a DAG of worker task
// signatures plus the subtask count the Session Manager stamps into the
// progress record.
package compiler

import "github.com/genieflow/genieflow/internal/template"

// TaskKind names one of the closed set of worker tasks from spec §4.5.
type TaskKind int

const (
	TaskInvoke TaskKind = iota
	TaskChainCtx
	TaskCombineDict
	TaskCombineList
	TaskMap
	TaskTriggerEvent
	TaskErrorHandler
	// TaskCustom runs a worker-registered task by name in place of a
	// leaf's invoke call (spec §4.4's TaskRef rule).
	TaskCustom
)

func (k TaskKind) String() string {
	switch k {
	case TaskInvoke:
		return "invoke"
	case TaskChainCtx:
		return "chain_ctx"
	case TaskCombineDict:
		return "combine_dict"
	case TaskCombineList:
		return "combine_list"
	case TaskMap:
		return "map"
	case TaskTriggerEvent:
		return "trigger_event"
	case TaskErrorHandler:
		return "error_handler"
	case TaskCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Signature is one compiled DAG node - the Go analogue of a Celery
// Signature/chord/group/chain built by _compile_task in
// original_source/ai_state_machine/genie_state_machine.go and
// TaskCompiler (referenced but not retrieved) in
// original_source/genie_flow/celery/__init__.go.
type Signature struct {
	Kind TaskKind

	// TemplateName is set for TaskInvoke and as the per-element leaf of
	// TaskMap.
	TemplateName string
	// TaskName is set for TaskCustom.
	TaskName string

	// Children holds chain_ctx's two operands ([prev, next]) or
	// parallel group members, in compile order.
	Children []*Signature
	// Keys mirrors the Parallel branch order, consumed by TaskCombineDict.
	Keys []string

	// MapOver carries the path/index/value/item parameters for TaskMap.
	MapOver *template.MapOverSpec
}

// DAG is the compiled output of Compile: the root signature (with
// trigger_event already chained on), the error handler's curried args,
// and the compile-time subtask count N (spec §4.4).
type DAG struct {
	Root             *Signature
	ErrorHandlerArgs ErrorHandlerArgs
	SubtaskCount     int
}

// ErrorHandlerArgs are the (model_fqn, session_id, event_to_send_after)
// curried onto the root signature's error handler (spec §4.4).
type ErrorHandlerArgs struct {
	ModelFQN         string
	SessionID        string
	EventToSendAfter string
}
