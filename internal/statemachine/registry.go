package statemachine

import "fmt"

// Registry is the static map of flow_type_key → FlowDefinition, mirroring
// internal/model.ModelKeyRegistry's register-or-panic shape (spec §4.2's
// "each flow definition is registered statically").
type Registry struct {
	flows map[string]*FlowDefinition
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[string]*FlowDefinition)}
}

// Register binds a flow definition under its Key. Panics on a duplicate
// key - flow registration happens once at startup, so a duplicate is a
// programming error, not a runtime condition to recover from.
func (r *Registry) Register(flow *FlowDefinition) {
	if _, exists := r.flows[flow.Key]; exists {
		panic(fmt.Sprintf("flow type key %q already registered", flow.Key))
	}
	r.flows[flow.Key] = flow
}

// Get looks up a flow definition by key.
func (r *Registry) Get(flowTypeKey string) (*FlowDefinition, bool) {
	f, ok := r.flows[flowTypeKey]
	return f, ok
}
