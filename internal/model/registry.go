package model

import "fmt"

// Constructor builds a fresh, empty SessionModel for a given session id.
type Constructor func(sessionID, flowTypeKey string) *SessionModel

// ModelKeyRegistry maps a flow_type_key to the constructor for the model it
// backs. This replaces the original's class-FQN round-trip (spec §9: "Class
// -FQN round-trip for reloading models from the queue") - the compiled DAG
// carries the flow_type_key string, never a language-specific type
// reference, and trigger_event/error_handler resolve the constructor from
// here instead of via reflection.
type ModelKeyRegistry struct {
	constructors map[string]Constructor
}

// NewModelKeyRegistry returns an empty registry.
func NewModelKeyRegistry() *ModelKeyRegistry {
	return &ModelKeyRegistry{constructors: make(map[string]Constructor)}
}

// Register binds flowTypeKey to a constructor. Registering the same key
// twice is a programmer error and panics, matching the original's
// "raises if model_key already registered" registration-time validation.
func (r *ModelKeyRegistry) Register(flowTypeKey string, ctor Constructor) {
	if _, exists := r.constructors[flowTypeKey]; exists {
		panic(fmt.Sprintf("model key %q already registered", flowTypeKey))
	}
	r.constructors[flowTypeKey] = ctor
}

// New constructs a fresh model for flowTypeKey, or an error if unregistered.
func (r *ModelKeyRegistry) New(flowTypeKey, sessionID string) (*SessionModel, error) {
	ctor, ok := r.constructors[flowTypeKey]
	if !ok {
		return nil, fmt.Errorf("model key %q is not registered", flowTypeKey)
	}
	return ctor(sessionID, flowTypeKey), nil
}

// DefaultConstructor builds a bare SessionModel - the constructor every
// flow uses unless it needs to pre-populate Extraction fields.
func DefaultConstructor(sessionID, flowTypeKey string) *SessionModel {
	return &SessionModel{
		SessionID:   sessionID,
		FlowTypeKey: flowTypeKey,
		Extraction:  make(map[string]any),
	}
}
