// Package model holds the persisted data types GenieFlow's Store moves in
// and out of the session lock: the session model itself, its dialogue, and
// the in-flight DAG progress record.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionSchemaVersion is the schema_version stamped on every persisted
// SessionModel payload (spec §3, §4.6). GenieFlow keeps one model class for
// all flows rather than the original's per-flow GenieModel subclasses - see
// DESIGN.md for the Open Question this resolves - so there is exactly one
// version to bump when the shape of SessionModel changes.
const SessionSchemaVersion = 1

// Actor identifies the originator of a DialogueElement.
type Actor string

const (
	ActorSystem    Actor = "system"
	ActorAssistant Actor = "assistant"
	ActorUser      Actor = "user"
)

// Valid reports whether a is one of the known actors, mirroring
// original_source/genie_flow/model/dialogue.py's known_actors validator.
func (a Actor) Valid() bool {
	switch a {
	case ActorSystem, ActorAssistant, ActorUser:
		return true
	default:
		return false
	}
}

// DialogueElement is a single turn appended to a session's conversation
// history. Append-only during a transition; persisted with the model.
type DialogueElement struct {
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	ActorText string    `json:"actor_text"`
}

// NewDialogueElement validates actor before constructing the element.
func NewDialogueElement(actor Actor, text string, at time.Time) (DialogueElement, error) {
	if !actor.Valid() {
		return DialogueElement{}, fmt.Errorf("unknown actor: %q", actor)
	}
	return DialogueElement{Actor: actor, Timestamp: at, ActorText: text}, nil
}

// DialogueFormat selects how Format renders a dialogue slice into render
// data, grounded on original_source/genie_flow/model/dialogue.py.
type DialogueFormat string

const (
	DialogueFormatPythonRepr    DialogueFormat = "python_repr"
	DialogueFormatJSON          DialogueFormat = "json"
	DialogueFormatChat          DialogueFormat = "chat"
	DialogueFormatQuestionAnswer DialogueFormat = "question_answer"
)

// ErrUnsupportedDialogueFormat is returned for QuestionAnswer, which the
// original leaves as a TODO/NotImplementedError.
var ErrUnsupportedDialogueFormat = fmt.Errorf("question_answer dialogue format is not implemented")

// Format renders dialogue into the given format.
func Format(dialogue []DialogueElement, target DialogueFormat) (string, error) {
	if len(dialogue) == 0 {
		return "", nil
	}

	switch target {
	case DialogueFormatPythonRepr:
		return fmt.Sprintf("%+v", dialogue), nil
	case DialogueFormatJSON:
		b, err := json.Marshal(dialogue)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case DialogueFormatChat:
		out := ""
		for i, e := range dialogue {
			if i > 0 {
				out += "\n\n"
			}
			out += fmt.Sprintf("[%s]: %s", upperActor(e.Actor), e.ActorText)
		}
		return out, nil
	case DialogueFormatQuestionAnswer:
		return "", ErrUnsupportedDialogueFormat
	default:
		return "", fmt.Errorf("unknown dialogue format: %q", target)
	}
}

func upperActor(a Actor) string {
	switch a {
	case ActorSystem:
		return "SYSTEM"
	case ActorAssistant:
		return "ASSISTANT"
	case ActorUser:
		return "USER"
	default:
		return string(a)
	}
}

// SessionModel is the one-per-session-id persisted state, owned by the
// Store and loaded into memory only while holding the session lock
// (spec §3).
type SessionModel struct {
	SessionID   string            `json:"session_id"`
	FlowTypeKey string            `json:"flow_type_key"`
	State       string            `json:"state"`
	Dialogue    []DialogueElement `json:"dialogue"`
	Actor       string            `json:"actor"`
	ActorInput  string            `json:"actor_input"`

	// TaskErrors accumulates JSON-encoded error records appended by
	// error_handler, generalizing the original's single accumulating
	// task_error string into a list.
	TaskErrors []string `json:"task_errors,omitempty"`

	// Extraction holds flow-defined fields populated by entry/exit hooks
	// (e.g. parsed JSON from actor_input). Kept as a generic bag since Go
	// has no per-flow model subclassing - see DESIGN.md.
	Extraction map[string]any `json:"extraction,omitempty"`
}

// SchemaVersion implements store.Versioned.
func (m *SessionModel) SchemaVersion() int { return SessionSchemaVersion }

// HasErrors reports whether any error_handler has recorded a failure for
// this session, mirroring GenieModel.has_errors in the original.
func (m *SessionModel) HasErrors() bool { return len(m.TaskErrors) > 0 }

// CurrentResponse returns the text of the last dialogue element, or "" if
// the dialogue is empty.
func (m *SessionModel) CurrentResponse() string {
	if len(m.Dialogue) == 0 {
		return ""
	}
	return m.Dialogue[len(m.Dialogue)-1].ActorText
}

// AppendDialogue appends a validated dialogue element.
func (m *SessionModel) AppendDialogue(actor Actor, text string, at time.Time) error {
	el, err := NewDialogueElement(actor, text, at)
	if err != nil {
		return err
	}
	m.Dialogue = append(m.Dialogue, el)
	return nil
}

// AppendTaskError records a JSON-encoded error record produced by
// error_handler.
func (m *SessionModel) AppendTaskError(record any) error {
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	m.TaskErrors = append(m.TaskErrors, string(b))
	return nil
}

// GenieTaskProgress is the one-per-in-flight-DAG progress record, keyed by
// session id (spec §3).
type GenieTaskProgress struct {
	SessionID          string `json:"session_id"`
	TaskID             string `json:"task_id"`
	TotalNrSubtasks    int    `json:"total_nr_subtasks"`
	NrSubtasksExecuted int    `json:"nr_subtasks_executed"`
	Tombstone          bool   `json:"tombstone"`

	// EventToSendAfter is the event compiler.Wrap bound into this DAG's
	// trigger_event/error_handler pair. Stored alongside progress so a
	// crash-recovery sweep (internal/worker.Reaper) can re-enter the state
	// machine correctly without needing the in-memory compiled DAG.
	EventToSendAfter string `json:"event_to_send_after"`
}
