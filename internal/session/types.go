// Package session implements the Session Manager (C7, spec §4.1): the
// public operations a thin HTTP layer calls (start_session, process_event,
// get_task_state, get_model), and the wire shapes spec §6 defines for them.
// Grounded on original_source/genie_flow/session.py's SessionManager.
package session

// Progress mirrors spec §6's `progress` wire shape.
type Progress struct {
	TotalNumberOfSubtasks    int `json:"total_number_of_subtasks"`
	NumberOfSubtasksExecuted int `json:"number_of_subtasks_executed"`
}

// Response is the wire shape for start_session/process_event, spec §6.
// Error carries a JSON-encoded string (never a typed object) so it can
// hold either a TransitionNotAllowed detail or a task_error record,
// matching original_source/genie_flow/session.py's json.dumps(...) use.
type Response struct {
	SessionID   string    `json:"session_id"`
	Response    string    `json:"response,omitempty"`
	Error       string    `json:"error,omitempty"`
	NextActions []string  `json:"next_actions"`
	Progress    *Progress `json:"progress,omitempty"`
}

// Status is the wire shape for get_task_state, spec §6.
type Status struct {
	SessionID   string   `json:"session_id"`
	Ready       bool     `json:"ready"`
	NextActions []string `json:"next_actions,omitempty"`
}

// EventInput is the request body process_event accepts, spec §6.
type EventInput struct {
	SessionID  string `json:"session_id"`
	Event      string `json:"event"`
	EventInput string `json:"event_input"`
}
