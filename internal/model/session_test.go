package model

import (
	"testing"
	"time"
)

func TestActorValid(t *testing.T) {
	cases := map[Actor]bool{
		ActorSystem:    true,
		ActorAssistant: true,
		ActorUser:      true,
		Actor("robot"): false,
	}
	for actor, want := range cases {
		if got := actor.Valid(); got != want {
			t.Errorf("Actor(%q).Valid() = %v, want %v", actor, got, want)
		}
	}
}

func TestNewDialogueElementRejectsUnknownActor(t *testing.T) {
	if _, err := NewDialogueElement(Actor("robot"), "hi", time.Now()); err == nil {
		t.Fatal("expected an error for an unknown actor")
	}
}

func TestFormatEmptyDialogueIsEmptyString(t *testing.T) {
	out, err := Format(nil, DialogueFormatChat)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty string for empty dialogue, got %q", out)
	}
}

func TestFormatChat(t *testing.T) {
	dialogue := []DialogueElement{
		{Actor: ActorUser, ActorText: "hi"},
		{Actor: ActorAssistant, ActorText: "hello"},
	}
	out, err := Format(dialogue, DialogueFormatChat)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	want := "[USER]: hi\n\n[ASSISTANT]: hello"
	if out != want {
		t.Fatalf("unexpected chat format:\n got: %q\nwant: %q", out, want)
	}
}

func TestFormatJSON(t *testing.T) {
	dialogue := []DialogueElement{{Actor: ActorUser, ActorText: "hi"}}
	out, err := Format(dialogue, DialogueFormatJSON)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if out == "" {
		t.Fatal("expected non-empty JSON output")
	}
}

func TestFormatQuestionAnswerIsUnimplemented(t *testing.T) {
	dialogue := []DialogueElement{{Actor: ActorUser, ActorText: "hi"}}
	if _, err := Format(dialogue, DialogueFormatQuestionAnswer); err != ErrUnsupportedDialogueFormat {
		t.Fatalf("expected ErrUnsupportedDialogueFormat, got %v", err)
	}
}

func TestFormatUnknownFormatIsError(t *testing.T) {
	dialogue := []DialogueElement{{Actor: ActorUser, ActorText: "hi"}}
	if _, err := Format(dialogue, DialogueFormat("bogus")); err == nil {
		t.Fatal("expected an error for an unknown dialogue format")
	}
}

func TestAppendDialogueRejectsUnknownActor(t *testing.T) {
	m := &SessionModel{}
	if err := m.AppendDialogue(Actor("robot"), "hi", time.Now()); err == nil {
		t.Fatal("expected an error appending with an unknown actor")
	}
	if len(m.Dialogue) != 0 {
		t.Fatal("expected no dialogue appended on error")
	}
}

func TestAppendDialogueAppendsInOrder(t *testing.T) {
	m := &SessionModel{}
	if err := m.AppendDialogue(ActorUser, "first", time.Now()); err != nil {
		t.Fatalf("AppendDialogue: %v", err)
	}
	if err := m.AppendDialogue(ActorAssistant, "second", time.Now()); err != nil {
		t.Fatalf("AppendDialogue: %v", err)
	}
	if len(m.Dialogue) != 2 || m.Dialogue[0].ActorText != "first" || m.Dialogue[1].ActorText != "second" {
		t.Fatalf("unexpected dialogue order %+v", m.Dialogue)
	}
	if m.CurrentResponse() != "second" {
		t.Fatalf("expected CurrentResponse to return the last element, got %q", m.CurrentResponse())
	}
}

func TestCurrentResponseEmptyDialogue(t *testing.T) {
	m := &SessionModel{}
	if m.CurrentResponse() != "" {
		t.Fatal("expected empty string for an empty dialogue")
	}
}

func TestAppendTaskErrorAndHasErrors(t *testing.T) {
	m := &SessionModel{}
	if m.HasErrors() {
		t.Fatal("expected no errors on a fresh model")
	}
	if err := m.AppendTaskError(map[string]string{"task": "invoke", "message": "boom"}); err != nil {
		t.Fatalf("AppendTaskError: %v", err)
	}
	if !m.HasErrors() {
		t.Fatal("expected HasErrors to be true after AppendTaskError")
	}
	if len(m.TaskErrors) != 1 {
		t.Fatalf("expected 1 recorded task error, got %d", len(m.TaskErrors))
	}
}

func TestSchemaVersion(t *testing.T) {
	m := &SessionModel{}
	if m.SchemaVersion() != SessionSchemaVersion {
		t.Fatalf("expected SchemaVersion %d, got %d", SessionSchemaVersion, m.SchemaVersion())
	}
}
