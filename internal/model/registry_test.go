package model

import "testing"

func TestRegistryNewUnregisteredKeyIsError(t *testing.T) {
	r := NewModelKeyRegistry()
	if _, err := r.New("qa", "s1"); err == nil {
		t.Fatal("expected an error for an unregistered flow_type_key")
	}
}

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewModelKeyRegistry()
	r.Register("qa", DefaultConstructor)

	m, err := r.New("qa", "s1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.SessionID != "s1" || m.FlowTypeKey != "qa" {
		t.Fatalf("unexpected model %+v", m)
	}
	if m.Extraction == nil {
		t.Fatal("expected DefaultConstructor to initialize Extraction")
	}
}

func TestRegistryRegisterTwicePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic registering the same flow_type_key twice")
		}
	}()
	r := NewModelKeyRegistry()
	r.Register("qa", DefaultConstructor)
	r.Register("qa", DefaultConstructor)
}
