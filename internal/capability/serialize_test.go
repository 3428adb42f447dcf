package capability

import (
	"errors"
	"testing"

	"github.com/ankleBowl/LucyServer/internal/message"
)

func TestSerialize(t *testing.T) {
	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "already text", "already text"},
		{"int", 42, "42"},
		{"bool", true, "true"},
		{"map", map[string]int{"a": 1}, `{"a":1}`},
		{"slice", []string{"x", "y"}, `["x","y"]`},
		{"struct", point{1, 2}, `{"x":1,"y":2}`},
		{"pointer", &point{3, 4}, `{"x":3,"y":4}`},
		{"error", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Serialize(tt.in)
			if err != nil {
				t.Fatalf("Serialize(%v): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Serialize(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitSequence(t *testing.T) {
	head, extras, err := splitSequence([]any{
		"primary",
		message.New(message.KindAssistant, "follow-up"),
		map[string]string{"k": "v"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if head != "primary" {
		t.Errorf("head = %v", head)
	}
	if len(extras) != 2 {
		t.Fatalf("len(extras) = %d", len(extras))
	}
	if extras[0].Kind != message.KindAssistant || extras[0].Content != "follow-up" {
		t.Errorf("extras[0] = %+v", extras[0])
	}
	// Non-Message elements get serialized into tool responses.
	if extras[1].Kind != message.KindToolResponse || extras[1].Content != `{"k":"v"}` {
		t.Errorf("extras[1] = %+v", extras[1])
	}
}

func TestSplitSequenceTypedSliceIsNotSplit(t *testing.T) {
	// A typed slice is an ordinary list result, not a multi-message
	// sequence. Only []any signals the latter.
	head, extras, err := splitSequence([]string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if extras != nil {
		t.Fatalf("extras = %v, want none", extras)
	}
	got, err := Serialize(head)
	if err != nil {
		t.Fatal(err)
	}
	if got != `["a","b"]` {
		t.Errorf("head serialized to %q", got)
	}
}

func TestSplitSequenceScalarPassthrough(t *testing.T) {
	head, extras, err := splitSequence("plain")
	if err != nil {
		t.Fatal(err)
	}
	if head != "plain" || extras != nil {
		t.Errorf("got (%v, %v)", head, extras)
	}
}
