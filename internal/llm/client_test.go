package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ankleBowl/LucyServer/internal/message"
)

func TestChatSendsMessagesAndReturnsContent(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "<end></end>"}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "test-model", nil)
	out, err := c.Chat(context.Background(), []message.Wire{
		{Role: "system", Content: "prompt"},
		{Role: "user", Content: "<user>hi</user>"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "<end></end>" {
		t.Errorf("content = %q, want %q", out, "<end></end>")
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody.Model != "test-model" {
		t.Errorf("model = %q, want test-model", gotBody.Model)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[1].Content != "<user>hi</user>" {
		t.Errorf("messages = %+v", gotBody.Messages)
	}
}

func TestChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad", "m", nil)
	if _, err := c.Chat(context.Background(), nil); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestChatEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "m", nil)
	if _, err := c.Chat(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestDefaults(t *testing.T) {
	c := NewClient("", "k", "", nil)
	if c.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q, want default", c.baseURL)
	}
	if c.Model() != DefaultModel {
		t.Errorf("model = %q, want default", c.Model())
	}
}
