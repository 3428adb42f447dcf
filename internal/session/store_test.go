package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ankleBowl/LucyServer/internal/capability"
	"github.com/ankleBowl/LucyServer/internal/message"
)

func newTestStore(t *testing.T, chat *scriptedChat) *Store {
	t.Helper()
	return NewStore(testLogger(t), chat, map[string]capability.Factory{}, nil, nil, t.TempDir())
}

func TestAuthEstablishesAndConfirms(t *testing.T) {
	st := newTestStore(t, &scriptedChat{})
	client := &recordingClient{}

	s := st.Auth("meewhee", client)
	if s == nil {
		t.Fatal("no session")
	}
	if got, ok := st.Get("meewhee"); !ok || got != s {
		t.Fatal("session not registered")
	}
	ev := client.snapshot()
	if len(ev) != 1 || ev[0] != "authenticated" {
		t.Errorf("events = %v", ev)
	}
}

func TestReauthReplacesSession(t *testing.T) {
	st := newTestStore(t, &scriptedChat{})
	first := st.Auth("u1", &recordingClient{})
	second := st.Auth("u1", &recordingClient{})

	got, ok := st.Get("u1")
	if !ok || got != second || got == first {
		t.Fatal("re-auth did not replace the session")
	}
}

func TestClearPersistsAndConfirms(t *testing.T) {
	chat := &scriptedChat{script: []scriptStep{{output: "<end></end>"}}}
	st := newTestStore(t, chat)
	client := &recordingClient{}
	s := st.Auth("u1", client)

	s.Run(context.Background(), []message.Message{message.New(message.KindUser, "hi")})
	st.Clear("u1")

	if _, ok := st.Get("u1"); ok {
		t.Fatal("session survived clear")
	}
	entries, _ := os.ReadDir(filepath.Join(st.dataDir, "session_cache"))
	if len(entries) != 1 {
		t.Errorf("persisted files = %d, want 1", len(entries))
	}
	ev := client.snapshot()
	if ev[len(ev)-1] != "cleared" {
		t.Errorf("events = %v, want trailing cleared", ev)
	}
}

func TestClearUntouchedSessionWritesNothing(t *testing.T) {
	st := newTestStore(t, &scriptedChat{})
	st.Auth("u1", &recordingClient{})
	st.Clear("u1")

	entries, _ := os.ReadDir(filepath.Join(st.dataDir, "session_cache"))
	if len(entries) != 0 {
		t.Errorf("persisted files = %d, want 0", len(entries))
	}
}

func TestClearWaitsForInFlightRun(t *testing.T) {
	gate := make(chan struct{})
	chat := &scriptedChat{script: []scriptStep{
		{output: "<end></end>", block: gate},
	}}
	st := newTestStore(t, chat)
	client := &recordingClient{}
	s := st.Auth("u1", client)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(context.Background(), []message.Message{message.New(message.KindUser, "hi")})
	}()
	time.Sleep(20 * time.Millisecond)

	cleared := make(chan struct{})
	go func() {
		st.Clear("u1")
		close(cleared)
	}()

	select {
	case <-cleared:
		t.Fatal("clear completed while a run held the lock")
	case <-time.After(20 * time.Millisecond):
	}

	close(gate)
	wg.Wait()
	<-cleared

	// The persisted transcript includes everything the run wrote.
	entries, _ := os.ReadDir(filepath.Join(st.dataDir, "session_cache"))
	if len(entries) != 1 {
		t.Errorf("persisted files = %d, want 1", len(entries))
	}
}

func TestDisconnectPersistsSilently(t *testing.T) {
	chat := &scriptedChat{script: []scriptStep{{output: "<end></end>"}}}
	st := newTestStore(t, chat)
	client := &recordingClient{}
	s := st.Auth("u1", client)

	s.Run(context.Background(), []message.Message{message.New(message.KindUser, "hi")})
	before := len(client.snapshot())
	st.Disconnect("u1")

	if _, ok := st.Get("u1"); ok {
		t.Fatal("session survived disconnect")
	}
	if len(client.snapshot()) != before {
		t.Error("disconnect sent a notification")
	}
	entries, _ := os.ReadDir(filepath.Join(st.dataDir, "session_cache"))
	if len(entries) != 1 {
		t.Errorf("persisted files = %d, want 1", len(entries))
	}
}
