package oauthstate

import (
	"testing"
	"time"
)

func TestPutConsume(t *testing.T) {
	s := New(0)
	s.Put("state-1", "meewhee", "player")

	user, module, ok := s.Consume("state-1")
	if !ok {
		t.Fatal("Consume failed")
	}
	if user != "meewhee" || module != "player" {
		t.Errorf("got (%q, %q)", user, module)
	}
}

func TestConsumeIsOneShot(t *testing.T) {
	s := New(0)
	s.Put("state-1", "u", "player")

	if _, _, ok := s.Consume("state-1"); !ok {
		t.Fatal("first Consume failed")
	}
	if _, _, ok := s.Consume("state-1"); ok {
		t.Error("token redeemed twice")
	}
}

func TestConsumeUnknown(t *testing.T) {
	s := New(0)
	if _, _, ok := s.Consume("never-registered"); ok {
		t.Error("unknown token redeemed")
	}
}

func TestExpiry(t *testing.T) {
	s := New(time.Minute)
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	s.Put("state-1", "u", "player")
	now = now.Add(2 * time.Minute)

	if _, _, ok := s.Consume("state-1"); ok {
		t.Error("expired token redeemed")
	}
}

func TestPutSweepsExpired(t *testing.T) {
	s := New(time.Minute)
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	s.Put("old", "u", "player")
	now = now.Add(2 * time.Minute)
	s.Put("new", "u", "player")

	s.mu.Lock()
	_, oldStillThere := s.entries["old"]
	s.mu.Unlock()
	if oldStillThere {
		t.Error("expired entry survived sweep")
	}
}
