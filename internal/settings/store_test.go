package settings

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadMissWritesDefaultBack(t *testing.T) {
	s := openTestStore(t)

	def := map[string]string{"groq_api_key": ""}
	var got map[string]string
	if err := s.Load("meewhee", "internal", "settings", def, &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["groq_api_key"] != "" {
		t.Errorf("got %v, want default", got)
	}

	// The default must now be durable: loading with a different default
	// returns the original one.
	var second map[string]string
	if err := s.Load("meewhee", "internal", "settings", map[string]string{"groq_api_key": "other"}, &second); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if _, ok := second["groq_api_key"]; !ok {
		t.Fatalf("second load = %v, want persisted default", second)
	}
	if second["groq_api_key"] != "" {
		t.Errorf("second load = %v, want first default persisted", second)
	}
}

func TestSaveThenLoad(t *testing.T) {
	s := openTestStore(t)

	tokens := map[string]any{"access_token": "abc", "expires_in": float64(1700000000)}
	if err := s.Save("u1", "player", "tokens", tokens); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var got map[string]any
	if err := s.Load("u1", "player", "tokens", map[string]any{}, &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["access_token"] != "abc" {
		t.Errorf("access_token = %v, want abc", got["access_token"])
	}
}

func TestLastWriteWins(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("u1", "m", "k", "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("u1", "m", "k", "second"); err != nil {
		t.Fatal(err)
	}

	var got string
	if err := s.Load("u1", "m", "k", "", &got); err != nil {
		t.Fatal(err)
	}
	if got != "second" {
		t.Errorf("got %q, want %q", got, "second")
	}
}

func TestKeysAreScopedByUserAndModule(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("u1", "clock", "k", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("u2", "clock", "k", 2); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("u1", "player", "k", 3); err != nil {
		t.Fatal(err)
	}

	var got int
	if err := s.Load("u1", "clock", "k", 0, &got); err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("u1/clock/k = %d, want 1", got)
	}
}

func TestScope(t *testing.T) {
	s := openTestStore(t)
	sc := s.Scope("u1", "home")

	if err := sc.Save("homeassistant", map[string]string{"hass_url": "http://ha.local"}); err != nil {
		t.Fatal(err)
	}

	var got map[string]string
	if err := sc.Load("homeassistant", map[string]string{}, &got); err != nil {
		t.Fatal(err)
	}
	if got["hass_url"] != "http://ha.local" {
		t.Errorf("got %v", got)
	}

	// Same key through the unscoped store.
	var direct map[string]string
	if err := s.Load("u1", "home", "homeassistant", map[string]string{}, &direct); err != nil {
		t.Fatal(err)
	}
	if direct["hass_url"] != "http://ha.local" {
		t.Errorf("direct load = %v", direct)
	}
}
