package wakebridge

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/ankleBowl/LucyServer/internal/capability"
	"github.com/ankleBowl/LucyServer/internal/config"
	"github.com/ankleBowl/LucyServer/internal/message"
	"github.com/ankleBowl/LucyServer/internal/session"
)

type nopChat struct{}

func (nopChat) Chat(ctx context.Context, msgs []message.Wire) (string, error) {
	return "<end></end>", nil
}

type nopClient struct{}

func (nopClient) Authenticated() error { return nil }
func (nopClient) ToolPending(module, function string, args map[string]any) error {
	return nil
}
func (nopClient) Assistant(content string) error                       { return nil }
func (nopClient) End() error                                           { return nil }
func (nopClient) ToolMessage(module string, data map[string]any) error { return nil }
func (nopClient) SessionCleared() error                                { return nil }

type wakeCounter struct {
	detected int
}

func (m *wakeCounter) Name() string                         { return "player" }
func (m *wakeCounter) Setup(c *capability.Context) error    { return nil }
func (m *wakeCounter) Functions() []capability.Function     { return nil }
func (m *wakeCounter) WakeWordDetected(ctx context.Context) { m.detected++ }
func (m *wakeCounter) WakeWordCleared(ctx context.Context)  {}

func newBridge(t *testing.T, mod *wakeCounter) (*Bridge, *session.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	factories := map[string]capability.Factory{
		"player": func() capability.Module { return mod },
	}
	sessions := session.NewStore(logger, nopChat{}, factories, nil, nil, t.TempDir())
	cfg := config.MQTTConfig{TopicPrefix: "lucy"}
	return New(cfg, sessions, logger), sessions
}

func TestUserFromTopic(t *testing.T) {
	b, _ := newBridge(t, &wakeCounter{})

	tests := []struct {
		topic string
		user  string
		ok    bool
	}{
		{"lucy/meewhee/wake", "meewhee", true},
		{"lucy/wake", "", false},
		{"other/meewhee/wake", "", false},
		{"lucy/meewhee/state", "", false},
		{"lucy//wake", "", false},
	}
	for _, tt := range tests {
		user, ok := b.userFromTopic(tt.topic)
		if user != tt.user || ok != tt.ok {
			t.Errorf("userFromTopic(%q) = (%q, %v), want (%q, %v)", tt.topic, user, ok, tt.user, tt.ok)
		}
	}
}

func TestHandleWakeReachesSessionModules(t *testing.T) {
	mod := &wakeCounter{}
	b, sessions := newBridge(t, mod)
	sessions.Auth("meewhee", nopClient{})

	b.handleWake(context.Background(), "lucy/meewhee/wake")
	if mod.detected != 1 {
		t.Errorf("detected = %d, want 1", mod.detected)
	}
}

func TestHandleWakeInactiveUser(t *testing.T) {
	mod := &wakeCounter{}
	b, _ := newBridge(t, mod)

	b.handleWake(context.Background(), "lucy/nobody/wake")
	if mod.detected != 0 {
		t.Errorf("detected = %d, want 0", mod.detected)
	}
}
