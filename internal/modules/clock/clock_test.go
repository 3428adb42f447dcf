package clock

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ankleBowl/LucyServer/internal/capability"
	"github.com/ankleBowl/LucyServer/internal/message"
)

type recorder struct {
	mu       sync.Mutex
	toolMsgs []map[string]any
	runs     [][]message.Message
	fired    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 1)}
}

func (r *recorder) SendToolMessage(module string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolMsgs = append(r.toolMsgs, data)
	return nil
}

func (r *recorder) RequestRun(ctx context.Context, seeds []message.Message) {
	r.mu.Lock()
	r.runs = append(r.runs, seeds)
	r.mu.Unlock()
	select {
	case r.fired <- struct{}{}:
	default:
	}
}

func newModule(t *testing.T, r *recorder) *Module {
	t.Helper()
	m := New().(*Module)
	err := m.Setup(&capability.Context{
		UserID: "u1",
		Log:    slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		Notify: r,
		Runner: r,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCreateTimerValidation(t *testing.T) {
	m := newModule(t, newRecorder())

	tests := []struct {
		name string
		args map[string]any
	}{
		{"bad unit", map[string]any{"duration": 5.0, "unit": "fortnights"}},
		{"zero", map[string]any{"duration": 0.0, "unit": "seconds"}},
		{"negative", map[string]any{"duration": -3.0, "unit": "minutes"}},
		{"too long", map[string]any{"duration": 25.0, "unit": "hours"}},
		{"missing duration", map[string]any{"unit": "seconds"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.handleCreateTimer(context.Background(), tt.args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			res, ok := got.(map[string]string)
			if !ok || res["error"] == "" {
				t.Errorf("got %v, want error payload", got)
			}
		})
	}
}

func TestTimerFiresAndSeedsRun(t *testing.T) {
	r := newRecorder()
	m := newModule(t, r)

	got, err := m.handleCreateTimer(context.Background(), map[string]any{
		"duration": 1.0, "unit": "seconds", "label": "pasta",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res := got.(map[string]string); res["message"] == "" {
		t.Fatalf("got %v", got)
	}

	select {
	case <-r.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.toolMsgs) != 1 || r.toolMsgs[0]["message"] != "START_TIMER_SOUND" {
		t.Errorf("tool messages = %v", r.toolMsgs)
	}
	if len(r.runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(r.runs))
	}
	seeds := r.runs[0]
	if len(seeds) != 3 {
		t.Fatalf("seeds = %v", seeds)
	}
	if seeds[0].Kind != message.KindToolResponse {
		t.Errorf("seeds[0] = %+v", seeds[0])
	}
	if seeds[1].Kind != message.KindAssistant || seeds[1].Content != "Timer pasta has completed." {
		t.Errorf("seeds[1] = %+v", seeds[1])
	}
	if seeds[2].Kind != message.KindEnd {
		t.Errorf("seeds[2] = %+v", seeds[2])
	}
}

func TestStopTimerSound(t *testing.T) {
	r := newRecorder()
	m := newModule(t, r)

	if _, err := m.handleStopTimerSound(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(r.toolMsgs) != 1 || r.toolMsgs[0]["message"] != "STOP_TIMER_SOUND" {
		t.Errorf("tool messages = %v", r.toolMsgs)
	}
}

func TestPrettyDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{90 * time.Second, "1 minutes, 30 seconds"},
		{time.Hour, "1 hours"},
		{3*time.Hour + 5*time.Second, "3 hours, 5 seconds"},
		{0, "0 seconds"},
	}
	for _, tt := range tests {
		if got := prettyDuration(tt.d); got != tt.want {
			t.Errorf("prettyDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
