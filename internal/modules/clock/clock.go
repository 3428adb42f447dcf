// Package clock provides timers. A timer outlives the run that created
// it: when it fires, the module pushes a brand-new run through the
// session's lock-guarded entry point so the assistant can announce it.
package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ankleBowl/LucyServer/internal/capability"
	"github.com/ankleBowl/LucyServer/internal/message"
)

// maxDuration caps timers below a day; anything longer is an alarm
// problem, not a kitchen timer.
const maxDuration = 24 * time.Hour

var unitSeconds = map[string]int{
	"seconds": 1,
	"minutes": 60,
	"hours":   3600,
}

type timer struct {
	label    string
	duration time.Duration
	stop     *time.Timer
}

// Module implements the clock capability.
type Module struct {
	ctx *capability.Context

	mu     sync.Mutex
	timers map[*timer]struct{}
}

// New constructs the module.
func New() capability.Module {
	return &Module{timers: make(map[*timer]struct{})}
}

func (m *Module) Name() string { return "clock" }

func (m *Module) Setup(c *capability.Context) error {
	m.ctx = c
	return nil
}

func (m *Module) Functions() []capability.Function {
	return []capability.Function{
		{
			Name:        "create_timer",
			Description: "Creates a timer for the specified duration and unit (seconds, minutes, hours) with an optional label.",
			Args:        []string{"duration", "unit", "label"},
			Handler:     m.handleCreateTimer,
		},
		{
			Name:        "stop_timer_sound",
			Description: "Stops the timer sound if it is currently playing.",
			Handler:     m.handleStopTimerSound,
		},
	}
}

func (m *Module) handleCreateTimer(ctx context.Context, args map[string]any) (any, error) {
	duration, ok := capability.FloatArg(args, "duration")
	if !ok {
		return map[string]string{"error": "Timer duration is required."}, nil
	}
	unit, _ := capability.StringArg(args, "unit")
	unit = strings.ToLower(unit)
	label, _ := capability.StringArg(args, "label")

	mult, ok := unitSeconds[unit]
	if !ok {
		return map[string]string{"error": "Invalid time unit. Use 'seconds', 'minutes', or 'hours'."}, nil
	}

	total := time.Duration(duration*float64(mult)) * time.Second
	if total >= maxDuration {
		return map[string]string{"error": "Timer duration must be less than 24 hours."}, nil
	}
	if total <= 0 {
		return map[string]string{"error": "Timer duration must be greater than 0."}, nil
	}

	t := &timer{label: label, duration: total}
	t.stop = time.AfterFunc(total, func() { m.timerComplete(t) })

	m.mu.Lock()
	m.timers[t] = struct{}{}
	m.mu.Unlock()

	m.ctx.Log.Info("timer created", "duration", total, "label", label)
	return map[string]string{
		"message": fmt.Sprintf("Timer set for %s.", prettyDuration(total)),
	}, nil
}

func (m *Module) handleStopTimerSound(ctx context.Context, args map[string]any) (any, error) {
	return nil, m.ctx.Notify.SendToolMessage(m.Name(), map[string]any{"message": "STOP_TIMER_SOUND"})
}

// timerComplete runs on the timer goroutine. It tells the client to
// start the alarm sound, then seeds a new run so the assistant
// announces the completion and ends the exchange itself.
func (m *Module) timerComplete(t *timer) {
	m.mu.Lock()
	delete(m.timers, t)
	m.mu.Unlock()

	ctx := context.Background()

	payload := map[string]string{
		"status":   "timer_complete",
		"duration": prettyDuration(t.duration),
		"info":     "The timer sound is now playing. You can stop it with the 'stop_timer_sound' command.",
	}
	announcement := fmt.Sprintf("The %s timer has completed.", prettyDuration(t.duration))
	if t.label != "" {
		payload["label"] = t.label
		announcement = fmt.Sprintf("Timer %s has completed.", t.label)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		m.ctx.Log.Error("timer payload encode failed", "error", err)
		return
	}

	if err := m.ctx.Notify.SendToolMessage(m.Name(), map[string]any{"message": "START_TIMER_SOUND"}); err != nil {
		m.ctx.Log.Warn("timer sound notification failed", "error", err)
	}

	m.ctx.Runner.RequestRun(ctx, []message.Message{
		message.New(message.KindToolResponse, string(data)),
		message.New(message.KindAssistant, announcement),
		message.New(message.KindEnd, ""),
	})
}

// prettyDuration renders a duration as "1 hours, 2 minutes, 3 seconds",
// omitting zero components.
func prettyDuration(d time.Duration) string {
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var parts []string
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d hours", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d minutes", minutes))
	}
	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%d seconds", seconds))
	}
	if len(parts) == 0 {
		return "0 seconds"
	}
	return strings.Join(parts, ", ")
}
