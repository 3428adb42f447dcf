// Package timeid provides time arithmetic over opaque time IDs of the
// form "time:<milliseconds since epoch>", so the model never does date
// math itself.
package timeid

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ankleBowl/LucyServer/internal/capability"
)

// Module implements the time capability.
type Module struct {
	ctx *capability.Context
	now func() time.Time
}

// New constructs the module.
func New() capability.Module {
	return &Module{now: time.Now}
}

func (m *Module) Name() string { return "time" }

func (m *Module) Setup(c *capability.Context) error {
	m.ctx = c
	return nil
}

func (m *Module) Functions() []capability.Function {
	return []capability.Function{
		{
			Name:        "get_current_time",
			Description: "Gets the current time as a unique time ID.",
			Handler:     m.handleCurrentTime,
		},
		{
			Name:        "get_specific_time",
			Description: "Gets the time for a specific date and time and returns it as a unique time ID.",
			Args:        []string{"year", "month", "day", "hour", "minute", "second"},
			Handler:     m.handleSpecificTime,
		},
		{
			Name:        "get_duration_between",
			Description: "Calculates the duration between two time IDs and returns it in a human-readable format.",
			Args:        []string{"time_id_1", "time_id_2"},
			Handler:     m.handleDurationBetween,
		},
		{
			Name:        "get_human_readable_time",
			Description: "Converts a time ID to a human-readable format.",
			Args:        []string{"time_id"},
			Handler:     m.handleHumanReadable,
		},
	}
}

// formatID renders a time as its opaque ID.
func formatID(t time.Time) string {
	return fmt.Sprintf("time:%d", t.UnixMilli())
}

// parseID parses "time:<ms>" back to a time.
func parseID(id string) (time.Time, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 2 || parts[0] != "time" {
		return time.Time{}, fmt.Errorf("invalid time ID format, must be 'time:<ms_since_epoch>': %q", id)
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse time ID %q: %v", id, err)
	}
	return time.UnixMilli(ms), nil
}

func (m *Module) handleCurrentTime(ctx context.Context, args map[string]any) (any, error) {
	return formatID(m.now()), nil
}

func (m *Module) handleSpecificTime(ctx context.Context, args map[string]any) (any, error) {
	year, okY := capability.IntArg(args, "year")
	month, okM := capability.IntArg(args, "month")
	day, okD := capability.IntArg(args, "day")
	if !okY || !okM || !okD {
		return map[string]string{"error": "year, month, and day are required."}, nil
	}
	hour, _ := capability.IntArg(args, "hour")
	minute, _ := capability.IntArg(args, "minute")
	second, _ := capability.IntArg(args, "second")

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local)
	// time.Date normalizes out-of-range components instead of failing,
	// so round-trip the fields to reject impossible dates.
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute || t.Second() != second {
		return map[string]string{"error": "Invalid date or time provided."}, nil
	}
	return formatID(t), nil
}

func (m *Module) handleDurationBetween(ctx context.Context, args map[string]any) (any, error) {
	id1, _ := capability.StringArg(args, "time_id_1")
	id2, _ := capability.StringArg(args, "time_id_2")

	t1, err := parseID(id1)
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}
	t2, err := parseID(id2)
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}

	d := t1.Sub(t2)
	if d < 0 {
		d = -d
	}
	return map[string]string{"duration": humanDuration(d)}, nil
}

func (m *Module) handleHumanReadable(ctx context.Context, args map[string]any) (any, error) {
	id, _ := capability.StringArg(args, "time_id")
	t, err := parseID(id)
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}
	return t.Format("2006-01-02 15:04:05"), nil
}

// humanDuration renders a duration in days, hours, minutes, and
// seconds, with singular/plural forms and omitting zero components.
func humanDuration(d time.Duration) string {
	total := int(d.Seconds())
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var parts []string
	add := func(n int, unit string) {
		if n == 1 {
			parts = append(parts, fmt.Sprintf("1 %s", unit))
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, unit))
		}
	}
	if days > 0 {
		add(days, "day")
	}
	if hours > 0 {
		add(hours, "hour")
	}
	if minutes > 0 {
		add(minutes, "minute")
	}
	if seconds > 0 || len(parts) == 0 {
		add(seconds, "second")
	}
	return strings.Join(parts, ", ")
}
