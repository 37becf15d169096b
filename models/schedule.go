package models

import (
	"fmt"
	"time"
)

// Mode is what the device should be doing right now
type Mode string

const (
	ModeAwake Mode = "awake"
	ModeSleep Mode = "sleep"
)

// ScheduleDecision is recomputed on every evaluation and never persisted.
type ScheduleDecision struct {
	Mode         Mode
	NextWakeAt   time.Time
	ActiveWindow *WindowDefinition

	// WindowStartsAt is the active window's start when awake, the upcoming
	// window's start when asleep.
	WindowStartsAt time.Time
	// WindowEndsAt is only set when awake.
	WindowEndsAt time.Time
}

// ValidateWindows rejects empty, inverted and overlapping windows
func ValidateWindows(windows []WindowDefinition) error {
	if len(windows) == 0 {
		return &ConfigError{Field: "windows", Reason: "at least one feeding window is required"}
	}
	for i, w := range windows {
		if w.Start.Hour < 0 || w.Start.Hour > 23 || w.End.Hour < 0 || w.End.Hour > 24 ||
			w.Start.Minute < 0 || w.Start.Minute > 59 || w.End.Minute < 0 || w.End.Minute > 59 ||
			(w.End.Hour == 24 && w.End.Minute != 0) {
			return &ConfigError{Field: string(w.Name), Reason: "time of day out of range"}
		}
		if w.End.Minutes() <= w.Start.Minutes() {
			return &ConfigError{Field: string(w.Name), Reason: fmt.Sprintf("window %s must end after it starts", w)}
		}
		for _, other := range windows[:i] {
			if w.Start.Minutes() < other.End.Minutes() && other.Start.Minutes() < w.End.Minutes() {
				return &ConfigError{Field: string(w.Name), Reason: fmt.Sprintf("window %s overlaps %s", w, other)}
			}
		}
	}
	return nil
}
