package models

import (
	"fmt"
	"time"
)

// WindowName identifies one of the two daily feeding windows
type WindowName string

const (
	Morning WindowName = "morning"
	Evening WindowName = "evening"
)

// TimeOfDay is a wall-clock time in the device's configured location
type TimeOfDay struct {
	Hour   int `yaml:"hour"`
	Minute int `yaml:"minute"`
}

// On returns the instant of t on the calendar day of day, in loc
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
}

// Minutes returns the offset from midnight in minutes
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// WindowDefinition is a fixed daily interval [Start, End)
type WindowDefinition struct {
	Name  WindowName
	Start TimeOfDay
	End   TimeOfDay
}

func (w WindowDefinition) String() string {
	return fmt.Sprintf("%s %s-%s", w.Name, w.Start, w.End)
}

// FeedingEvent records when a window's feeding happened. A nil OccurredAt
// means not fed in the current cycle.
type FeedingEvent struct {
	Window     WindowName `json:"window"`
	OccurredAt *time.Time `json:"occurred_at"`
}

// Fed reports whether the event has a timestamp
func (e FeedingEvent) Fed() bool {
	return e.OccurredAt != nil
}

// FeedingState is the last known status rendered by the display
type FeedingState struct {
	Morning     FeedingEvent `json:"morning"`
	Evening     FeedingEvent `json:"evening"`
	LastUpdated time.Time    `json:"last_updated"`
	Generation  uint64       `json:"generation"`
}

// NewFeedingState returns the empty boot state
func NewFeedingState() FeedingState {
	return FeedingState{
		Morning: FeedingEvent{Window: Morning},
		Evening: FeedingEvent{Window: Evening},
	}
}

// Event returns the event for the given window
func (s FeedingState) Event(w WindowName) FeedingEvent {
	if w == Evening {
		return s.Evening
	}
	return s.Morning
}

// StatusPayload is a schema-validated body of the status endpoint
type StatusPayload struct {
	Morning     *time.Time
	Evening     *time.Time
	LastUpdated time.Time
}

// MergeResult is the outcome of the merge gate
type MergeResult int

const (
	MergeApplied MergeResult = iota
	MergeStale
	MergeUnchanged
)

func (r MergeResult) String() string {
	switch r {
	case MergeApplied:
		return "applied"
	case MergeStale:
		return "stale"
	case MergeUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}
