package services

import (
	"sort"
	"time"

	"feedwatch/models"
)

// WindowScheduler decides whether the device should be awake. It is a pure
// function of the current time and the configured windows.
type WindowScheduler struct {
	windows []models.WindowDefinition
	loc     *time.Location
	margin  time.Duration
}

func NewWindowScheduler(windows []models.WindowDefinition, loc *time.Location, margin time.Duration) (*WindowScheduler, error) {
	if err := models.ValidateWindows(windows); err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, &models.ConfigError{Field: "LOCATION", Reason: "time location is required"}
	}
	if margin < 0 {
		return nil, &models.ConfigError{Field: "WAKE_MARGIN", Reason: "must not be negative"}
	}

	sorted := make([]models.WindowDefinition, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Minutes() < sorted[j].Start.Minutes()
	})

	return &WindowScheduler{
		windows: sorted,
		loc:     loc,
		margin:  margin,
	}, nil
}

// Evaluate returns Awake iff now falls inside a window. Starts are
// inclusive and ends exclusive.
func (s *WindowScheduler) Evaluate(now time.Time) models.ScheduleDecision {
	local := now.In(s.loc)

	for _, w := range s.windows {
		start := w.Start.On(local, s.loc)
		end := w.End.On(local, s.loc)
		if !local.Before(start) && local.Before(end) {
			active := w
			return models.ScheduleDecision{
				Mode:           models.ModeAwake,
				NextWakeAt:     now,
				ActiveWindow:   &active,
				WindowStartsAt: start,
				WindowEndsAt:   end,
			}
		}
	}

	next := s.upcomingStart(local)
	return models.ScheduleDecision{
		Mode:           models.ModeSleep,
		NextWakeAt:     next.Add(-s.margin),
		WindowStartsAt: next,
	}
}

// upcomingStart finds the first window start strictly after local. Windows
// are sorted, so when today's have all passed it is tomorrow's first.
func (s *WindowScheduler) upcomingStart(local time.Time) time.Time {
	y, m, d := local.Date()
	today := time.Date(y, m, d, 12, 0, 0, 0, s.loc)
	for _, w := range s.windows {
		if start := w.Start.On(today, s.loc); start.After(local) {
			return start
		}
	}
	return s.windows[0].Start.On(today.AddDate(0, 0, 1), s.loc)
}

// NextPollAt returns when the next status fetch is due inside the active
// window. A zero lastPollAt means the poll is due immediately.
func (s *WindowScheduler) NextPollAt(decision models.ScheduleDecision, lastPollAt time.Time, interval time.Duration) time.Time {
	if decision.Mode != models.ModeAwake {
		return decision.NextWakeAt
	}
	if lastPollAt.IsZero() {
		return decision.WindowStartsAt
	}
	next := lastPollAt.Add(interval)
	if next.After(decision.WindowEndsAt) {
		return decision.WindowEndsAt
	}
	return next
}

// DayStart is local midnight of the day containing t
func (s *WindowScheduler) DayStart(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}
