package services

import (
	"time"

	"feedwatch/models"

	"go.uber.org/zap"
)

// FeedingStore holds the last known feeding state and gates every update
// through Merge.
type FeedingStore struct {
	state    models.FeedingState
	dayStart time.Time
	logger   *zap.Logger
}

// NewFeedingStore starts empty for the day beginning at dayStart. Events
// older than dayStart are treated as not fed.
func NewFeedingStore(dayStart time.Time, logger *zap.Logger) *FeedingStore {
	return &FeedingStore{
		state:    models.NewFeedingState(),
		dayStart: dayStart,
		logger:   logger,
	}
}

// Merge applies a payload unless it is older than what is stored. A missing
// event in the payload never clears a stored one.
func (s *FeedingStore) Merge(payload models.StatusPayload) models.MergeResult {
	if payload.LastUpdated.Before(s.state.LastUpdated) {
		s.logger.Debug("Discarding feeding status",
			zap.Error(models.ErrStaleData),
			zap.Time("payload_last_updated", payload.LastUpdated),
			zap.Time("stored_last_updated", s.state.LastUpdated))
		return models.MergeStale
	}

	candidate := models.FeedingState{
		Morning:     s.mergeEvent(s.state.Morning, payload.Morning),
		Evening:     s.mergeEvent(s.state.Evening, payload.Evening),
		LastUpdated: payload.LastUpdated,
		Generation:  s.state.Generation,
	}

	if sameEvent(candidate.Morning, s.state.Morning) &&
		sameEvent(candidate.Evening, s.state.Evening) &&
		candidate.LastUpdated.Equal(s.state.LastUpdated) {
		return models.MergeUnchanged
	}

	candidate.Generation++
	s.state = candidate
	return models.MergeApplied
}

func (s *FeedingStore) mergeEvent(stored models.FeedingEvent, incoming *time.Time) models.FeedingEvent {
	if incoming == nil || incoming.Before(s.dayStart) {
		return stored
	}
	t := incoming.UTC()
	return models.FeedingEvent{Window: stored.Window, OccurredAt: &t}
}

func sameEvent(a, b models.FeedingEvent) bool {
	if a.OccurredAt == nil || b.OccurredAt == nil {
		return a.OccurredAt == nil && b.OccurredAt == nil
	}
	return a.OccurredAt.Equal(*b.OccurredAt)
}

// ResetDay clears both events at local midnight. LastUpdated is kept so an
// older payload is still rejected.
func (s *FeedingStore) ResetDay(dayStart time.Time) {
	s.dayStart = dayStart
	s.state.Morning.OccurredAt = nil
	s.state.Evening.OccurredAt = nil
	s.state.Generation++
}

// Snapshot returns a copy safe to hand to the display
func (s *FeedingStore) Snapshot() models.FeedingState {
	snap := s.state
	snap.Morning.OccurredAt = copyTime(s.state.Morning.OccurredAt)
	snap.Evening.OccurredAt = copyTime(s.state.Evening.OccurredAt)
	return snap
}

func (s *FeedingStore) DayStart() time.Time {
	return s.dayStart
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
