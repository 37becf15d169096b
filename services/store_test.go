package services

import (
	"testing"
	"time"

	"feedwatch/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var storeDay = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return storeDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func TestMergeIsIdempotent(t *testing.T) {
	store := NewFeedingStore(storeDay, zap.NewNop())
	p := models.StatusPayload{Morning: ts(at(7, 10)), LastUpdated: at(7, 11)}

	require.Equal(t, models.MergeApplied, store.Merge(p))
	gen := store.Snapshot().Generation
	require.Equal(t, models.MergeUnchanged, store.Merge(p))
	require.Equal(t, gen, store.Snapshot().Generation)
}

func TestMergeAppliesNewerStatus(t *testing.T) {
	store := NewFeedingStore(storeDay, zap.NewNop())

	require.Equal(t, models.MergeApplied, store.Merge(models.StatusPayload{LastUpdated: at(7, 0)}))
	first := store.Snapshot()
	require.False(t, first.Morning.Fed())
	require.False(t, first.Evening.Fed())

	require.Equal(t, models.MergeApplied, store.Merge(models.StatusPayload{Morning: ts(at(7, 30)), LastUpdated: at(7, 31)}))
	state := store.Snapshot()
	require.True(t, state.Morning.Fed())
	require.True(t, state.Morning.OccurredAt.Equal(at(7, 30)))
	require.False(t, state.Evening.Fed())
	require.Greater(t, state.Generation, first.Generation)
}

func TestMergeRejectsDelayedResponse(t *testing.T) {
	store := NewFeedingStore(storeDay, zap.NewNop())
	require.Equal(t, models.MergeApplied, store.Merge(models.StatusPayload{Morning: ts(at(7, 30)), LastUpdated: at(7, 31)}))
	before := store.Snapshot()

	result := store.Merge(models.StatusPayload{LastUpdated: at(7, 0)})
	require.Equal(t, models.MergeStale, result)
	require.Equal(t, before, store.Snapshot())
}

func TestMergeNeverClearsAnEvent(t *testing.T) {
	store := NewFeedingStore(storeDay, zap.NewNop())
	require.Equal(t, models.MergeApplied, store.Merge(models.StatusPayload{Morning: ts(at(7, 30)), LastUpdated: at(7, 31)}))

	require.Equal(t, models.MergeApplied, store.Merge(models.StatusPayload{LastUpdated: at(8, 0)}))
	state := store.Snapshot()
	require.True(t, state.Morning.Fed())
	require.True(t, state.LastUpdated.Equal(at(8, 0)))
}

func TestLastUpdatedNeverDecreases(t *testing.T) {
	store := NewFeedingStore(storeDay, zap.NewNop())
	updates := []time.Time{at(7, 5), at(7, 1), at(7, 9), at(7, 9), at(7, 3), at(8, 0)}

	var prev time.Time
	for _, u := range updates {
		store.Merge(models.StatusPayload{LastUpdated: u})
		cur := store.Snapshot().LastUpdated
		require.False(t, cur.Before(prev))
		prev = cur
	}
	require.True(t, prev.Equal(at(8, 0)))
}

func TestResetDayClearsEvents(t *testing.T) {
	store := NewFeedingStore(storeDay, zap.NewNop())
	require.Equal(t, models.MergeApplied, store.Merge(models.StatusPayload{
		Morning:     ts(at(7, 30)),
		Evening:     ts(at(17, 0)),
		LastUpdated: at(17, 1),
	}))
	gen := store.Snapshot().Generation

	next := storeDay.AddDate(0, 0, 1)
	store.ResetDay(next)
	state := store.Snapshot()
	require.False(t, state.Morning.Fed())
	require.False(t, state.Evening.Fed())
	require.Greater(t, state.Generation, gen)
	require.Equal(t, next, store.DayStart())

	// yesterday's timestamps reported again do not resurrect the events
	require.Equal(t, models.MergeApplied, store.Merge(models.StatusPayload{
		Morning:     ts(at(7, 30)),
		Evening:     ts(at(17, 0)),
		LastUpdated: next.Add(time.Hour),
	}))
	state = store.Snapshot()
	require.False(t, state.Morning.Fed())
	require.False(t, state.Evening.Fed())
}

func TestSnapshotIsACopy(t *testing.T) {
	store := NewFeedingStore(storeDay, zap.NewNop())
	store.Merge(models.StatusPayload{Morning: ts(at(7, 30)), LastUpdated: at(7, 31)})

	snap := store.Snapshot()
	*snap.Morning.OccurredAt = at(9, 0)
	require.True(t, store.Snapshot().Morning.OccurredAt.Equal(at(7, 30)))
}
