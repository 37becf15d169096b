package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"feedwatch/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSyncedClockAdjust(t *testing.T) {
	c := NewSyncedClock()
	require.True(t, c.NeedsResync())

	c.Adjust(time.Now().Add(time.Hour))
	require.False(t, c.NeedsResync())
	require.InDelta(t, float64(time.Hour), float64(time.Until(c.Now())), float64(time.Second))

	c.MarkResyncNeeded()
	require.True(t, c.NeedsResync())
}

func TestSyncedClockSystemTime(t *testing.T) {
	c := NewSyncedClock()
	wake := time.Date(2024, 5, 1, 6, 59, 0, 0, time.UTC)
	require.Equal(t, wake, c.SystemTime(wake))

	offset := c.Adjust(time.Now().Add(5 * time.Minute))
	require.Equal(t, wake.Add(-offset), c.SystemTime(wake))
	require.WithinDuration(t, wake.Add(-5*time.Minute), c.SystemTime(wake), time.Second)
}

func TestTimeSyncServiceAdjustsClock(t *testing.T) {
	reference := time.Now().Add(-3 * time.Hour).UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"utc_datetime": reference.Format(time.RFC3339Nano),
			"unixtime":     reference.Unix(),
		})
	}))
	defer srv.Close()

	clock := NewSyncedClock()
	sync := NewTimeSyncService(srv.URL, 5*time.Second, clock, zap.NewNop())
	require.NoError(t, sync.Sync(context.Background()))

	require.False(t, clock.NeedsResync())
	require.WithinDuration(t, reference, clock.Now(), 2*time.Second)
}

func TestTimeSyncServiceFallsBackToUnixtime(t *testing.T) {
	reference := time.Now().Add(90 * time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"unixtime": reference.Unix()})
	}))
	defer srv.Close()

	clock := NewSyncedClock()
	require.NoError(t, NewTimeSyncService(srv.URL, 5*time.Second, clock, zap.NewNop()).Sync(context.Background()))
	require.WithinDuration(t, reference, clock.Now(), 2*time.Second)
}

func TestTimeSyncServiceFailureIsDriftWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	clock := NewSyncedClock()
	clock.Adjust(time.Now())
	err := NewTimeSyncService(srv.URL, 5*time.Second, clock, zap.NewNop()).Sync(context.Background())

	var warning *models.ClockDriftWarning
	require.True(t, errors.As(err, &warning))
	require.True(t, clock.NeedsResync())
}
