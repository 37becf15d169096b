package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"feedwatch/models"

	"go.uber.org/zap"
)

// Clock is the device's wall-clock source. Now keeps Go's monotonic
// reading so interval arithmetic stays correct across resyncs.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SyncedClock is the system clock corrected by an offset learned from a
// network time service.
type SyncedClock struct {
	offset      atomic.Int64
	needsResync atomic.Bool
}

func NewSyncedClock() *SyncedClock {
	c := &SyncedClock{}
	c.needsResync.Store(true)
	return c
}

func (c *SyncedClock) Now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

func (c *SyncedClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Adjust moves the clock so that Now matches reference at this instant
func (c *SyncedClock) Adjust(reference time.Time) time.Duration {
	offset := reference.Sub(time.Now())
	c.offset.Store(int64(offset))
	c.needsResync.Store(false)
	return offset
}

// SystemTime converts a synced instant back to the uncorrected system
// clock, which is what the kernel and the RTC keep.
func (c *SyncedClock) SystemTime(t time.Time) time.Time {
	return t.Add(-time.Duration(c.offset.Load()))
}

func (c *SyncedClock) MarkResyncNeeded() {
	c.needsResync.Store(true)
}

func (c *SyncedClock) NeedsResync() bool {
	return c.needsResync.Load()
}

// TimeSyncer resynchronizes the clock from the network
type TimeSyncer interface {
	Sync(ctx context.Context) error
}

// TimeSyncService pulls the current time from a worldtimeapi-style endpoint
type TimeSyncService struct {
	url        string
	clock      *SyncedClock
	httpClient *http.Client
	logger     *zap.Logger
}

type worldTimeResponse struct {
	UTCDatetime string `json:"utc_datetime"`
	Unixtime    int64  `json:"unixtime"`
}

func NewTimeSyncService(url string, timeout time.Duration, clock *SyncedClock, logger *zap.Logger) *TimeSyncService {
	return &TimeSyncService{
		url:   url,
		clock: clock,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Sync fetches the reference time and adjusts the clock. Failures are
// returned as *models.ClockDriftWarning and leave the clock flagged for resync.
func (t *TimeSyncService) Sync(ctx context.Context) error {
	reference, err := t.fetch(ctx)
	if err != nil {
		t.clock.MarkResyncNeeded()
		return &models.ClockDriftWarning{Err: err}
	}

	offset := t.clock.Adjust(reference)
	t.logger.Info("Device time synchronized",
		zap.Time("reference", reference),
		zap.Duration("offset", offset))
	return nil
}

func (t *TimeSyncService) fetch(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("build time request: %w", err)
	}

	sent := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("time request failed: %w", err)
	}
	defer resp.Body.Close()
	rtt := time.Since(sent)

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("time api returned status %d", resp.StatusCode)
	}

	var body worldTimeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<10)).Decode(&body); err != nil {
		return time.Time{}, fmt.Errorf("decode time response: %w", err)
	}

	var reference time.Time
	switch {
	case body.UTCDatetime != "":
		reference, err = time.Parse(time.RFC3339Nano, body.UTCDatetime)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse utc_datetime: %w", err)
		}
	case body.Unixtime > 0:
		reference = time.Unix(body.Unixtime, 0)
	default:
		return time.Time{}, fmt.Errorf("time response has no usable timestamp")
	}

	// the server stamped the reply roughly half a round trip ago
	return reference.Add(rtt / 2), nil
}
