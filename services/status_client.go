package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"feedwatch/config"
	"feedwatch/models"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxStatusBody = 64 << 10

// StatusSource returns the authoritative feeding status
type StatusSource interface {
	Fetch(ctx context.Context) (models.StatusPayload, error)
}

// statusDocument is the dog_feed_status object as stored server-side
type statusDocument struct {
	Morning     *string `json:"morning"`
	Evening     *string `json:"evening"`
	LastUpdated *string `json:"last_updated"`
}

type statusEnvelope struct {
	DogFeedStatus *statusDocument `json:"dog_feed_status"`
}

// DecodeStatusPayload validates a status response body. Timestamps without
// a zone are read in loc.
func DecodeStatusPayload(body []byte, loc *time.Location) (models.StatusPayload, error) {
	var env statusEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return models.StatusPayload{}, fmt.Errorf("malformed status body: %w", err)
	}
	if env.DogFeedStatus == nil {
		return models.StatusPayload{}, errors.New("status body missing dog_feed_status")
	}
	return env.DogFeedStatus.payload(loc)
}

func (d statusDocument) payload(loc *time.Location) (models.StatusPayload, error) {
	if d.LastUpdated == nil || strings.TrimSpace(*d.LastUpdated) == "" {
		return models.StatusPayload{}, errors.New("status missing last_updated")
	}
	lastUpdated, err := parseStatusTime(*d.LastUpdated, loc)
	if err != nil {
		return models.StatusPayload{}, fmt.Errorf("last_updated: %w", err)
	}
	morning, err := parseOptionalTime(d.Morning, loc)
	if err != nil {
		return models.StatusPayload{}, fmt.Errorf("morning: %w", err)
	}
	evening, err := parseOptionalTime(d.Evening, loc)
	if err != nil {
		return models.StatusPayload{}, fmt.Errorf("evening: %w", err)
	}
	return models.StatusPayload{
		Morning:     morning,
		Evening:     evening,
		LastUpdated: lastUpdated,
	}, nil
}

func parseOptionalTime(raw *string, loc *time.Location) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := parseStatusTime(*raw, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var localStatusLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseStatusTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range localStatusLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

// HTTPStatusClient reads the status from the dog feed REST endpoint
type HTTPStatusClient struct {
	url        string
	loc        *time.Location
	httpClient *http.Client
}

func NewHTTPStatusClient(url string, timeout time.Duration, loc *time.Location) *HTTPStatusClient {
	return &HTTPStatusClient{
		url: url,
		loc: loc,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPStatusClient) Fetch(ctx context.Context) (models.StatusPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return models.StatusPayload{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "feedwatch/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.StatusPayload{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
	if err != nil {
		return models.StatusPayload{}, fmt.Errorf("failed to read status body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.StatusPayload{}, fmt.Errorf("status endpoint returned %s", resp.Status)
	}
	return DecodeStatusPayload(body, c.loc)
}

// BreakerStatusSource stops hammering a failing endpoint until the breaker
// half-opens again.
type BreakerStatusSource struct {
	inner   StatusSource
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerStatusSource(inner StatusSource, failures int, openTimeout time.Duration, logger *zap.Logger) *BreakerStatusSource {
	settings := gobreaker.Settings{
		Name:        "status-source",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Status source breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &BreakerStatusSource{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *BreakerStatusSource) Fetch(ctx context.Context) (models.StatusPayload, error) {
	res, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Fetch(ctx)
	})
	if err != nil {
		return models.StatusPayload{}, err
	}
	return res.(models.StatusPayload), nil
}

// NewStatusSource builds the configured source without the breaker
func NewStatusSource(ctx context.Context, cfg *config.Config, loc *time.Location, logger *zap.Logger) (StatusSource, error) {
	switch cfg.StatusSource {
	case config.StatusSourceFirebase:
		return NewFirebaseStatusSource(ctx, cfg, loc, logger)
	case config.StatusSourceHTTP, "":
		return NewHTTPStatusClient(cfg.DogFeedStatusURL, cfg.HTTPTimeout, loc), nil
	default:
		return nil, &models.ConfigError{Field: "STATUS_SOURCE", Reason: fmt.Sprintf("unknown source %q", cfg.StatusSource)}
	}
}
