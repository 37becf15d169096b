package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"feedwatch/models"

	"go.uber.org/zap"
)

// Display shows the feeding state. Implementations may be slow; the
// orchestrator rate-limits calls.
type Display interface {
	Render(ctx context.Context, state models.FeedingState, stale bool) error
}

// Indicator drives the per-window status LEDs
type Indicator interface {
	SetIndicator(ctx context.Context, window models.WindowName, fed bool) error
	Off(ctx context.Context) error
}

// LogDisplay renders to the log, for development boards without a panel
type LogDisplay struct {
	logger *zap.Logger
	loc    *time.Location
}

func NewLogDisplay(loc *time.Location, logger *zap.Logger) *LogDisplay {
	return &LogDisplay{logger: logger, loc: loc}
}

func (d *LogDisplay) Render(_ context.Context, state models.FeedingState, stale bool) error {
	d.logger.Info("Display refreshed",
		zap.String("morning", eventLabel(state.Morning, d.loc)),
		zap.String("evening", eventLabel(state.Evening, d.loc)),
		zap.Time("last_updated", state.LastUpdated),
		zap.Uint64("generation", state.Generation),
		zap.Bool("stale", stale))
	return nil
}

func eventLabel(e models.FeedingEvent, loc *time.Location) string {
	if !e.Fed() {
		return "not fed"
	}
	return "fed at " + e.OccurredAt.In(loc).Format("15:04")
}

type LogIndicator struct {
	logger *zap.Logger
}

func NewLogIndicator(logger *zap.Logger) *LogIndicator {
	return &LogIndicator{logger: logger}
}

func (l *LogIndicator) SetIndicator(_ context.Context, window models.WindowName, fed bool) error {
	l.logger.Info("Indicator set", zap.String("window", string(window)), zap.String("color", indicatorColor(fed)))
	return nil
}

func (l *LogIndicator) Off(_ context.Context) error {
	l.logger.Info("Indicators off")
	return nil
}

func indicatorColor(fed bool) string {
	if fed {
		return "green"
	}
	return "red"
}

// HardwareIndicatorService drives LEDs owned by a companion controller
// over its HTTP API.
type HardwareIndicatorService struct {
	logger     *zap.Logger
	apiURL     string
	httpClient *http.Client
}

// IndicatorPayload is the body posted to the controller
type IndicatorPayload struct {
	Window string `json:"window"`
	State  string `json:"state"`
}

func NewHardwareIndicatorService(logger *zap.Logger, apiURL string) *HardwareIndicatorService {
	return &HardwareIndicatorService{
		logger: logger,
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (h *HardwareIndicatorService) SetIndicator(ctx context.Context, window models.WindowName, fed bool) error {
	return h.send(ctx, IndicatorPayload{Window: string(window), State: indicatorColor(fed)})
}

func (h *HardwareIndicatorService) Off(ctx context.Context) error {
	return h.send(ctx, IndicatorPayload{Window: "all", State: "off"})
}

func (h *HardwareIndicatorService) send(ctx context.Context, payload IndicatorPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/indicator", h.apiURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "feedwatch/1.0")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		h.logger.Debug("Indicator updated",
			zap.String("window", payload.Window),
			zap.String("state", payload.State))
		return nil
	}

	h.logger.Error("Indicator API returned error",
		zap.String("window", payload.Window),
		zap.Int("status_code", resp.StatusCode))
	return fmt.Errorf("indicator API error: %s", resp.Status)
}
