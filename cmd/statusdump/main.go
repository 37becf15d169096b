package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"feedwatch/config"
	"feedwatch/display"
	"feedwatch/models"
	"feedwatch/services"

	"go.uber.org/zap"
)

// report is what a device would show if it polled right now
type report struct {
	Now      time.Time           `json:"now"`
	Mode     models.Mode         `json:"mode"`
	Window   string              `json:"window,omitempty"`
	NextWake time.Time           `json:"next_wake_at"`
	State    models.FeedingState `json:"state"`
	Morning  string              `json:"morning"`
	Evening  string              `json:"evening"`
}

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	loc, err := cfg.TimeLocation()
	if err != nil {
		logger.Fatal("Failed to load time location", zap.Error(err))
	}
	windows, err := cfg.Windows()
	if err != nil {
		logger.Fatal("Invalid feeding windows", zap.Error(err))
	}
	scheduler, err := services.NewWindowScheduler(windows, loc, cfg.WakeMargin)
	if err != nil {
		logger.Fatal("Invalid schedule", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout+5*time.Second)
	defer cancel()

	source, err := services.NewStatusSource(ctx, cfg, loc, logger)
	if err != nil {
		logger.Fatal("Failed to initialize status source", zap.Error(err))
	}
	payload, err := source.Fetch(ctx)
	if err != nil {
		logger.Fatal("Error reading feed status", zap.Error(err))
	}

	now := time.Now()
	store := services.NewFeedingStore(scheduler.DayStart(now), logger)
	store.Merge(payload)
	state := store.Snapshot()

	decision := scheduler.Evaluate(now)
	out := report{
		Now:      now.In(loc),
		Mode:     decision.Mode,
		NextWake: decision.NextWakeAt.In(loc),
		State:    state,
		Morning:  display.StatusLabel(state.Morning, loc),
		Evening:  display.StatusLabel(state.Evening, loc),
	}
	if decision.ActiveWindow != nil {
		out.Window = decision.ActiveWindow.String()
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		logger.Fatal("Failed to marshal report", zap.Error(err))
	}
	fmt.Fprintln(os.Stdout, string(data))
}
