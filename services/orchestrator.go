package services

import (
	"context"
	"time"

	"feedwatch/models"

	"go.uber.org/zap"
)

// minCycleBudget keeps a poll cycle from degenerating into a busy loop
const minCycleBudget = time.Second

// Network is what the orchestrator needs from a wake's network manager
type Network interface {
	PollCycle(ctx context.Context, budget time.Duration) models.NetworkOutcome
	Health() models.ConnectionHealth
	LastFetchAt() time.Time
	Close() error
}

// NetworkFactory builds a fresh network stack for each wake
type NetworkFactory func() (Network, error)

type OrchestratorSettings struct {
	PollInterval      time.Duration
	MaxCycleBudget    time.Duration
	MinDeepSleep      time.Duration
	DisplayMinRefresh time.Duration
	FailureThreshold  int
}

// Orchestrator is the device's main loop. It alternates wake lifetimes,
// where it polls and renders, with deep sleep between feeding windows.
type Orchestrator struct {
	settings   OrchestratorSettings
	clock      Clock
	scheduler  *WindowScheduler
	newNetwork NetworkFactory
	display    Display
	indicator  Indicator
	power      PowerManager
	notifier   Notifier
	logger     *zap.Logger

	// per wake
	store         *FeedingStore
	network       Network
	monitor       *LinkMonitor
	day           time.Time
	rendered      bool
	renderPending bool
	lastRenderAt  time.Time
	stale         bool
}

func NewOrchestrator(settings OrchestratorSettings, clock Clock, scheduler *WindowScheduler, newNetwork NetworkFactory,
	display Display, indicator Indicator, power PowerManager, notifier Notifier, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		settings:   settings,
		clock:      clock,
		scheduler:  scheduler,
		newNetwork: newNetwork,
		display:    display,
		indicator:  indicator,
		power:      power,
		notifier:   notifier,
		logger:     logger,
	}
}

// Run loops until ctx is cancelled. Each wake starts from empty state.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		wakeAt, err := o.Wake(ctx)
		if err != nil {
			return err
		}

		if err := o.power.SleepUntil(ctx, wakeAt); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Error("Deep sleep failed, idling instead", zap.Error(err))
			if err := NewTimerSleeper(o.clock).SleepUntil(ctx, wakeAt); err != nil {
				return err
			}
		}
		o.logger.Info("Woke from deep sleep")
	}
}

// Wake runs one wake lifetime and returns when the device should power down
func (o *Orchestrator) Wake(ctx context.Context) (time.Time, error) {
	if err := o.startWake(); err != nil {
		return time.Time{}, err
	}
	defer o.endWake()

	for {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		decision, sleep := o.Step(ctx)
		if sleep {
			return decision.NextWakeAt, nil
		}
	}
}

func (o *Orchestrator) startWake() error {
	network, err := o.newNetwork()
	if err != nil {
		return err
	}
	now := o.clock.Now()
	o.network = network
	o.day = o.scheduler.DayStart(now)
	o.store = NewFeedingStore(o.day, o.logger)
	o.monitor = NewLinkMonitor(o.settings.FailureThreshold, o.notifier, o.clock, o.logger)
	o.rendered = false
	o.renderPending = false
	o.lastRenderAt = time.Time{}
	o.stale = false
	return nil
}

func (o *Orchestrator) endWake() {
	if err := o.network.Close(); err != nil {
		o.logger.Warn("Error closing network", zap.Error(err))
	}
}

// Step runs one iteration of the main loop. sleep is true when the wake
// lifetime is over and the device should power down until decision.NextWakeAt.
func (o *Orchestrator) Step(ctx context.Context) (decision models.ScheduleDecision, sleep bool) {
	now := o.clock.Now()
	o.rollDay(ctx, now)

	decision = o.scheduler.Evaluate(now)
	if decision.Mode == models.ModeSleep {
		if decision.NextWakeAt.Sub(now) < o.settings.MinDeepSleep {
			o.logger.Debug("Next window too close for deep sleep, waiting",
				zap.Time("window_start", decision.WindowStartsAt))
			o.wait(ctx, decision.WindowStartsAt.Sub(now))
			return decision, false
		}
		o.prepareSleep(ctx, decision)
		return decision, true
	}

	budget := o.cycleBudget(now, decision)
	outcome := o.network.PollCycle(ctx, budget)
	o.handleOutcome(ctx, outcome)

	if !o.rendered && !o.renderPending {
		o.renderPending = true
		o.updateIndicators(ctx)
	}
	o.observeHealth()
	o.flushRender(ctx, false)
	return decision, false
}

// cycleBudget lets the cycle run until the next poll is due. When a poll is
// already overdue the network manager gets a full budget to catch up.
func (o *Orchestrator) cycleBudget(now time.Time, decision models.ScheduleDecision) time.Duration {
	pollAt := o.scheduler.NextPollAt(decision, o.network.LastFetchAt(), o.settings.PollInterval)
	budget := pollAt.Sub(now)
	if budget <= 0 {
		budget = o.settings.MaxCycleBudget
		if remaining := decision.WindowEndsAt.Sub(now); remaining < budget {
			budget = remaining
		}
	}
	if budget > o.settings.MaxCycleBudget {
		budget = o.settings.MaxCycleBudget
	}
	if budget < minCycleBudget {
		budget = minCycleBudget
	}
	return budget
}

func (o *Orchestrator) handleOutcome(ctx context.Context, outcome models.NetworkOutcome) {
	switch outcome.Kind {
	case models.OutcomeStatusFetched:
		result := o.store.Merge(*outcome.Payload)
		o.logger.Debug("Status merged",
			zap.Stringer("result", result),
			zap.Time("last_updated", outcome.Payload.LastUpdated))
		if result == models.MergeApplied {
			state := o.store.Snapshot()
			o.logger.Info("Feeding status updated",
				zap.Bool("morning_fed", state.Morning.Fed()),
				zap.Bool("evening_fed", state.Evening.Fed()),
				zap.Uint64("generation", state.Generation))
			o.renderPending = true
			o.updateIndicators(ctx)
		}
	case models.OutcomePushReceived:
		o.logger.Debug("Fetch scheduled by push", zap.String("topic", outcome.Topic))
	case models.OutcomeLinkFailure:
		o.logger.Warn("Poll cycle failed", zap.Error(outcome.Reason))
	case models.OutcomeTimeout:
	}
}

func (o *Orchestrator) observeHealth() {
	stale := o.monitor.Observe(o.network.Health())
	if stale != o.stale {
		o.stale = stale
		o.renderPending = true
	}
}

// rollDay clears both windows at local midnight
func (o *Orchestrator) rollDay(ctx context.Context, now time.Time) {
	dayStart := o.scheduler.DayStart(now)
	if !dayStart.After(o.day) {
		return
	}
	o.day = dayStart
	o.store.ResetDay(dayStart)
	o.logger.Info("New day, feeding status reset", zap.Time("day_start", dayStart))
	o.renderPending = true
	o.updateIndicators(ctx)
}

func (o *Orchestrator) updateIndicators(ctx context.Context) {
	state := o.store.Snapshot()
	for _, w := range []models.WindowName{models.Morning, models.Evening} {
		if err := o.indicator.SetIndicator(ctx, w, state.Event(w).Fed()); err != nil {
			o.logger.Warn("Failed to set indicator", zap.String("window", string(w)), zap.Error(err))
		}
	}
}

// flushRender refreshes the panel when a render is pending and the panel
// has rested long enough. force skips the rest period.
func (o *Orchestrator) flushRender(ctx context.Context, force bool) {
	if !o.renderPending {
		return
	}
	now := o.clock.Now()
	if !force && !o.lastRenderAt.IsZero() && now.Sub(o.lastRenderAt) < o.settings.DisplayMinRefresh {
		return
	}

	o.lastRenderAt = now
	if err := o.display.Render(ctx, o.store.Snapshot(), o.stale); err != nil {
		o.logger.Error("Display render failed", zap.Error(err))
		return
	}
	o.rendered = true
	o.renderPending = false
}

func (o *Orchestrator) prepareSleep(ctx context.Context, decision models.ScheduleDecision) {
	o.flushRender(ctx, true)
	if err := o.indicator.Off(ctx); err != nil {
		o.logger.Warn("Failed to switch indicators off", zap.Error(err))
	}
	o.logger.Info("Entering deep sleep",
		zap.Time("next_wake_at", decision.NextWakeAt),
		zap.Time("window_start", decision.WindowStartsAt),
		zap.Duration("duration", decision.NextWakeAt.Sub(o.clock.Now())))
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-o.clock.After(d):
	case <-ctx.Done():
	}
}

// State returns the current wake's feeding state
func (o *Orchestrator) State() models.FeedingState {
	return o.store.Snapshot()
}
