package services

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"feedwatch/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type orchestratorFixture struct {
	clock     *fakeClock
	network   *fakeNetwork
	display   *fakeDisplay
	indicator *fakeIndicator
	notifier  *fakeNotifier
	orch      *Orchestrator
}

var testOrchestratorSettings = OrchestratorSettings{
	PollInterval:      5 * time.Minute,
	MaxCycleBudget:    30 * time.Second,
	MinDeepSleep:      time.Minute,
	DisplayMinRefresh: 0,
	FailureThreshold:  5,
}

func newOrchestratorFixture(t *testing.T, now time.Time, settings OrchestratorSettings) *orchestratorFixture {
	t.Helper()
	clock := newFakeClock(now)
	f := &orchestratorFixture{
		clock:     clock,
		network:   &fakeNetwork{clock: clock},
		display:   &fakeDisplay{},
		indicator: newFakeIndicator(),
		notifier:  &fakeNotifier{},
	}
	scheduler, err := NewWindowScheduler(testWindows(), time.UTC, time.Minute)
	require.NoError(t, err)
	factory := func() (Network, error) { return f.network, nil }
	f.orch = NewOrchestrator(settings, clock, scheduler, factory, f.display, f.indicator, NewTimerSleeper(clock), f.notifier, zap.NewNop())
	require.NoError(t, f.orch.startWake())
	return f
}

func (f *orchestratorFixture) fetched(p models.StatusPayload) {
	f.network.outcomes = append(f.network.outcomes, models.StatusFetched(p))
}

func TestAppliedStatusRendersAndLightsLEDs(t *testing.T) {
	f := newOrchestratorFixture(t, at(7, 10), testOrchestratorSettings)
	f.fetched(models.StatusPayload{LastUpdated: at(7, 0)})
	f.fetched(models.StatusPayload{Morning: ts(at(7, 5)), LastUpdated: at(7, 6)})

	_, sleep := f.orch.Step(context.Background())
	require.False(t, sleep)
	require.Len(t, f.display.renders, 1)
	require.False(t, f.indicator.fed[models.Morning])

	f.orch.Step(context.Background())
	require.Len(t, f.display.renders, 2)
	last := f.display.renders[1]
	require.True(t, last.state.Morning.Fed())
	require.False(t, last.state.Evening.Fed())
	require.False(t, last.stale)
	require.True(t, f.indicator.fed[models.Morning])
	require.False(t, f.indicator.fed[models.Evening])
}

func TestDelayedResponseDoesNotRegress(t *testing.T) {
	f := newOrchestratorFixture(t, at(7, 10), testOrchestratorSettings)
	f.fetched(models.StatusPayload{Morning: ts(at(7, 5)), LastUpdated: at(7, 6)})
	f.fetched(models.StatusPayload{LastUpdated: at(7, 0)})

	f.orch.Step(context.Background())
	f.orch.Step(context.Background())

	require.Len(t, f.display.renders, 1)
	state := f.orch.State()
	require.True(t, state.Morning.Fed())
	require.True(t, state.LastUpdated.Equal(at(7, 6)))
}

func TestFirstCycleRendersEvenWithoutData(t *testing.T) {
	f := newOrchestratorFixture(t, at(7, 10), testOrchestratorSettings)

	f.orch.Step(context.Background())
	require.Len(t, f.display.renders, 1)
	require.False(t, f.display.renders[0].state.Morning.Fed())
	require.False(t, f.indicator.fed[models.Morning])
	require.False(t, f.indicator.fed[models.Evening])

	f.orch.Step(context.Background())
	require.Len(t, f.display.renders, 1)
}

func TestWakeEndsAtWindowClose(t *testing.T) {
	clock := newFakeClock(at(10, 59))
	network := &fakeNetwork{clock: clock}
	indicator := newFakeIndicator()
	scheduler, err := NewWindowScheduler(testWindows(), time.UTC, time.Minute)
	require.NoError(t, err)
	orch := NewOrchestrator(testOrchestratorSettings, clock, scheduler,
		func() (Network, error) { return network, nil },
		&fakeDisplay{}, indicator, NewTimerSleeper(clock), nil, zap.NewNop())

	wakeAt, err := orch.Wake(context.Background())
	require.NoError(t, err)
	require.Equal(t, at(15, 59), wakeAt)
	require.Equal(t, at(11, 0), clock.Now())
	require.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, network.budgets)
	require.True(t, network.closed)
	require.Equal(t, 1, indicator.offs)
	require.False(t, indicator.lit)
}

func TestShortSleepIsSpentAwake(t *testing.T) {
	f := newOrchestratorFixture(t, at(6, 59).Add(30*time.Second), testOrchestratorSettings)

	d, sleep := f.orch.Step(context.Background())
	require.False(t, sleep)
	require.Equal(t, models.ModeSleep, d.Mode)
	require.Equal(t, at(7, 0), f.clock.Now())
	require.Zero(t, f.indicator.offs)

	d, sleep = f.orch.Step(context.Background())
	require.False(t, sleep)
	require.Equal(t, models.ModeAwake, d.Mode)
}

func TestMidnightResetsFeedingState(t *testing.T) {
	f := newOrchestratorFixture(t, at(20, 50), testOrchestratorSettings)
	f.fetched(models.StatusPayload{Morning: ts(at(7, 5)), Evening: ts(at(17, 0)), LastUpdated: at(17, 1)})
	f.orch.Step(context.Background())
	require.True(t, f.orch.State().Evening.Fed())

	f.clock.Set(storeDay.AddDate(0, 0, 1).Add(5 * time.Second))
	_, sleep := f.orch.Step(context.Background())
	require.True(t, sleep)

	state := f.orch.State()
	require.False(t, state.Morning.Fed())
	require.False(t, state.Evening.Fed())
	last := f.display.renders[len(f.display.renders)-1]
	require.False(t, last.state.Morning.Fed())
	require.False(t, last.state.Evening.Fed())
	require.False(t, f.indicator.fed[models.Morning])
	require.False(t, f.indicator.fed[models.Evening])
}

func TestRepeatedFailuresMarkDisplayStale(t *testing.T) {
	f := newOrchestratorFixture(t, at(7, 10), testOrchestratorSettings)
	f.orch.Step(context.Background())
	require.False(t, f.display.renders[0].stale)

	f.network.health.ConsecutiveFailures = 5
	f.orch.Step(context.Background())
	require.Len(t, f.display.renders, 2)
	require.True(t, f.display.renders[1].stale)
	require.Equal(t, 1, f.notifier.degraded)

	f.network.health.ConsecutiveFailures = 0
	f.orch.Step(context.Background())
	require.Len(t, f.display.renders, 3)
	require.False(t, f.display.renders[2].stale)
	require.Equal(t, 1, f.notifier.recovered)
}

func TestUnreachableStatusEndpointMarksDisplayStale(t *testing.T) {
	clock := newFakeClock(at(7, 10))
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	status := &fakeStatus{results: []statusResult{{err: refused}}}
	display := &fakeDisplay{}
	notifier := &fakeNotifier{}

	scheduler, err := NewWindowScheduler(testWindows(), time.UTC, time.Minute)
	require.NoError(t, err)
	factory := func() (Network, error) {
		return NewNetworkManager(testNetworkSettings, clock, &fakeLink{}, nil, status, nil, zap.NewNop()), nil
	}
	orch := NewOrchestrator(testOrchestratorSettings, clock, scheduler, factory, display, newFakeIndicator(), NewTimerSleeper(clock), notifier, zap.NewNop())
	require.NoError(t, orch.startWake())

	for i := 0; i < 5; i++ {
		_, sleep := orch.Step(context.Background())
		require.False(t, sleep)
	}

	require.Equal(t, 5, status.calls)
	require.Len(t, display.renders, 2)
	require.False(t, display.renders[0].stale)
	require.True(t, display.renders[1].stale)
	require.Equal(t, 1, notifier.degraded)
}

func TestRendersAreRateLimited(t *testing.T) {
	settings := testOrchestratorSettings
	settings.DisplayMinRefresh = 10 * time.Second
	f := newOrchestratorFixture(t, at(7, 10), settings)
	f.fetched(models.StatusPayload{LastUpdated: at(7, 0)})
	f.fetched(models.StatusPayload{Morning: ts(at(7, 5)), LastUpdated: at(7, 6)})

	f.orch.Step(context.Background())
	f.orch.Step(context.Background())
	require.Len(t, f.display.renders, 1)
	require.True(t, f.indicator.fed[models.Morning])

	// a quiet cycle lets the panel rest, then the pending frame goes out
	f.orch.Step(context.Background())
	require.Len(t, f.display.renders, 2)
	require.True(t, f.display.renders[1].state.Morning.Fed())
}

func TestCycleBudgetFollowsPollSchedule(t *testing.T) {
	f := newOrchestratorFixture(t, at(10, 58), testOrchestratorSettings)
	d := f.orch.scheduler.Evaluate(f.clock.Now())

	require.Equal(t, 30*time.Second, f.orch.cycleBudget(f.clock.Now(), d))

	f.network.lastFetchAt = at(10, 58)
	require.Equal(t, 30*time.Second, f.orch.cycleBudget(f.clock.Now(), d))

	now := at(10, 59).Add(50 * time.Second)
	require.Equal(t, 10*time.Second, f.orch.cycleBudget(now, d))

	now = at(10, 59).Add(59*time.Second + 500*time.Millisecond)
	require.Equal(t, time.Second, f.orch.cycleBudget(now, d))
}

type cancellingPower struct {
	cancel context.CancelFunc
	wakes  []time.Time
}

func (p *cancellingPower) SleepUntil(ctx context.Context, t time.Time) error {
	p.wakes = append(p.wakes, t)
	p.cancel()
	return ctx.Err()
}

func TestRunHandsOffToPowerManager(t *testing.T) {
	clock := newFakeClock(at(11, 0))
	scheduler, err := NewWindowScheduler(testWindows(), time.UTC, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	power := &cancellingPower{cancel: cancel}
	network := &fakeNetwork{clock: clock}
	orch := NewOrchestrator(testOrchestratorSettings, clock, scheduler,
		func() (Network, error) { return network, nil },
		&fakeDisplay{}, newFakeIndicator(), power, nil, zap.NewNop())

	err = orch.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []time.Time{at(15, 59)}, power.wakes)
	require.True(t, network.closed)
}
