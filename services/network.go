package services

import (
	"context"
	"errors"
	"time"

	"feedwatch/models"

	"go.uber.org/zap"
)

// NetworkSettings are the timing knobs of the network manager
type NetworkSettings struct {
	PollInterval     time.Duration
	ConnectTimeout   time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	TimeSyncInterval time.Duration
	TimeSyncTimeout  time.Duration
}

// NetworkManager owns the link and pub/sub connections for one wake
// lifetime and turns each bounded poll cycle into a single outcome.
type NetworkManager struct {
	settings NetworkSettings
	clock    Clock
	logger   *zap.Logger

	link     Link
	push     PushSource
	status   StatusSource
	timeSync TimeSyncer

	wifi       *linkMachine
	pubsub     *linkMachine
	fetchRetry *ReconnectPolicy
	health     models.ConnectionHealth

	fetchPending  bool
	fetchInFlight bool
	coalesced     int
	lastFetchAt   time.Time
	lastSyncAt    time.Time
	lastSyncTryAt time.Time
}

// NewNetworkManager wires one wake's connections. push and timeSync may be nil.
func NewNetworkManager(settings NetworkSettings, clock Clock, link Link, push PushSource, status StatusSource, timeSync TimeSyncer, logger *zap.Logger) *NetworkManager {
	return &NetworkManager{
		settings:   settings,
		clock:      clock,
		logger:     logger,
		link:       link,
		push:       push,
		status:     status,
		timeSync:   timeSync,
		wifi:       newLinkMachine("wifi", NewReconnectPolicy(settings.BackoffBase, settings.BackoffMax, clock)),
		pubsub:     newLinkMachine("pubsub", NewReconnectPolicy(settings.BackoffBase, settings.BackoffMax, clock)),
		fetchRetry: NewReconnectPolicy(settings.BackoffBase, settings.BackoffMax, clock),
		health:     models.NewConnectionHealth(),
	}
}

// PollCycle runs one bounded cycle: keep the link up, hand back a push
// trigger or fetch the status when due, otherwise wait for either until the
// budget runs out. It never blocks longer than budget.
func (n *NetworkManager) PollCycle(ctx context.Context, budget time.Duration) models.NetworkOutcome {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	deadline := n.clock.Now().Add(budget)

	if n.wifi.connected() && !n.link.IsUp() {
		n.lost(n.wifi)
	}
	if !n.wifi.connected() {
		if outcome, ok := n.ensureLink(ctx, deadline); !ok {
			return outcome
		}
	}

	n.maybeSyncTime(ctx)
	n.ensurePubSub(ctx, deadline)

	for {
		if topic, ok := n.drainTriggers(); ok {
			return models.PushReceived(topic)
		}

		now := n.clock.Now()
		if n.fetchReady(now) {
			return n.fetch(ctx)
		}

		until := n.nextFetchAt(now)
		if until.After(deadline) {
			until = deadline
		}
		if !until.After(now) {
			return models.Timeout()
		}

		select {
		case tr := <-n.triggers():
			if n.acceptTrigger(tr) {
				return models.PushReceived(tr.Topic)
			}
		case <-n.clock.After(until.Sub(now)):
		case <-ctx.Done():
			return models.Timeout()
		}
	}
}

// ensureLink brings the link layer up, waiting out its backoff within the
// budget. ok is false when the cycle must end with the returned outcome.
func (n *NetworkManager) ensureLink(ctx context.Context, deadline time.Time) (models.NetworkOutcome, bool) {
	now := n.clock.Now()
	if !n.wifi.policy.Ready(now) {
		at := n.wifi.policy.NextAttemptAt()
		if at.After(deadline) {
			n.sleep(ctx, deadline.Sub(now))
			return models.Timeout(), false
		}
		if !n.sleep(ctx, at.Sub(now)) {
			return models.Timeout(), false
		}
	}

	if err := n.connect(ctx, n.wifi, n.link.Up); err != nil {
		if ctx.Err() != nil {
			return models.Timeout(), false
		}
		return models.LinkFailure(&models.LinkError{Layer: n.wifi.layer, Err: err}), false
	}
	return models.NetworkOutcome{}, true
}

// ensurePubSub never fails the cycle; the pull path keeps working without it
func (n *NetworkManager) ensurePubSub(ctx context.Context, deadline time.Time) {
	if n.push == nil || !n.wifi.connected() {
		return
	}
	if n.pubsub.connected() {
		if n.push.IsConnected() {
			return
		}
		n.lost(n.pubsub)
	}
	now := n.clock.Now()
	if !n.pubsub.policy.Ready(now) || !deadline.After(now) {
		return
	}
	_ = n.connect(ctx, n.pubsub, n.push.Connect)
}

// connect drives one attempt through the link state machine
func (n *NetworkManager) connect(ctx context.Context, m *linkMachine, dial func(context.Context) error) error {
	if err := m.fire(linkAttempt); err != nil {
		return err
	}
	now := n.clock.Now()
	n.health.LastAttemptAt = now

	cctx, cancel := context.WithTimeout(ctx, n.settings.ConnectTimeout)
	defer cancel()

	if err := dial(cctx); err != nil {
		_ = m.fire(linkFailed)
		n.health.ConsecutiveFailures++
		delay := m.policy.Failure(n.clock.Now())
		n.logger.Warn("Connection attempt failed",
			zap.String("layer", m.layer),
			zap.Error(err),
			zap.Int("consecutive_failures", n.health.ConsecutiveFailures),
			zap.Duration("retry_in", delay))
		return err
	}

	_ = m.fire(linkSucceeded)
	m.policy.Success()
	// a reachable link says nothing about a failing status endpoint
	if !n.fetchRetry.Failing() {
		n.health.ConsecutiveFailures = 0
	}
	n.health.LastSuccessAt = n.clock.Now()
	n.logger.Info("Connected", zap.String("layer", m.layer))
	return nil
}

func (n *NetworkManager) lost(m *linkMachine) {
	if err := m.fire(linkLost); err != nil {
		return
	}
	n.logger.Warn("Connection lost", zap.String("layer", m.layer))
	if m != n.wifi {
		return
	}
	n.link.MarkDown()
	if n.pubsub.connected() {
		_ = n.pubsub.fire(linkLost)
	}
}

// maybeSyncTime syncs after the first connect and then once per interval.
// A failed sync is retried no sooner than the next poll interval.
func (n *NetworkManager) maybeSyncTime(ctx context.Context) {
	if n.timeSync == nil || !n.wifi.connected() {
		return
	}
	now := n.clock.Now()
	if !n.lastSyncAt.IsZero() && now.Sub(n.lastSyncAt) < n.settings.TimeSyncInterval {
		return
	}
	if !n.lastSyncTryAt.IsZero() && now.Sub(n.lastSyncTryAt) < n.settings.PollInterval {
		return
	}
	n.lastSyncTryAt = now

	sctx, cancel := context.WithTimeout(ctx, n.settings.TimeSyncTimeout)
	defer cancel()
	if err := n.timeSync.Sync(sctx); err != nil {
		n.health.ClockNeedsResync = true
		n.logger.Warn("Time sync failed, keeping current clock", zap.Error(err))
		return
	}
	n.health.ClockNeedsResync = false
	n.lastSyncAt = n.clock.Now()
}

func (n *NetworkManager) triggers() <-chan models.PushTrigger {
	if n.push == nil {
		return nil
	}
	return n.push.Triggers()
}

// drainTriggers empties the queue. It reports the first trigger that
// starts a new fetch; the rest are coalesced into it.
func (n *NetworkManager) drainTriggers() (string, bool) {
	ch := n.triggers()
	if ch == nil {
		return "", false
	}
	topic, accepted := "", false
	for {
		select {
		case tr := <-ch:
			if n.acceptTrigger(tr) {
				topic, accepted = tr.Topic, true
			}
		default:
			return topic, accepted
		}
	}
}

func (n *NetworkManager) acceptTrigger(tr models.PushTrigger) bool {
	if n.fetchPending || n.fetchInFlight {
		n.coalesced++
		return false
	}
	n.fetchPending = true
	n.logger.Info("Push trigger received", zap.String("topic", tr.Topic))
	return true
}

func (n *NetworkManager) fetchReady(now time.Time) bool {
	if !n.fetchRetry.Ready(now) {
		return false
	}
	return n.fetchPending || n.lastFetchAt.IsZero() || now.Sub(n.lastFetchAt) >= n.settings.PollInterval
}

func (n *NetworkManager) nextFetchAt(now time.Time) time.Time {
	at := now
	if !n.fetchPending && !n.lastFetchAt.IsZero() {
		at = n.lastFetchAt.Add(n.settings.PollInterval)
	}
	if retry := n.fetchRetry.NextAttemptAt(); retry.After(at) {
		at = retry
	}
	return at
}

func (n *NetworkManager) fetch(ctx context.Context) models.NetworkOutcome {
	n.fetchInFlight = true
	payload, err := n.status.Fetch(ctx)

	// anything that arrived while the request was out is answered by it
	n.drainTriggers()
	n.fetchInFlight = false
	if n.coalesced > 0 {
		n.logger.Debug("Coalesced push triggers into fetch", zap.Int("count", n.coalesced))
		n.coalesced = 0
	}

	now := n.clock.Now()
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
			return models.Timeout()
		}
		n.health.ConsecutiveFailures++
		delay := n.fetchRetry.Failure(now)
		if isTransportError(err) {
			n.lost(n.wifi)
		}
		n.logger.Warn("Status fetch failed",
			zap.Error(err),
			zap.Int("consecutive_failures", n.health.ConsecutiveFailures),
			zap.Duration("retry_in", delay))
		return models.LinkFailure(&models.LinkError{Layer: "status", Err: err})
	}

	n.fetchRetry.Success()
	n.fetchPending = false
	n.lastFetchAt = now
	n.health.ConsecutiveFailures = 0
	n.health.LastSuccessAt = now
	return models.StatusFetched(payload)
}

func (n *NetworkManager) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-n.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// LastFetchAt is the time of the last successful fetch
func (n *NetworkManager) LastFetchAt() time.Time {
	return n.lastFetchAt
}

func (n *NetworkManager) Health() models.ConnectionHealth {
	h := n.health
	h.WiFi = n.wifi.state
	h.PubSub = n.pubsub.state
	return h
}

func (n *NetworkManager) Close() error {
	if n.push == nil {
		return nil
	}
	if n.pubsub.connected() {
		_ = n.pubsub.fire(linkLost)
	}
	return n.push.Close()
}
