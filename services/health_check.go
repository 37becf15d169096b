package services

import (
	"time"

	"feedwatch/models"

	"go.uber.org/zap"
)

// LinkMonitor flags the display as stale once consecutive failures reach
// the threshold, and reports outages and recoveries to the notifier.
type LinkMonitor struct {
	threshold  int
	notifier   Notifier
	clock      Clock
	logger     *zap.Logger
	degraded   bool
	degradedAt time.Time
}

// NewLinkMonitor accepts a nil notifier
func NewLinkMonitor(threshold int, notifier Notifier, clock Clock, logger *zap.Logger) *LinkMonitor {
	return &LinkMonitor{
		threshold: threshold,
		notifier:  notifier,
		clock:     clock,
		logger:    logger,
	}
}

// Observe updates the outage state from the latest health and reports
// whether data should be shown as stale.
func (m *LinkMonitor) Observe(health models.ConnectionHealth) bool {
	now := m.clock.Now()

	if !m.degraded && health.ConsecutiveFailures >= m.threshold {
		m.degraded = true
		m.degradedAt = now
		m.logger.Warn("Connection degraded, marking display stale",
			zap.Int("consecutive_failures", health.ConsecutiveFailures),
			zap.String("wifi", string(health.WiFi)),
			zap.String("pubsub", string(health.PubSub)))

		if m.notifier != nil {
			if err := m.notifier.NotifyLinkDegraded(health, now); err != nil {
				m.logger.Error("Failed to send outage alert", zap.Error(err))
			}
		}
		return true
	}

	if m.degraded && health.ConsecutiveFailures < m.threshold {
		m.degraded = false
		downFor := now.Sub(m.degradedAt)
		m.logger.Info("Connection recovered", zap.Duration("down_duration", downFor))

		if m.notifier != nil {
			if err := m.notifier.NotifyLinkRecovered(downFor); err != nil {
				m.logger.Error("Failed to send recovery alert", zap.Error(err))
			}
		}
	}
	return m.degraded
}

func (m *LinkMonitor) Degraded() bool {
	return m.degraded
}
