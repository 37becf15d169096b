package services

import (
	"context"
	"strings"

	"feedwatch/config"
	"feedwatch/models"

	"go.uber.org/zap"
)

// triggerBuffer bounds queued push triggers between poll cycles. Extra
// messages are dropped since any one trigger causes the same fetch.
const triggerBuffer = 8

// PushSource delivers low-latency fetch triggers from a broker
type PushSource interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Triggers() <-chan models.PushTrigger
	Close() error
}

// triggerQueue is shared by the broker clients
type triggerQueue struct {
	ch     chan models.PushTrigger
	clock  Clock
	logger *zap.Logger
}

func newTriggerQueue(clock Clock, logger *zap.Logger) triggerQueue {
	return triggerQueue{
		ch:     make(chan models.PushTrigger, triggerBuffer),
		clock:  clock,
		logger: logger,
	}
}

func (q triggerQueue) enqueue(topic string) {
	if _, ok := models.TopicWindow(topic); !ok {
		q.logger.Debug("Ignoring push on unknown topic", zap.String("topic", topic))
		return
	}
	select {
	case q.ch <- models.PushTrigger{Topic: topic, ReceivedAt: q.clock.Now()}:
	default:
		q.logger.Debug("Trigger queue full, dropping push", zap.String("topic", topic))
	}
}

// AMQPRoutingKey maps an MQTT topic to its amq.topic routing key
func AMQPRoutingKey(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

func topicFromRoutingKey(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}

// NewPushSource returns nil when push is disabled
func NewPushSource(cfg *config.Config, clock Clock, logger *zap.Logger) PushSource {
	switch cfg.PushTransport {
	case config.PushTransportMQTT:
		return NewMQTTPushSource(cfg, clock, logger)
	case config.PushTransportAMQP:
		return NewAMQPPushSource(cfg.RabbitMQURL, cfg.ConnectTimeout, clock, logger)
	default:
		return nil
	}
}
