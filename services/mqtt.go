package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"feedwatch/config"
	"feedwatch/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MQTTPushSource subscribes to the feeding topics. Reconnects are driven by
// the network manager, never by paho itself.
type MQTTPushSource struct {
	broker    string
	clientID  string
	username  string
	password  string
	timeout   time.Duration
	client    mqtt.Client
	connected atomic.Bool
	queue     triggerQueue
	logger    *zap.Logger
}

func NewMQTTPushSource(cfg *config.Config, clock Clock, logger *zap.Logger) *MQTTPushSource {
	return &MQTTPushSource{
		broker:   fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort),
		clientID: fmt.Sprintf("%s-%s", cfg.MQTTClientID, uuid.NewString()[:8]),
		username: cfg.MQTTUsername,
		password: cfg.MQTTPassword,
		timeout:  cfg.ConnectTimeout,
		queue:    newTriggerQueue(clock, logger),
		logger:   logger,
	}
}

func (p *MQTTPushSource) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.broker)
	opts.SetClientID(p.clientID)
	if p.username != "" {
		opts.SetUsername(p.username)
		opts.SetPassword(p.password)
	}
	opts.SetCleanSession(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(p.timeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.connected.Store(false)
		p.logger.Warn("MQTT connection lost", zap.Error(err))
	})
	return opts
}

func (p *MQTTPushSource) Connect(ctx context.Context) error {
	if p.client != nil {
		p.client.Disconnect(100)
	}
	p.client = mqtt.NewClient(p.options())

	if err := waitToken(ctx, p.client.Connect()); err != nil {
		return fmt.Errorf("connect mqtt broker %s: %w", p.broker, err)
	}

	filters := make(map[string]byte, len(models.FeedingTopics))
	for _, topic := range models.FeedingTopics {
		filters[topic] = 1
	}
	if err := waitToken(ctx, p.client.SubscribeMultiple(filters, p.onMessage)); err != nil {
		p.client.Disconnect(100)
		return fmt.Errorf("subscribe feeding topics: %w", err)
	}

	p.connected.Store(true)
	p.logger.Info("Subscribed to feeding topics",
		zap.String("broker", p.broker),
		zap.String("client_id", p.clientID),
		zap.Strings("topics", models.FeedingTopics))
	return nil
}

func (p *MQTTPushSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	p.queue.enqueue(msg.Topic())
}

func (p *MQTTPushSource) IsConnected() bool {
	return p.connected.Load() && p.client != nil && p.client.IsConnectionOpen()
}

func (p *MQTTPushSource) Triggers() <-chan models.PushTrigger {
	return p.queue.ch
}

func (p *MQTTPushSource) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.connected.Store(false)
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
