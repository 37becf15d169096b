package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"feedwatch/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// mqttExchange is where RabbitMQ's MQTT plugin publishes
const mqttExchange = "amq.topic"

// AMQPPushSource receives feeding topics through a RabbitMQ broker that
// bridges MQTT publishes onto amq.topic.
type AMQPPushSource struct {
	url       string
	timeout   time.Duration
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected atomic.Bool
	isClosing atomic.Bool
	gen       atomic.Uint64
	queue     triggerQueue
	logger    *zap.Logger
}

func NewAMQPPushSource(url string, timeout time.Duration, clock Clock, logger *zap.Logger) *AMQPPushSource {
	return &AMQPPushSource{
		url:     url,
		timeout: timeout,
		queue:   newTriggerQueue(clock, logger),
		logger:  logger,
	}
}

// Connect declares a private queue bound to both feeding topics
func (r *AMQPPushSource) Connect(ctx context.Context) error {
	r.closeConn()

	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	conn, err := amqp.DialConfig(r.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	queue, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	for _, topic := range models.FeedingTopics {
		if err := ch.QueueBind(queue.Name, AMQPRoutingKey(topic), mqttExchange, false, nil); err != nil {
			conn.Close()
			return fmt.Errorf("failed to bind %s: %w", topic, err)
		}
	}

	msgs, err := ch.Consume(
		queue.Name,
		"feedwatch",
		true,  // auto-ack, payloads are never read
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	r.conn = conn
	r.channel = ch
	r.connected.Store(true)
	go r.forward(r.gen.Load(), msgs, conn.NotifyClose(make(chan *amqp.Error, 1)))

	r.logger.Info("Consuming feeding topics from RabbitMQ",
		zap.String("queue", queue.Name),
		zap.String("exchange", mqttExchange))
	return nil
}

// forward runs until its connection goes away. A superseded connection
// must not clear the state of its replacement.
func (r *AMQPPushSource) forward(gen uint64, msgs <-chan amqp.Delivery, closed <-chan *amqp.Error) {
	lost := func(err error) {
		if r.gen.Load() != gen {
			return
		}
		r.connected.Store(false)
		if !r.isClosing.Load() {
			r.logger.Warn("RabbitMQ connection lost", zap.Error(err))
		}
	}
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				lost(nil)
				return
			}
			r.queue.enqueue(topicFromRoutingKey(msg.RoutingKey))
		case closeErr := <-closed:
			if closeErr != nil {
				lost(closeErr)
			} else {
				lost(nil)
			}
			return
		}
	}
}

func (r *AMQPPushSource) IsConnected() bool {
	return r.connected.Load() && r.conn != nil && !r.conn.IsClosed()
}

func (r *AMQPPushSource) Triggers() <-chan models.PushTrigger {
	return r.queue.ch
}

func (r *AMQPPushSource) Close() error {
	r.isClosing.Store(true)
	return r.closeConn()
}

func (r *AMQPPushSource) closeConn() error {
	r.gen.Add(1)
	r.connected.Store(false)
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Debug("Error closing channel", zap.Error(err))
		}
		r.channel = nil
	}
	if r.conn == nil {
		return nil
	}
	conn := r.conn
	r.conn = nil
	if conn.IsClosed() {
		return nil
	}
	return conn.Close()
}
