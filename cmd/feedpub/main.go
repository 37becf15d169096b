package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"feedwatch/config"
	"feedwatch/models"
	"feedwatch/services"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var (
	window    = flag.String("window", "morning", "Feeding window to mark (morning|evening)")
	fed       = flag.Bool("fed", true, "Publish fed (true) or cleared (false)")
	transport = flag.String("transport", "", "mqtt or amqp (default from config)")
	broker    = flag.String("broker", "", "MQTT broker address host:port (default from config)")
	rabbitURL = flag.String("rabbitmq", "", "RabbitMQ URL (default from config)")
)

// feedingMessage is informational; subscribers only react to the topic
type feedingMessage struct {
	Fed       bool      `json:"fed"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	topic := models.MorningFedTopic
	switch models.WindowName(*window) {
	case models.Morning:
	case models.Evening:
		topic = models.EveningFedTopic
	default:
		logger.Fatal("Unknown window", zap.String("window", *window))
	}

	body, err := json.Marshal(feedingMessage{Fed: *fed, Timestamp: time.Now(), Source: "feedpub"})
	if err != nil {
		logger.Fatal("Failed to marshal message", zap.Error(err))
	}

	mode := cfg.PushTransport
	if *transport != "" {
		mode = *transport
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout+5*time.Second)
	defer cancel()

	switch mode {
	case config.PushTransportAMQP:
		url := cfg.RabbitMQURL
		if *rabbitURL != "" {
			url = *rabbitURL
		}
		err = publishAMQP(ctx, url, topic, body)
	default:
		addr := fmt.Sprintf("%s:%d", cfg.MQTTBroker, cfg.MQTTPort)
		if *broker != "" {
			addr = *broker
		}
		err = publishMQTT(cfg, addr, topic, body)
	}
	if err != nil {
		logger.Fatal("Failed to publish feeding trigger", zap.Error(err))
	}

	logger.Info("✅ Feeding trigger published",
		zap.String("topic", topic),
		zap.Bool("fed", *fed),
		zap.String("transport", mode))
}

func publishMQTT(cfg *config.Config, addr, topic string, body []byte) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", addr))
	opts.SetClientID(fmt.Sprintf("feedpub-%s", uuid.NewString()[:8]))
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetConnectTimeout(cfg.ConnectTimeout)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect %s: %w", addr, token.Error())
	}
	defer client.Disconnect(250)

	token := client.Publish(topic, 1, false, body)
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return token.Error()
}

func publishAMQP(ctx context.Context, url, topic string, body []byte) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	channel, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer channel.Close()

	return channel.PublishWithContext(ctx,
		"amq.topic",                    // exchange bridged to MQTT
		services.AMQPRoutingKey(topic), // routing key
		false,                          // mandatory
		false,                          // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		},
	)
}
