package models

import (
	"time"
)

// LinkState is the connection state of one network layer
type LinkState string

const (
	LinkDisconnected LinkState = "disconnected"
	LinkConnecting   LinkState = "connecting"
	LinkConnected    LinkState = "connected"
)

// ConnectionHealth is owned by the network manager and rebuilt every wake
type ConnectionHealth struct {
	WiFi                LinkState `json:"wifi"`
	PubSub              LinkState `json:"pubsub"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastAttemptAt       time.Time `json:"last_attempt_at"`
	LastSuccessAt       time.Time `json:"last_success_at"`
	ClockNeedsResync    bool      `json:"clock_needs_resync"`
}

// NewConnectionHealth returns the state at the start of a wake cycle
func NewConnectionHealth() ConnectionHealth {
	return ConnectionHealth{
		WiFi:   LinkDisconnected,
		PubSub: LinkDisconnected,
	}
}
