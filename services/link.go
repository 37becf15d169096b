package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"feedwatch/models"
)

type linkEvent string

const (
	linkAttempt   linkEvent = "attempt"
	linkSucceeded linkEvent = "succeeded"
	linkFailed    linkEvent = "failed"
	linkLost      linkEvent = "lost"
)

// linkTransitions is the whole connection lifecycle; anything not listed is
// an invalid transition.
var linkTransitions = map[models.LinkState]map[linkEvent]models.LinkState{
	models.LinkDisconnected: {
		linkAttempt: models.LinkConnecting,
	},
	models.LinkConnecting: {
		linkSucceeded: models.LinkConnected,
		linkFailed:    models.LinkDisconnected,
	},
	models.LinkConnected: {
		linkLost: models.LinkDisconnected,
	},
}

// linkMachine tracks one network layer and its reconnect policy
type linkMachine struct {
	layer  string
	state  models.LinkState
	policy *ReconnectPolicy
}

func newLinkMachine(layer string, policy *ReconnectPolicy) *linkMachine {
	return &linkMachine{
		layer:  layer,
		state:  models.LinkDisconnected,
		policy: policy,
	}
}

func (m *linkMachine) fire(ev linkEvent) error {
	next, ok := linkTransitions[m.state][ev]
	if !ok {
		return fmt.Errorf("%s link: invalid transition %s from %s", m.layer, ev, m.state)
	}
	m.state = next
	return nil
}

func (m *linkMachine) connected() bool {
	return m.state == models.LinkConnected
}

// Link is the device's network attachment
type Link interface {
	Up(ctx context.Context) error
	IsUp() bool
	// MarkDown forces the next cycle to bring the link up again
	MarkDown()
}

// ProbeLink treats the network as up when a TCP connection to addr succeeds.
// An empty addr disables probing.
type ProbeLink struct {
	addr   string
	dialer net.Dialer
	up     atomic.Bool
}

func NewProbeLink(addr string) *ProbeLink {
	return &ProbeLink{addr: addr}
}

func (l *ProbeLink) Up(ctx context.Context) error {
	if l.addr == "" {
		l.up.Store(true)
		return nil
	}
	conn, err := l.dialer.DialContext(ctx, "tcp", l.addr)
	if err != nil {
		l.up.Store(false)
		return fmt.Errorf("probe %s: %w", l.addr, err)
	}
	_ = conn.Close()
	l.up.Store(true)
	return nil
}

func (l *ProbeLink) IsUp() bool {
	return l.up.Load()
}

func (l *ProbeLink) MarkDown() {
	l.up.Store(false)
}

// isTransportError separates network-level failures from bad responses
func isTransportError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
