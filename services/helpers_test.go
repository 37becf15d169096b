package services

import (
	"context"
	"sync"
	"time"

	"feedwatch/models"
)

// fakeClock never blocks: After advances time by d and fires at once
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeLink struct {
	up    bool
	err   error
	calls int
}

func (l *fakeLink) Up(context.Context) error {
	l.calls++
	if l.err != nil {
		l.up = false
		return l.err
	}
	l.up = true
	return nil
}

func (l *fakeLink) IsUp() bool { return l.up }

func (l *fakeLink) MarkDown() { l.up = false }

type fakePush struct {
	ch        chan models.PushTrigger
	connected bool
	err       error
	calls     int
	closed    bool
}

func newFakePush() *fakePush {
	return &fakePush{ch: make(chan models.PushTrigger, triggerBuffer)}
}

func (p *fakePush) Connect(context.Context) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.connected = true
	return nil
}

func (p *fakePush) IsConnected() bool                   { return p.connected }
func (p *fakePush) Triggers() <-chan models.PushTrigger { return p.ch }
func (p *fakePush) Close() error {
	p.closed = true
	p.connected = false
	return nil
}

func (p *fakePush) send(topic string) {
	p.ch <- models.PushTrigger{Topic: topic}
}

// fakeStatus returns scripted results in order, repeating the last one
type fakeStatus struct {
	results []statusResult
	calls   int
	during  func()
}

type statusResult struct {
	payload models.StatusPayload
	err     error
}

func (s *fakeStatus) Fetch(context.Context) (models.StatusPayload, error) {
	s.calls++
	if s.during != nil {
		s.during()
	}
	i := s.calls - 1
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	r := s.results[i]
	return r.payload, r.err
}

type fakeTimeSync struct {
	err   error
	calls int
}

func (t *fakeTimeSync) Sync(context.Context) error {
	t.calls++
	return t.err
}

type renderCall struct {
	state models.FeedingState
	stale bool
}

type fakeDisplay struct {
	renders []renderCall
	err     error
}

func (d *fakeDisplay) Render(_ context.Context, state models.FeedingState, stale bool) error {
	if d.err != nil {
		return d.err
	}
	d.renders = append(d.renders, renderCall{state: state, stale: stale})
	return nil
}

type fakeIndicator struct {
	fed  map[models.WindowName]bool
	lit  bool
	offs int
}

func newFakeIndicator() *fakeIndicator {
	return &fakeIndicator{fed: map[models.WindowName]bool{}}
}

func (i *fakeIndicator) SetIndicator(_ context.Context, w models.WindowName, fed bool) error {
	i.fed[w] = fed
	i.lit = true
	return nil
}

func (i *fakeIndicator) Off(context.Context) error {
	i.offs++
	i.lit = false
	return nil
}

// fakeNetwork plays back outcomes, one per PollCycle
type fakeNetwork struct {
	clock       *fakeClock
	outcomes    []models.NetworkOutcome
	budgets     []time.Duration
	health      models.ConnectionHealth
	lastFetchAt time.Time
	closed      bool
}

func (n *fakeNetwork) PollCycle(_ context.Context, budget time.Duration) models.NetworkOutcome {
	n.budgets = append(n.budgets, budget)
	if len(n.outcomes) == 0 {
		n.clock.Advance(budget)
		return models.Timeout()
	}
	out := n.outcomes[0]
	n.outcomes = n.outcomes[1:]
	if out.Kind == models.OutcomeStatusFetched {
		n.lastFetchAt = n.clock.Now()
	}
	return out
}

func (n *fakeNetwork) Health() models.ConnectionHealth { return n.health }
func (n *fakeNetwork) LastFetchAt() time.Time          { return n.lastFetchAt }
func (n *fakeNetwork) Close() error {
	n.closed = true
	return nil
}

type fakeNotifier struct {
	degraded  int
	recovered int
}

func (n *fakeNotifier) NotifyLinkDegraded(models.ConnectionHealth, time.Time) error {
	n.degraded++
	return nil
}

func (n *fakeNotifier) NotifyLinkRecovered(time.Duration) error {
	n.recovered++
	return nil
}

func ts(t time.Time) *time.Time { return &t }
