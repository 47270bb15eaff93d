// Package netstate tracks whether the remote backend is reachable and
// publishes offline/online transitions.
package netstate

import (
	"context"
	"log"
	"sync"
	"time"
)

// Transition is a change in reachability.
type Transition struct {
	Online bool
	At     time.Time
}

// Monitor holds the current reachability flag. Subscribers receive a
// Transition only when the flag changes.
type Monitor struct {
	mu     sync.RWMutex
	online bool
	subs   map[int]chan Transition
	nextID int
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online, subs: make(map[int]chan Transition)}
}

// Online reports the last observed reachability.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Set records the observed reachability and notifies subscribers on change.
// Slow subscribers miss transitions rather than block the caller.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	t := Transition{Online: online, At: time.Now()}
	for _, ch := range m.subs {
		select {
		case ch <- t:
		default:
		}
	}
}

// Subscribe returns a channel of transitions and a cancel function that
// closes it.
func (m *Monitor) Subscribe() (<-chan Transition, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan Transition, 4)
	m.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			close(ch)
			m.mu.Unlock()
		})
	}
}

// Pinger is anything that can check backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	defaultProbeInterval = 5 * time.Second
	defaultProbeTimeout  = 3 * time.Second
)

// Prober periodically pings the backend and feeds a Monitor.
type Prober struct {
	pinger   Pinger
	monitor  *Monitor
	logger   *log.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProbeInterval sets how often the backend is pinged.
func WithProbeInterval(d time.Duration) ProberOption {
	return func(p *Prober) { p.interval = d }
}

// WithProbeTimeout bounds each ping.
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) { p.timeout = d }
}

// NewProber creates a prober. logger may be nil.
func NewProber(pinger Pinger, monitor *Monitor, logger *log.Logger, opts ...ProberOption) *Prober {
	p := &Prober{
		pinger:   pinger,
		monitor:  monitor,
		logger:   logger,
		interval: defaultProbeInterval,
		timeout:  defaultProbeTimeout,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start probes immediately and then on every interval. Returns when ctx is
// cancelled or Stop is called.
func (p *Prober) Start(ctx context.Context) {
	defer close(p.doneCh)
	p.ProbeOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// Stop signals the prober to stop and waits for Start to return.
func (p *Prober) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

// ProbeOnce pings the backend once and records the result.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err := p.pinger.Ping(pctx)
	online := err == nil
	if was := p.monitor.Online(); was != online && p.logger != nil {
		if online {
			p.logger.Println("Prober: backend reachable")
		} else {
			p.logger.Printf("Prober: backend unreachable: %v", err)
		}
	}
	p.monitor.Set(online)
	return online
}
