package netpolicy

import (
	"context"
	"net"
	"sync"
	"time"
)

// DefaultProbeInterval is how often a running ProbeMonitor re-checks
// connectivity.
const DefaultProbeInterval = 15 * time.Second

// ProbeMonitor is a Monitor that answers connectivity questions by dialing
// a probe address. It cannot tell transports apart, so a reachable probe is
// reported as TypeUnknown, which the sync predicate treats as non-metered.
type ProbeMonitor struct {
	addr     string
	interval time.Duration
	dialer   net.Dialer

	mu    sync.Mutex
	subs  map[int]func(State)
	nexts int
	last  *State
}

// NewProbeMonitor creates a monitor probing addr (host:port).
func NewProbeMonitor(addr string, interval time.Duration) *ProbeMonitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &ProbeMonitor{
		addr:     addr,
		interval: interval,
		dialer:   net.Dialer{Timeout: 5 * time.Second},
		subs:     make(map[int]func(State)),
	}
}

// State dials the probe address once and reports the result.
func (m *ProbeMonitor) State(ctx context.Context) (State, error) {
	conn, err := m.dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return Disconnected, nil
	}
	conn.Close()
	return State{Type: TypeUnknown, IsConnected: true, IsInternetReachable: true}, nil
}

// Subscribe registers fn for state changes observed by Run.
func (m *ProbeMonitor) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nexts
	m.nexts++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Run polls the probe address until ctx ends, notifying subscribers on
// every connectivity change.
func (m *ProbeMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		state, _ := m.State(ctx)
		m.notify(state)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// notify fans out state to subscribers when it differs from the last
// observation.
func (m *ProbeMonitor) notify(state State) {
	m.mu.Lock()
	if m.last != nil && *m.last == state {
		m.mu.Unlock()
		return
	}
	m.last = &state
	fns := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
