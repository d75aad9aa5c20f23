// Package connectivity observes network reachability for the sync core.
//
// The monitor polls a Probe and tracks three states: unknown (the probe has
// never reported), offline, and online. Downstream consumers treat unknown
// as offline for write safety. A "restored" signal is edge-triggered: it
// fires exactly when an observed offline state transitions to online, never
// on startup and never on repeated online confirmations.
//
// The monitor has no side effects beyond emission; it knows nothing about
// syncing.
package connectivity

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"
)

// State is the monitor's view of reachability.
type State int

const (
	// StateUnknown means the probe has never reported. Treated as offline.
	StateUnknown State = iota
	// StateOffline means the last probe failed.
	StateOffline
	// StateOnline means the last probe succeeded.
	StateOnline
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateOnline:
		return "online"
	default:
		return "unknown"
	}
}

// Probe checks whether the remote side is reachable right now.
type Probe interface {
	// Check returns nil when reachable. The returned interface hint names
	// the network interface type when known ("wifi", "cellular", ...) and
	// is best-effort; "" means unknown.
	Check(ctx context.Context) (ifaceHint string, err error)
}

// HTTPProbe checks reachability by issuing a GET against a health URL.
type HTTPProbe struct {
	// URL is the endpoint to hit, typically the backend's health check.
	URL string

	// Client is the HTTP client to use. Defaults to a 5-second-timeout
	// client.
	Client *http.Client
}

// Check implements Probe. Any 2xx-4xx response counts as reachable; the
// probe measures the network path, not application health.
func (p *HTTPProbe) Check(ctx context.Context) (string, error) {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return interfaceHint(), nil
}

// interfaceHint guesses the active interface type from the interface list.
// Best-effort only; returns "" when nothing conclusive is found.
func interfaceHint() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		name := iface.Name
		switch {
		case hasPrefix(name, "wl"):
			return "wifi"
		case hasPrefix(name, "en"), hasPrefix(name, "eth"):
			return "ethernet"
		case hasPrefix(name, "ww"), hasPrefix(name, "rmnet"):
			return "cellular"
		}
	}
	return ""
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Config holds monitor configuration.
type Config struct {
	// Interval is how often to run the probe (default: 10s).
	Interval time.Duration

	// Logger for monitor activity (default: stderr logger).
	Logger *log.Logger
}

// Monitor polls a Probe and emits edge-triggered restored events.
type Monitor struct {
	probe    Probe
	interval time.Duration
	logger   *log.Logger

	mu    sync.Mutex
	state State
	hint  string

	restored chan struct{}
	changes  chan State

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewMonitor creates a connectivity monitor around the given probe.
func NewMonitor(probe Probe, config *Config) *Monitor {
	if config == nil {
		config = &Config{}
	}
	if config.Interval == 0 {
		config.Interval = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		probe:    probe,
		interval: config.Interval,
		logger:   config.Logger,
		state:    StateUnknown,
		restored: make(chan struct{}, 1),
		changes:  make(chan State, 8),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins polling. Safe to call once; the first probe runs immediately
// so startup state settles quickly.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.pollLoop()
}

// Stop halts polling and waits for the poll goroutine to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Online reports whether the device is currently considered connected.
// Unknown counts as not connected.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateOnline
}

// State returns the current reachability state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InterfaceHint returns the last observed interface type hint ("" unknown).
func (m *Monitor) InterfaceHint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hint
}

// Restored returns the channel that fires when connectivity transitions
// from an observed offline state back to online. Buffered with capacity 1:
// coalesced, never blocking the poll loop.
func (m *Monitor) Restored() <-chan struct{} {
	return m.restored
}

// Changes returns a channel of state transitions, for display surfaces.
func (m *Monitor) Changes() <-chan State {
	return m.changes
}

// pollLoop runs the probe at the configured interval.
func (m *Monitor) pollLoop() {
	defer m.wg.Done()

	// Probe immediately on startup.
	m.runProbe()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runProbe()
		}
	}
}

// runProbe executes one probe and updates state, emitting transitions.
func (m *Monitor) runProbe() {
	ctx, cancel := context.WithTimeout(m.ctx, m.interval)
	hint, err := m.probe.Check(ctx)
	cancel()

	next := StateOnline
	if err != nil {
		next = StateOffline
	}

	m.mu.Lock()
	prev := m.state
	m.state = next
	if hint != "" {
		m.hint = hint
	}
	m.mu.Unlock()

	if prev == next {
		return
	}

	m.logger.Printf("Connectivity: %s -> %s", prev, next)

	select {
	case m.changes <- next:
	default:
	}

	// Restored fires only on an observed offline -> online edge. Coming
	// out of unknown is startup, not restoration.
	if prev == StateOffline && next == StateOnline {
		select {
		case m.restored <- struct{}{}:
		default:
		}
	}
}
