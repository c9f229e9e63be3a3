package broker

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler receives one inbound message. Handlers run on the client's delivery
// goroutine in broker order, so they must not block for long.
type Handler func(topic string, payload []byte)

// ClientFactory builds the underlying MQTT client for one connect attempt.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces the clock driving reconnect attempts.
func WithClock(c Clock) Option { return func(m *Manager) { m.clock = c } }

// WithClientFactory replaces mqtt.NewClient.
func WithClientFactory(f ClientFactory) Option { return func(m *Manager) { m.newClient = f } }

// Manager owns the single logical broker session: it connects, subscribes the
// configured channels, publishes, and reconnects on its own after failures.
// Protocol level auto-reconnect is off; every retry is scheduled here after a
// fixed delay (or Config.Backoff) and there is no retry limit. Only Disconnect
// ends a session.
type Manager struct {
	mu       sync.Mutex
	state    State
	endpoint string
	cfg      Config
	client   mqtt.Client
	timer    Timer
	delay    backoff.BackOff

	// configured is replaced by every Connect; channels counts Subscribe
	// calls per channel and survives reconnects.
	configured map[string]byte
	channels   map[string]int

	ready    chan struct{} // closed while Connected
	lastErr  error
	watchers []*stateWatcher

	// session is bumped on every teardown so callbacks from an old client are ignored.
	session atomic.Uint64

	handlersMu sync.RWMutex
	handlers   []*Subscription
	nextID     uint64

	clock     Clock
	newClient ClientFactory
}

type stateWatcher struct {
	fn func(State)
}

// NewManager returns a Manager in the Disconnected state.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		state:     Disconnected,
		channels:  make(map[string]int),
		ready:     make(chan struct{}),
		clock:     realClock{},
		newClient: mqtt.NewClient,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Connect starts a new session against endpoint. Any existing session is
// force-closed first, dropping unacknowledged publishes. The attempt runs in
// the background; use WaitConnected or OnStateChange to observe it.
func (m *Manager) Connect(endpoint string, cfg Config) error {
	if endpoint == "" {
		return errors.New("broker: empty endpoint")
	}
	cfg = cfg.withDefaults()

	m.mu.Lock()
	old := m.teardownLocked()
	m.endpoint = endpoint
	m.cfg = cfg
	m.delay = cfg.Backoff
	if m.delay == nil {
		m.delay = backoff.NewConstantBackOff(cfg.ReconnectDelay)
	}
	m.delay.Reset()
	m.configured = make(map[string]byte, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		if ch = strings.TrimSpace(ch); ch != "" {
			m.configured[ch] = qosFor(ch)
		}
	}
	m.lastErr = nil
	m.setStateLocked(Connecting)
	sess := m.session.Load()
	m.mu.Unlock()

	closeClient(old)
	go m.dial(sess)
	return nil
}

// Disconnect cancels any pending retry and force-closes the session.
// The manager ends in Disconnected and stays there until the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	old := m.teardownLocked()
	sess := m.session.Load()
	m.setStateLocked(Closing)
	m.mu.Unlock()

	closeClient(old)

	m.mu.Lock()
	if m.session.Load() == sess {
		m.setStateLocked(Disconnected)
	}
	m.mu.Unlock()
	log.Printf("broker: session closed")
}

// teardownLocked invalidates the current session and hands back its client
// so the caller can close it outside the lock.
func (m *Manager) teardownLocked() mqtt.Client {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.session.Add(1)
	old := m.client
	m.client = nil
	return old
}

func closeClient(c mqtt.Client) {
	if c != nil && c.IsConnectionOpen() {
		c.Disconnect(0)
	}
}

func (m *Manager) dial(sess uint64) {
	m.mu.Lock()
	if m.session.Load() != sess || m.state != Connecting {
		m.mu.Unlock()
		return
	}
	client := m.newClient(m.clientOptions(sess))
	m.client = client
	endpoint := m.endpoint
	m.mu.Unlock()

	log.Printf("broker: connecting to %s", endpoint)
	tok := client.Connect()
	tok.Wait()
	err := tok.Error()

	m.mu.Lock()
	if m.session.Load() != sess {
		m.mu.Unlock()
		closeClient(client)
		return
	}
	if err != nil {
		m.lastErr = &ConnectionError{Endpoint: endpoint, Err: err}
		log.Printf("broker: %v", m.lastErr)
		m.scheduleReconnectLocked(sess)
		m.mu.Unlock()
		return
	}
	m.lastErr = nil
	m.delay.Reset()
	m.setStateLocked(Connected)
	filters := m.filtersLocked()
	m.mu.Unlock()

	log.Printf("broker: connected to %s", endpoint)
	if len(filters) > 0 {
		_ = m.subscribe(client, sess, filters)
	}
}

// filtersLocked is the union of the configured and subscribed channels.
func (m *Manager) filtersLocked() map[string]byte {
	filters := make(map[string]byte, len(m.configured)+len(m.channels))
	for ch, qos := range m.configured {
		filters[ch] = qos
	}
	for ch := range m.channels {
		filters[ch] = qosFor(ch)
	}
	return filters
}

func (m *Manager) clientOptions(sess uint64) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.endpoint)
	opts.SetClientID(m.cfg.ClientID)
	if m.cfg.User != "" {
		opts.SetUsername(m.cfg.User)
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetCleanSession(m.cfg.CleanSession)
	opts.SetConnectTimeout(m.cfg.ConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.connectionLost(sess, err)
	})
	return opts
}

func (m *Manager) connectionLost(sess uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Load() != sess || m.state != Connected {
		return
	}
	if err == nil {
		err = errors.New("connection closed")
	}
	m.lastErr = &ConnectionError{Endpoint: m.endpoint, Err: err}
	log.Printf("broker: %v", m.lastErr)
	m.scheduleReconnectLocked(sess)
}

// scheduleReconnectLocked arms exactly one retry after the next backoff delay.
func (m *Manager) scheduleReconnectLocked(sess uint64) {
	m.setStateLocked(Reconnecting)
	d := m.delay.NextBackOff()
	if d == backoff.Stop {
		d = m.cfg.ReconnectDelay
	}
	reconnectsTotal.WithLabelValues(m.cfg.ClientID).Inc()
	log.Printf("broker: reconnecting in %s", d)
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.clock.AfterFunc(d, func() { m.retry(sess) })
}

func (m *Manager) retry(sess uint64) {
	m.mu.Lock()
	if m.session.Load() != sess || m.state != Reconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	stale := m.client
	m.client = nil
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	closeClient(stale)
	m.dial(sess)
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	prev := m.state
	m.state = s
	if s == Connected {
		close(m.ready)
	} else if prev == Connected {
		m.ready = make(chan struct{})
	}
	sessionState.WithLabelValues(m.cfg.ClientID).Set(float64(s))
	for _, w := range m.watchers {
		w.fn(s)
	}
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent connection or subscription failure, or
// nil once a session has been (re)established.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// StatusText is the short status string shown to the operator.
func (m *Manager) StatusText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastErr != nil {
		return m.lastErr.Error()
	}
	return m.state.String()
}

// WaitConnected blocks until the session is Connected or ctx is done.
func (m *Manager) WaitConnected(ctx context.Context) error {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnStateChange registers fn for every state transition. fn runs with the
// manager locked and must not call back into it.
func (m *Manager) OnStateChange(fn func(State)) *Subscription {
	w := &stateWatcher{fn: fn}
	m.mu.Lock()
	m.watchers = append(m.watchers, w)
	m.mu.Unlock()
	return &Subscription{cancel: func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, x := range m.watchers {
			if x == w {
				m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
				return
			}
		}
	}}
}
