// Package brokertest provides an in-memory MQTT client and a manual clock for
// exercising broker.Manager without a running broker.
package brokertest

import (
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/agrow/pkg/broker"
)

// Token is an mqtt.Token that is already complete.
type Token struct {
	err  error
	done chan struct{}
}

func NewToken(err error) *Token {
	t := &Token{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *Token) Wait() bool                     { <-t.done; return true }
func (t *Token) WaitTimeout(time.Duration) bool { <-t.done; return true }
func (t *Token) Done() <-chan struct{}          { return t.done }
func (t *Token) Error() error                   { return t.err }

// Message is a minimal mqtt.Message.
type Message struct {
	topic   string
	payload []byte
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return 0 }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.topic }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.payload }
func (m *Message) Ack()              {}

// Published records one call to Client.Publish.
type Published struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// Client is a fake mqtt.Client. Connect succeeds unless ConnectErr is set.
type Client struct {
	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	connectErr   error
	subscribeErr error
	open         bool
	disconnects  int
	published    []Published
	routes       map[string]mqtt.MessageHandler
	unsubscribed []string
	onPublish    func(Published)
}

var _ mqtt.Client = (*Client)(nil)

func (c *Client) IsConnected() bool      { return c.IsConnectionOpen() }
func (c *Client) IsConnectionOpen() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.open }

func (c *Client) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return NewToken(c.connectErr)
	}
	c.open = true
	return NewToken(nil)
}

func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.disconnects++
}

func (c *Client) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	}
	p := Published{Topic: topic, QoS: qos, Payload: b}
	c.mu.Lock()
	c.published = append(c.published, p)
	hook := c.onPublish
	c.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return NewToken(nil)
}

func (c *Client) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	return c.SubscribeMultiple(map[string]byte{topic: qos}, cb)
}

func (c *Client) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return NewToken(c.subscribeErr)
	}
	if c.routes == nil {
		c.routes = make(map[string]mqtt.MessageHandler)
	}
	for f := range filters {
		c.routes[f] = cb
	}
	return NewToken(nil)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.routes, t)
		c.unsubscribed = append(c.unsubscribed, t)
	}
	return NewToken(nil)
}

func (c *Client) AddRoute(topic string, cb mqtt.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.routes == nil {
		c.routes = make(map[string]mqtt.MessageHandler)
	}
	c.routes[topic] = cb
}

func (c *Client) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.NewOptionsReader(c.opts)
}

// Deliver feeds an inbound message through the subscription whose filter matches topic.
// It reports false when nothing is subscribed to the topic.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	var cb mqtt.MessageHandler
	for f, h := range c.routes {
		if broker.Match(f, topic) {
			cb = h
			break
		}
	}
	c.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(c, &Message{topic: topic, payload: payload})
	return true
}

// Drop simulates the broker closing the connection.
func (c *Client) Drop(err error) {
	c.mu.Lock()
	c.open = false
	opts := c.opts
	c.mu.Unlock()
	if err == nil {
		err = errors.New("connection reset by peer")
	}
	if opts != nil && opts.OnConnectionLost != nil {
		opts.OnConnectionLost(c, err)
	}
}

// OnPublish installs a hook called after every Publish, e.g. to answer a request.
func (c *Client) OnPublish(fn func(Published)) {
	c.mu.Lock()
	c.onPublish = fn
	c.mu.Unlock()
}

func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

func (c *Client) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

func (c *Client) Subscribed(filter string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.routes[filter]
	return ok
}

func (c *Client) Options() *mqtt.ClientOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// Factory hands out fake clients and remembers all of them.
type Factory struct {
	mu           sync.Mutex
	clients      []*Client
	connectErr   error
	subscribeErr error
}

// FailConnects makes subsequent clients refuse to connect (nil restores success).
func (f *Factory) FailConnects(err error) {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
}

// FailSubscribes makes subsequent clients reject subscriptions.
func (f *Factory) FailSubscribes(err error) {
	f.mu.Lock()
	f.subscribeErr = err
	f.mu.Unlock()
}

// New satisfies broker.ClientFactory.
func (f *Factory) New(opts *mqtt.ClientOptions) mqtt.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &Client{opts: opts, connectErr: f.connectErr, subscribeErr: f.subscribeErr}
	f.clients = append(f.clients, c)
	return c
}

func (f *Factory) Clients() []*Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Client(nil), f.clients...)
}

// Last returns the most recently created client, or nil.
func (f *Factory) Last() *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

// Open counts clients whose connection is currently open.
func (f *Factory) Open() int {
	n := 0
	for _, c := range f.Clients() {
		if c.IsConnectionOpen() {
			n++
		}
	}
	return n
}

// Clock is a broker.Clock that only fires when told to.
type Clock struct {
	mu      sync.Mutex
	pending []*timer
	delays  []time.Duration
}

type timer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
	fired   bool
}

func (t *timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (c *Clock) AfterFunc(d time.Duration, f func()) broker.Timer {
	t := &timer{f: f}
	c.mu.Lock()
	c.pending = append(c.pending, t)
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	return t
}

// Delays lists every delay requested so far.
func (c *Clock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// Armed counts timers that are neither stopped nor fired.
func (c *Clock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		t.mu.Lock()
		if !t.stopped && !t.fired {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

// Fire runs every armed timer and reports how many ran.
func (c *Clock) Fire() int {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	n := 0
	for _, t := range pending {
		t.mu.Lock()
		run := !t.stopped && !t.fired
		t.fired = true
		t.mu.Unlock()
		if run {
			t.f()
			n++
		}
	}
	return n
}

// NewManager returns a Manager wired to a fresh Factory and Clock.
func NewManager() (*broker.Manager, *Factory, *Clock) {
	f := &Factory{}
	c := &Clock{}
	return broker.NewManager(broker.WithClientFactory(f.New), broker.WithClock(c)), f, c
}
