package broker

import (
	"context"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PublishOptions are passed through to the MQTT publish.
type PublishOptions struct {
	QoS      byte
	Retained bool
}

// Delivery is the pending acknowledgment of one publish.
type Delivery struct {
	topic string
	token mqtt.Token
}

// Done is closed once the broker acknowledged (or rejected) the publish.
func (d *Delivery) Done() <-chan struct{} { return d.token.Done() }

// Wait blocks for the acknowledgment or until ctx is done.
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.token.Done():
		if err := d.token.Error(); err != nil {
			return &PublishError{Topic: d.topic, Err: err}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscription is a cancellable registration returned by OnMessage, Handle
// and OnStateChange.
type Subscription struct {
	id     uint64
	filter string
	fn     Handler
	cancel func()
}

// Cancel stops further deliveries. It is safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// Publish sends payload on topic. When the session is not Connected it fails
// immediately with ErrNotConnected and nothing reaches the client.
func (m *Manager) Publish(topic string, payload []byte, opts PublishOptions) (*Delivery, error) {
	m.mu.Lock()
	client := m.client
	connected := m.state == Connected && client != nil
	clientID := m.cfg.ClientID
	m.mu.Unlock()

	if !connected {
		publishFailuresTotal.WithLabelValues(clientID).Inc()
		err := &PublishError{Topic: topic, Err: ErrNotConnected}
		log.Printf("broker: %v", err)
		return nil, err
	}
	tok := client.Publish(topic, opts.QoS, opts.Retained, payload)
	return &Delivery{topic: topic, token: tok}, nil
}

// Subscribe adds channels to the session's channel set. Each call takes one
// reference per channel; a channel stays subscribed until every reference is
// released with Unsubscribe. New channels are requested right away when
// Connected and again on every reconnect. A refused request is returned (and
// kept as LastError) without touching the connection state.
func (m *Manager) Subscribe(channels ...string) error {
	filters := make(map[string]byte, len(channels))
	m.mu.Lock()
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		m.channels[ch]++
		if _, cfg := m.configured[ch]; !cfg && m.channels[ch] == 1 {
			filters[ch] = qosFor(ch)
		}
	}
	client := m.client
	connected := m.state == Connected && client != nil
	m.mu.Unlock()

	if !connected || len(filters) == 0 {
		return nil
	}
	return m.subscribe(client, m.session.Load(), filters)
}

// Unsubscribe releases one reference per channel. The broker subscription is
// dropped once nothing references the channel and Connect did not configure it.
func (m *Manager) Unsubscribe(channels ...string) {
	var drop []string
	m.mu.Lock()
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		n, ok := m.channels[ch]
		if !ok {
			continue
		}
		if n > 1 {
			m.channels[ch] = n - 1
			continue
		}
		delete(m.channels, ch)
		if _, cfg := m.configured[ch]; !cfg {
			drop = append(drop, ch)
		}
	}
	client := m.client
	connected := m.state == Connected && client != nil
	m.mu.Unlock()

	if connected && len(drop) > 0 {
		client.Unsubscribe(drop...)
	}
}

func (m *Manager) subscribe(client mqtt.Client, sess uint64, filters map[string]byte) error {
	names := make([]string, 0, len(filters))
	for f := range filters {
		names = append(names, f)
	}
	tok := client.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		m.dispatch(sess, msg.Topic(), msg.Payload())
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		serr := &SubscriptionError{Channels: names, Err: err}
		m.mu.Lock()
		if m.session.Load() == sess {
			m.lastErr = serr
		}
		m.mu.Unlock()
		log.Printf("broker: %v", serr)
		return serr
	}
	log.Printf("broker: subscribed to %s", strings.Join(names, ", "))
	return nil
}

// OnMessage registers h for every inbound message on any subscribed channel.
func (m *Manager) OnMessage(h Handler) *Subscription {
	return m.Handle("", h)
}

// Handle registers h for messages whose topic matches filter ("" matches all).
// It does not subscribe the filter; call Subscribe for that.
func (m *Manager) Handle(filter string, h Handler) *Subscription {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.nextID++
	s := &Subscription{id: m.nextID, filter: filter, fn: h}
	s.cancel = func() { m.removeHandler(s.id) }
	m.handlers = append(m.handlers, s)
	return s
}

func (m *Manager) removeHandler(id uint64) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	for i, s := range m.handlers {
		if s.id == id {
			m.handlers = append(m.handlers[:i:i], m.handlers[i+1:]...)
			return
		}
	}
}

func (m *Manager) dispatch(sess uint64, topic string, payload []byte) {
	if m.session.Load() != sess {
		return
	}
	m.handlersMu.RLock()
	hs := m.handlers
	m.handlersMu.RUnlock()

	messagesTotal.WithLabelValues(m.clientID()).Inc()
	for _, s := range hs {
		if s.filter == "" || Match(s.filter, topic) {
			s.fn(topic, payload)
		}
	}
}

func (m *Manager) clientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.ClientID
}

// qosFor picks QoS 1 for the channels where a lost message stalls a flow.
func qosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if strings.HasPrefix(t, "ai/crops/") ||
		strings.HasSuffix(t, "/plan") ||
		strings.HasSuffix(t, "/data") {
		return 1
	}
	return 0
}
