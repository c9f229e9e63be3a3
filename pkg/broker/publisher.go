package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// IPublisher publishes messages on one fixed topic.
type IPublisher interface {
	PublishMessage(ctx context.Context, message interface{}) error
}

// Publisher holds the manager and the topic it publishes to.
type Publisher struct {
	mgr   *Manager
	topic string
	opts  PublishOptions
}

// NewPublisher creates a Publisher bound to topic on the shared session.
func NewPublisher(mgr *Manager, topic string) *Publisher {
	return &Publisher{mgr: mgr, topic: topic, opts: PublishOptions{QoS: qosFor(topic)}}
}

// PublishMessage sends message and waits for the broker acknowledgment.
// Strings and byte slices are sent as-is, anything else is JSON encoded.
func (p *Publisher) PublishMessage(ctx context.Context, message interface{}) error {
	var payload []byte
	switch v := message.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	case json.RawMessage:
		payload = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("invalid message format: %w", err)
		}
		payload = b
	}

	d, err := p.mgr.Publish(p.topic, payload, p.opts)
	if err != nil {
		return err
	}
	if err := d.Wait(ctx); err != nil {
		return err
	}
	log.Printf("broker: published %d bytes to %s", len(payload), p.topic)
	return nil
}
