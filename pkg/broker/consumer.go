package broker

import (
	"context"
	"log"
)

// IConsumer consumes one subscription until its context ends.
type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler func(topic string, payload []byte) error)
}

// Consumer binds a handler to one channel (wildcards allowed) of the shared session.
type Consumer struct {
	mgr     *Manager
	handler func(topic string, payload []byte) error
	topic   string
}

// NewConsumer creates a Consumer; handler may be nil and injected later with SetHandler.
func NewConsumer(mgr *Manager, topic string, handler func(topic string, payload []byte) error) *Consumer {
	return &Consumer{mgr: mgr, topic: topic, handler: handler}
}

func (c *Consumer) SetHandler(handler func(topic string, payload []byte) error) {
	c.handler = handler
}

// ConsumeMessage subscribes the topic and feeds matching messages to the
// handler. It blocks until ctx is cancelled, then unsubscribes.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	sub := c.mgr.Handle(c.topic, func(topic string, payload []byte) {
		if c.handler == nil {
			log.Printf("broker: no handler set for %s", c.topic)
			return
		}
		if err := c.handler(topic, payload); err != nil {
			log.Printf("broker: error handling message on %s: %v", topic, err)
		}
	})
	defer sub.Cancel()

	if err := c.mgr.Subscribe(c.topic); err != nil {
		log.Printf("broker: subscribe %s: %v", c.topic, err)
	}

	<-ctx.Done()
	c.mgr.Unsubscribe(c.topic)
}
