package geofence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/LeonardoBeccarini/agrow/internal/model"
	"github.com/LeonardoBeccarini/agrow/internal/store"
	"github.com/LeonardoBeccarini/agrow/pkg/broker"
)

// ErrIncomplete is returned when a zone is dispatched before it has all its points.
var ErrIncomplete = errors.New("geofence: zone needs exactly 5 points")

// Publisher is the slice of broker.Manager the dispatcher needs.
type Publisher interface {
	Publish(topic string, payload []byte, opts broker.PublishOptions) (*broker.Delivery, error)
}

// Dispatcher persists a finished zone and sends it to the device as a plan.
type Dispatcher struct {
	store store.Store
	pub   Publisher
}

func NewDispatcher(s store.Store, pub Publisher) *Dispatcher {
	return &Dispatcher{store: s, pub: pub}
}

// Save stores the zone under store.KeyPoints without publishing it.
func (d *Dispatcher) Save(ctx context.Context, zone model.ZoneDefinition) error {
	if !zone.Complete() {
		return ErrIncomplete
	}
	b, err := json.Marshal(zone)
	if err != nil {
		return err
	}
	if err := d.store.Put(ctx, store.KeyPoints, string(b)); err != nil {
		return fmt.Errorf("save zone: %w", err)
	}
	return nil
}

// Load returns the last saved zone.
func (d *Dispatcher) Load(ctx context.Context) (model.ZoneDefinition, error) {
	raw, err := d.store.Get(ctx, store.KeyPoints)
	if err != nil {
		return nil, err
	}
	var zone model.ZoneDefinition
	if err := json.Unmarshal([]byte(raw), &zone); err != nil {
		return nil, fmt.Errorf("decode saved zone: %w", err)
	}
	return zone, nil
}

// Dispatch saves the zone and publishes it on ground/{id}/plan, waiting for
// the broker acknowledgment. A publish failure is reported once, not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID string, zone model.ZoneDefinition) error {
	if err := d.Save(ctx, zone); err != nil {
		return err
	}
	return d.Start(ctx, deviceID)
}

// Start publishes the saved zone as the device's plan.
func (d *Dispatcher) Start(ctx context.Context, deviceID string) error {
	zone, err := d.Load(ctx)
	if err != nil {
		return err
	}
	if !zone.Complete() {
		return ErrIncomplete
	}
	payload, err := json.Marshal(zone)
	if err != nil {
		return err
	}
	topic := model.PlanTopic(deviceID)
	del, err := d.pub.Publish(topic, payload, broker.PublishOptions{QoS: 1})
	if err != nil {
		return err
	}
	if err := del.Wait(ctx); err != nil {
		return err
	}
	log.Printf("geofence: plan with %d points sent to %s", len(zone), topic)
	return nil
}
