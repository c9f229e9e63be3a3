// Package telemetry keeps the latest validated status of one field device.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeonardoBeccarini/agrow/internal/model"
	"github.com/LeonardoBeccarini/agrow/internal/model/entities"
	"github.com/LeonardoBeccarini/agrow/internal/model/messages"
	"github.com/LeonardoBeccarini/agrow/pkg/broker"
)

var (
	// ErrMalformed marks a payload that is not valid telemetry JSON.
	ErrMalformed = errors.New("telemetry: malformed payload")
	// ErrIncomplete marks a payload missing status, position or waypoints.
	ErrIncomplete = errors.New("telemetry: incomplete payload")
)

var droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agrow",
	Subsystem: "telemetry",
	Name:      "dropped_messages_total",
	Help:      "Telemetry payloads dropped by validation.",
}, []string{"reason"})

// Broker is the part of broker.Manager the synchronizer uses.
type Broker interface {
	Subscribe(channels ...string) error
	Unsubscribe(channels ...string)
	Handle(filter string, h broker.Handler) *broker.Subscription
}

// Synchronizer folds telemetry from ground/{id}/telemetry into a single
// snapshot. A payload either replaces the snapshot whole or is dropped.
type Synchronizer struct {
	broker Broker

	mu       sync.RWMutex
	deviceID string
	channel  string
	sub      *broker.Subscription
	current  model.TelemetrySnapshot

	watchersMu sync.RWMutex
	watchers   map[int]func(model.TelemetrySnapshot)
	nextID     int

	now func() time.Time
}

func NewSynchronizer(b Broker) *Synchronizer {
	return &Synchronizer{
		broker:   b,
		current:  messages.EmptySnapshot(),
		watchers: make(map[int]func(model.TelemetrySnapshot)),
		now:      time.Now,
	}
}

// SubscribeTo switches the synchronizer to deviceID. The previous device's
// channel is released and the snapshot starts over from empty.
func (s *Synchronizer) SubscribeTo(deviceID string) error {
	channel := model.TelemetryTopic(deviceID)

	s.mu.Lock()
	prevSub, prevChannel := s.sub, s.channel
	s.deviceID = deviceID
	s.channel = channel
	s.current = messages.EmptySnapshot()
	s.sub = s.broker.Handle(channel, s.handle)
	s.mu.Unlock()

	err := s.broker.Subscribe(channel)
	if prevSub != nil {
		prevSub.Cancel()
		s.broker.Unsubscribe(prevChannel)
	}
	if err != nil {
		return fmt.Errorf("telemetry: subscribe %s: %w", channel, err)
	}
	log.Printf("telemetry: following %s", channel)
	return nil
}

// Close releases the current subscription.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	sub, channel := s.sub, s.channel
	s.sub, s.channel = nil, ""
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
		s.broker.Unsubscribe(channel)
	}
}

// Current returns the latest accepted snapshot.
func (s *Synchronizer) Current() model.TelemetrySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.current
	snap.Waypoints = append([]model.GeofencePoint(nil), s.current.Waypoints...)
	return snap
}

// DeviceID returns the device currently followed.
func (s *Synchronizer) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// OnUpdate registers fn for every accepted snapshot. The returned func removes it.
func (s *Synchronizer) OnUpdate(fn func(model.TelemetrySnapshot)) (cancel func()) {
	s.watchersMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.watchersMu.Unlock()
	return func() {
		s.watchersMu.Lock()
		delete(s.watchers, id)
		s.watchersMu.Unlock()
	}
}

func (s *Synchronizer) handle(topic string, payload []byte) {
	s.mu.RLock()
	channel := s.channel
	s.mu.RUnlock()
	if topic != channel {
		return
	}

	snap, err := Parse(payload)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrIncomplete) {
			reason = "incomplete"
		}
		droppedTotal.WithLabelValues(reason).Inc()
		log.Printf("telemetry: drop message on %s: %v", topic, err)
		return
	}
	snap.ReceivedAt = s.now()

	s.mu.Lock()
	if s.channel != channel {
		s.mu.Unlock()
		return
	}
	s.current = snap
	s.mu.Unlock()

	s.watchersMu.RLock()
	fns := make([]func(model.TelemetrySnapshot), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchersMu.RUnlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// Parse validates one telemetry payload. status, position and waypoints must
// all be present and non-null, and status must not be empty; the device's own
// "latlng" key is accepted for position.
func Parse(payload []byte) (model.TelemetrySnapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return model.TelemetrySnapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	statusRaw, hasStatus := raw["status"]
	posRaw, hasPos := raw["position"]
	if !present(posRaw) {
		posRaw, hasPos = raw["latlng"]
	}
	wpRaw, hasWaypoints := raw["waypoints"]
	if !hasStatus || !hasPos || !hasWaypoints ||
		!present(statusRaw) || !present(posRaw) || !present(wpRaw) {
		return model.TelemetrySnapshot{}, ErrIncomplete
	}

	var (
		status    string
		position  model.GeofencePoint
		waypoints []model.GeofencePoint
	)
	if err := json.Unmarshal(statusRaw, &status); err != nil {
		return model.TelemetrySnapshot{}, fmt.Errorf("%w: status: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(status) == "" {
		return model.TelemetrySnapshot{}, ErrIncomplete
	}
	if err := json.Unmarshal(posRaw, &position); err != nil {
		return model.TelemetrySnapshot{}, fmt.Errorf("%w: position: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(wpRaw, &waypoints); err != nil {
		return model.TelemetrySnapshot{}, fmt.Errorf("%w: waypoints: %v", ErrMalformed, err)
	}
	if waypoints == nil {
		waypoints = []model.GeofencePoint{}
	}

	return model.TelemetrySnapshot{
		Status:    entities.ParseDeviceStatus(status),
		Position:  position,
		Waypoints: waypoints,
	}, nil
}

func present(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) > 0 && !bytes.Equal(t, []byte("null"))
}
