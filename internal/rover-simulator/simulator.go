package rover_simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/agrow/internal/model"
	"github.com/LeonardoBeccarini/agrow/pkg/broker"
	"github.com/LeonardoBeccarini/agrow/pkg/dedup"
)

// status is the telemetry payload the rover publishes. The rover reports its
// position as "latlng".
type status struct {
	Status    model.DeviceStatus    `json:"status"`
	LatLng    model.GeofencePoint   `json:"latlng"`
	Waypoints []model.GeofencePoint `json:"waypoints"`
}

// RoverSimulator stands in for a field rover: it waits for a plan, sweeps the
// zone and reports a soil scan at every waypoint.
type RoverSimulator struct {
	mu        sync.Mutex
	id        string
	state     status
	gen       *SoilGenerator
	grid      float64
	dwell     time.Duration
	plans     broker.IConsumer
	telemetry broker.IPublisher
	scans     broker.IPublisher
	seen      *dedup.Window
	cancel    context.CancelFunc
	surveys   sync.WaitGroup
}

// Options tune the sweep.
type Options struct {
	Home  model.GeofencePoint
	Grid  float64       // degrees between scan points
	Dwell time.Duration // time spent at each scan point
}

func NewRoverSimulator(id string, plans broker.IConsumer, telemetry, scans broker.IPublisher,
	gen *SoilGenerator, opts Options) *RoverSimulator {
	if opts.Grid <= 0 {
		opts.Grid = 0.0002
	}
	return &RoverSimulator{
		id:        id,
		state:     status{Status: model.StatusIdle, LatLng: opts.Home, Waypoints: []model.GeofencePoint{}},
		gen:       gen,
		grid:      opts.Grid,
		dwell:     opts.Dwell,
		plans:     plans,
		telemetry: telemetry,
		scans:     scans,
		seen:      dedup.New(2*time.Minute, 1000),
	}
}

// Start listens for plans and publishes telemetry every interval until ctx ends.
func (s *RoverSimulator) Start(ctx context.Context, interval time.Duration) {
	s.plans.SetHandler(func(_ string, payload []byte) error {
		return s.handlePlan(ctx, payload)
	})
	go s.plans.ConsumeMessage(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stopSurvey()
			s.surveys.Wait()
			return
		case <-ticker.C:
			if err := s.publishStatus(ctx); err != nil && !errors.Is(err, broker.ErrNotConnected) {
				log.Printf("rover %s: telemetry: %v", s.id, err)
			}
		}
	}
}

// Status returns the current telemetry status.
func (s *RoverSimulator) Status() model.DeviceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Status
}

func (s *RoverSimulator) publishStatus(ctx context.Context) error {
	s.mu.Lock()
	st := s.state
	st.Waypoints = append([]model.GeofencePoint{}, s.state.Waypoints...)
	s.mu.Unlock()
	return s.telemetry.PublishMessage(ctx, st)
}

func (s *RoverSimulator) setStatus(ds model.DeviceStatus) {
	s.mu.Lock()
	s.state.Status = ds
	s.mu.Unlock()
}

func (s *RoverSimulator) handlePlan(ctx context.Context, payload []byte) error {
	if !s.seen.First(dedup.Key("plan", payload)) {
		return nil
	}
	var zone model.ZoneDefinition
	if err := json.Unmarshal(payload, &zone); err != nil || len(zone) < 3 {
		s.setStatus(model.StatusError)
		if err == nil {
			err = fmt.Errorf("zone has %d points", len(zone))
		}
		return fmt.Errorf("invalid plan: %w", err)
	}
	waypoints := ScanPattern(zone, s.grid)
	if len(waypoints) == 0 {
		s.setStatus(model.StatusError)
		return errors.New("plan yields no scan points")
	}

	s.mu.Lock()
	// Start waits on surveys once ctx is done, so no survey may be added after that.
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.cancel != nil {
		s.cancel()
	}
	sctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state.Status = model.StatusMoving
	s.state.Waypoints = waypoints
	s.surveys.Add(1)
	s.mu.Unlock()

	log.Printf("rover %s: plan accepted, %d scan points", s.id, len(waypoints))
	go s.survey(sctx, waypoints)
	return nil
}

func (s *RoverSimulator) stopSurvey() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

func (s *RoverSimulator) survey(ctx context.Context, waypoints []model.GeofencePoint) {
	defer s.surveys.Done()
	for _, wp := range waypoints {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.dwell):
		}
		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.state.LatLng = wp
		s.mu.Unlock()

		scan := s.gen.Next(wp)
		if err := s.scans.PublishMessage(ctx, scan); err != nil {
			log.Printf("rover %s: scan %v: %v", s.id, scan.PlotID, err)
		}
	}
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.state.Status = model.StatusCompleted
	s.mu.Unlock()
	log.Printf("rover %s: survey completed", s.id)
	if err := s.publishStatus(ctx); err != nil {
		log.Printf("rover %s: telemetry: %v", s.id, err)
	}
}
