// Package recommend runs the crop recommendation round trip: read a soil
// baseline, publish it to the recommender and wait for its answer.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeonardoBeccarini/agrow/internal/model"
	"github.com/LeonardoBeccarini/agrow/internal/model/entities"
	"github.com/LeonardoBeccarini/agrow/internal/model/messages"
	"github.com/LeonardoBeccarini/agrow/internal/store"
	"github.com/LeonardoBeccarini/agrow/pkg/broker"
)

// ErrInFlight is returned when a run for the same device has not finished.
// The response channel carries no request id, so runs cannot overlap.
var ErrInFlight = errors.New("recommend: a request for this device is already in flight")

var runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agrow",
	Subsystem: "recommend",
	Name:      "runs_total",
	Help:      "Recommendation runs by outcome.",
}, []string{"outcome"})

// Broker is the part of broker.Manager a run needs.
type Broker interface {
	WaitConnected(ctx context.Context) error
	Subscribe(channels ...string) error
	Unsubscribe(channels ...string)
	Handle(filter string, h broker.Handler) *broker.Subscription
	Publish(topic string, payload []byte, opts broker.PublishOptions) (*broker.Delivery, error)
}

type Coordinator struct {
	broker Broker
	source BaselineSource
	store  store.Store

	mu       sync.Mutex
	inflight map[string]*model.RequestCorrelation
}

func NewCoordinator(b Broker, src BaselineSource, s store.Store) *Coordinator {
	return &Coordinator{
		broker:   b,
		source:   src,
		store:    s,
		inflight: make(map[string]*model.RequestCorrelation),
	}
}

// Stage reports where the run for deviceID is, and false when none is active.
func (c *Coordinator) Stage(deviceID string) (model.Stage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	corr, ok := c.inflight[deviceID]
	if !ok {
		return entities.StageDone, false
	}
	return corr.Stage, true
}

func (c *Coordinator) setStage(corr *model.RequestCorrelation, s model.Stage) {
	c.mu.Lock()
	corr.Stage = s
	c.mu.Unlock()
}

// Run performs one round trip for deviceID. It only returns once a response
// arrives, a step fails, or ctx is done; there is no built-in timeout.
func (c *Coordinator) Run(ctx context.Context, deviceID string) (model.CropRecommendationSet, error) {
	corr := &model.RequestCorrelation{DeviceID: deviceID, Stage: entities.StageAwaitingBaseline}
	c.mu.Lock()
	if _, busy := c.inflight[deviceID]; busy {
		c.mu.Unlock()
		return model.CropRecommendationSet{}, ErrInFlight
	}
	c.inflight[deviceID] = corr
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, deviceID)
		c.mu.Unlock()
	}()

	set, err := c.run(ctx, corr)
	switch {
	case err == nil:
		runsTotal.WithLabelValues("ok").Inc()
	case errors.As(err, new(*ExternalReadError)):
		runsTotal.WithLabelValues("baseline_error").Inc()
	default:
		runsTotal.WithLabelValues("error").Inc()
	}
	return set, err
}

func (c *Coordinator) run(ctx context.Context, corr *model.RequestCorrelation) (model.CropRecommendationSet, error) {
	deviceID := corr.DeviceID
	baseline, err := c.source.Baseline(ctx, deviceID)
	if err != nil {
		log.Printf("recommend: baseline for %s: %v", deviceID, err)
		return model.CropRecommendationSet{}, err
	}

	if err := c.broker.WaitConnected(ctx); err != nil {
		return model.CropRecommendationSet{}, err
	}

	type result struct {
		set model.CropRecommendationSet
		raw []byte
	}
	done := make(chan result, 1)
	var once sync.Once

	respTopic := model.CropResponseTopic(deviceID)
	c.setStage(corr, entities.StageAwaitingResponse)
	sub := c.broker.Handle(respTopic, func(_ string, payload []byte) {
		set, err := messages.ParseCropResponse(payload)
		if err != nil {
			log.Printf("recommend: drop response on %s: %v", respTopic, err)
			return
		}
		raw := append([]byte(nil), payload...)
		once.Do(func() { done <- result{set: set, raw: raw} })
	})
	defer func() {
		sub.Cancel()
		c.broker.Unsubscribe(respTopic)
	}()
	if err := c.broker.Subscribe(respTopic); err != nil {
		return model.CropRecommendationSet{}, err
	}

	reqTopic := model.CropRequestTopic(deviceID)
	del, err := c.broker.Publish(reqTopic, baseline, broker.PublishOptions{QoS: 1})
	if err != nil {
		return model.CropRecommendationSet{}, err
	}
	if err := del.Wait(ctx); err != nil {
		return model.CropRecommendationSet{}, err
	}
	log.Printf("recommend: request sent on %s, waiting on %s", reqTopic, respTopic)

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return model.CropRecommendationSet{}, ctx.Err()
	}

	if err := c.store.Put(ctx, store.KeyCropData, string(res.raw)); err != nil {
		return model.CropRecommendationSet{}, fmt.Errorf("recommend: cache response: %w", err)
	}
	c.setStage(corr, entities.StageDone)
	log.Printf("recommend: %s -> %d crops", deviceID, len(res.set.Crops))
	return res.set, nil
}

// Cached returns the last recommendation stored by Run.
func Cached(ctx context.Context, s store.Store) (model.CropRecommendationSet, error) {
	raw, err := s.Get(ctx, store.KeyCropData)
	if err != nil {
		return model.CropRecommendationSet{}, err
	}
	return messages.ParseCropResponse([]byte(raw))
}

// GrowthPlan looks up the cached growth plan of one crop.
func GrowthPlan(ctx context.Context, s store.Store, crop string) (string, error) {
	set, err := Cached(ctx, s)
	if err != nil {
		return "", err
	}
	plan, ok := set.GrowthPlan(crop)
	if !ok {
		return "", fmt.Errorf("recommend: no growth plan for %q: %w", crop, store.ErrNotFound)
	}
	return plan, nil
}
