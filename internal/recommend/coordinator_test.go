package recommend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/agrow/internal/model/entities"
	"github.com/LeonardoBeccarini/agrow/internal/store"
	"github.com/LeonardoBeccarini/agrow/pkg/broker"
	"github.com/LeonardoBeccarini/agrow/pkg/broker/brokertest"
)

type fixture struct {
	mgr     *broker.Manager
	factory *brokertest.Factory
	mr      *miniredis.Miniredis
	store   *store.Redis
	coord   *Coordinator
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	st := store.NewRedis(store.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { _ = st.Close() })

	mgr, f, _ := brokertest.NewManager()
	t.Cleanup(mgr.Disconnect)

	src := NewHTTPBaseline(srv.URL, time.Second, BreakerConfig{Failures: 2, OpenFor: time.Minute})
	return &fixture{mgr: mgr, factory: f, mr: mr, store: st, coord: NewCoordinator(mgr, src, st)}
}

func (f *fixture) connect(t *testing.T, channels ...string) *brokertest.Client {
	t.Helper()
	cfg := broker.DefaultConfig()
	cfg.ClientID = "recommend-test"
	cfg.Channels = channels
	require.NoError(t, f.mgr.Connect("tcp://localhost:1883", cfg))
	require.Eventually(t, func() bool { return f.mgr.State() == broker.Connected }, time.Second, 5*time.Millisecond)
	return f.factory.Last()
}

func baselineHandler(t *testing.T, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/data/255", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestRun_RoundTrip(t *testing.T) {
	f := newFixture(t, baselineHandler(t, "{\n  \"temperature\": 20\n}\n"))
	c := f.connect(t)

	const response = `{"crops":["rice","maize"],"avg_values":{"temperature":21.5}}`
	c.OnPublish(func(p brokertest.Published) {
		if p.Topic == "ai/crops/255/request" {
			go c.Deliver("ai/crops/255/response", []byte(response))
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	set, err := f.coord.Run(ctx, "255")
	require.NoError(t, err)

	assert.Equal(t, []string{"rice", "maize"}, set.Crops)
	assert.Equal(t, entities.SoilAverages{Temperature: 21.5}, set.Averages)

	pubs := c.Published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "ai/crops/255/request", pubs[0].Topic)
	assert.Equal(t, `{"temperature":20}`, string(pubs[0].Payload))

	cached, err := f.mr.Get(store.KeyCropData)
	require.NoError(t, err)
	assert.Equal(t, response, cached)

	_, active := f.coord.Stage("255")
	assert.False(t, active)
	assert.False(t, c.Subscribed("ai/crops/255/response"))
}

func TestRun_DropsUnparsableResponse(t *testing.T) {
	f := newFixture(t, baselineHandler(t, `{"temperature":20}`))
	c := f.connect(t)
	c.OnPublish(func(p brokertest.Published) {
		go func() {
			c.Deliver("ai/crops/255/response", []byte(`not json`))
			c.Deliver("ai/crops/255/response", []byte(`{"crops":["wheat"]}`))
		}()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	set, err := f.coord.Run(ctx, "255")
	require.NoError(t, err)
	assert.Equal(t, []string{"wheat"}, set.Crops)
	assert.Equal(t, entities.SoilAverages{}, set.Averages)
}

func TestRun_BaselineFailureAborts(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Data not found", http.StatusInternalServerError)
	})
	c := f.connect(t)

	_, err := f.coord.Run(context.Background(), "255")
	var rerr *ExternalReadError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusInternalServerError, rerr.Status)
	assert.Empty(t, c.Published())
}

func TestRun_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 2; i++ {
		_, err := f.coord.Run(context.Background(), "255")
		require.Error(t, err)
	}
	_, err := f.coord.Run(context.Background(), "255")
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRun_WaitsForConnection(t *testing.T) {
	f := newFixture(t, baselineHandler(t, `{"temperature":20}`))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.coord.Run(ctx, "255")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, f.factory.Clients())
}

func TestRun_NoResponseNeverResolves(t *testing.T) {
	f := newFixture(t, baselineHandler(t, `{"temperature":20}`))
	f.connect(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := f.coord.Run(ctx, "255")
		errc <- err
	}()

	require.Eventually(t, func() bool {
		st, ok := f.coord.Stage("255")
		return ok && st == entities.StageAwaitingResponse
	}, time.Second, 5*time.Millisecond)

	_, err := f.coord.Run(context.Background(), "255")
	assert.ErrorIs(t, err, ErrInFlight)

	select {
	case err := <-errc:
		t.Fatalf("run resolved without a response: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func answerRequests(c *brokertest.Client) {
	c.OnPublish(func(p brokertest.Published) {
		if dev, ok := strings.CutPrefix(p.Topic, "ai/crops/"); ok && strings.HasSuffix(dev, "/request") {
			resp := "ai/crops/" + strings.TrimSuffix(dev, "/request") + "/response"
			go c.Deliver(resp, []byte(`{"crops":["rice"],"avg_values":{}}`))
		}
	})
}

func TestRun_KeepsConfiguredResponseChannel(t *testing.T) {
	f := newFixture(t, baselineHandler(t, `{"temperature":20}`))
	c := f.connect(t, "ai/crops/255/response")
	answerRequests(c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := f.coord.Run(ctx, "255")
	require.NoError(t, err)
	assert.True(t, c.Subscribed("ai/crops/255/response"))
}

func TestRun_KeepsResponseChannelHeldElsewhere(t *testing.T) {
	f := newFixture(t, baselineHandler(t, `{"temperature":20}`))
	c := f.connect(t)
	require.NoError(t, f.mgr.Subscribe("ai/crops/255/response"))
	answerRequests(c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := f.coord.Run(ctx, "255")
	require.NoError(t, err)
	assert.True(t, c.Subscribed("ai/crops/255/response"))

	f.mgr.Unsubscribe("ai/crops/255/response")
	assert.False(t, c.Subscribed("ai/crops/255/response"))
}

func TestRun_OneRunPerDevice(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"temperature":20}`))
	})
	c := f.connect(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := f.coord.Run(ctx, "255")
		errc <- err
	}()
	require.Eventually(t, func() bool {
		st, ok := f.coord.Stage("255")
		return ok && st == entities.StageAwaitingResponse
	}, time.Second, 5*time.Millisecond)

	_, err := f.coord.Run(context.Background(), "255")
	require.ErrorIs(t, err, ErrInFlight)

	// Another device is not blocked.
	answerRequests(c)
	other, err := f.coord.Run(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, []string{"rice"}, other.Crops)

	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
	_, active := f.coord.Stage("255")
	assert.False(t, active)

	// The device is free again once the first run ended.
	again, err := f.coord.Run(context.Background(), "255")
	require.NoError(t, err)
	assert.Equal(t, []string{"rice"}, again.Crops)
}

func TestGrowthPlan(t *testing.T) {
	mr := miniredis.RunT(t)
	st := store.NewRedis(store.RedisConfig{Addr: mr.Addr()})
	defer st.Close()
	ctx := context.Background()

	_, err := GrowthPlan(ctx, st, "rice")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, mr.Set(store.KeyCropData,
		`{"crops":["rice"],"avg_values":{},"cropsdetailed":{"rice":"<b>flood</b> the paddy"}}`))
	plan, err := GrowthPlan(ctx, st, "rice")
	require.NoError(t, err)
	assert.Equal(t, "<b>flood</b> the paddy", plan)

	_, err = GrowthPlan(ctx, st, "maize")
	assert.ErrorIs(t, err, store.ErrNotFound)

	set, err := Cached(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, []string{"rice"}, set.Crops)
}
