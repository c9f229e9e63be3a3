package soildata

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/agrow/internal/store"
	"github.com/LeonardoBeccarini/agrow/pkg/broker"
	"github.com/LeonardoBeccarini/agrow/pkg/broker/brokertest"
)

type recordedPoints struct {
	mu     sync.Mutex
	points []*write.Point
}

func (r *recordedPoints) WritePoint(p *write.Point) {
	r.mu.Lock()
	r.points = append(r.points, p)
	r.mu.Unlock()
}

func (r *recordedPoints) all() []*write.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*write.Point(nil), r.points...)
}

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis, *recordedPoints) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewRedis(store.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { _ = st.Close() })
	pts := &recordedPoints{}
	mgr, _, _ := brokertest.NewManager()
	svc := NewService(broker.NewConsumer(mgr, "ground/+/data", nil), st, pts, nil)
	svc.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return svc, mr, pts
}

func storedPlots(t *testing.T, mr *miniredis.Miniredis, rover string) []map[string]any {
	t.Helper()
	raw, err := mr.Get(store.PlotsKey(rover))
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestHandleScan_UpsertsPlots(t *testing.T) {
	svc, mr, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.HandleScan(ctx, "ground/7/data", []byte(`{"plot_id":1,"details":{"ph":6.5}}`)))
	require.NoError(t, svc.HandleScan(ctx, "ground/7/data", []byte(`{"plot_id":2,"details":{"ph":7}}`)))
	require.NoError(t, svc.HandleScan(ctx, "ground/7/data", []byte(`{"plot_id":1,"details":{"ph":5.5}}`)))

	plots := storedPlots(t, mr, "7")
	require.Len(t, plots, 2)
	assert.EqualValues(t, 1, plots[0]["plot_id"])
	assert.Equal(t, map[string]any{"ph": 5.5}, plots[0]["details"])
	assert.EqualValues(t, 2, plots[1]["plot_id"])
}

func TestHandleScan_MissingDetails(t *testing.T) {
	svc, mr, pts := newTestService(t)
	require.NoError(t, svc.HandleScan(context.Background(), "ground/7/data", []byte(`{"plot_id":"a"}`)))

	plots := storedPlots(t, mr, "7")
	require.Len(t, plots, 1)
	assert.Equal(t, map[string]any{}, plots[0]["details"])
	assert.Empty(t, pts.all())
}

func TestHandleScan_DropsRedelivery(t *testing.T) {
	svc, mr, pts := newTestService(t)
	ctx := context.Background()
	payload := []byte(`{"plot_id":3,"details":{"nitrogen":40}}`)

	require.NoError(t, svc.HandleScan(ctx, "ground/9/data", payload))
	require.NoError(t, mr.Set(store.PlotsKey("9"), `[]`))
	require.NoError(t, svc.HandleScan(ctx, "ground/9/data", payload))

	got, err := mr.Get(store.PlotsKey("9"))
	require.NoError(t, err)
	assert.Equal(t, `[]`, got)
	assert.Len(t, pts.all(), 1)
}

func TestHandleScan_Rejects(t *testing.T) {
	svc, mr, _ := newTestService(t)
	ctx := context.Background()

	assert.Error(t, svc.HandleScan(ctx, "ground/9/data", []byte(`{plot`)))
	assert.Error(t, svc.HandleScan(ctx, "other/topic", []byte(`{}`)))
	assert.False(t, mr.Exists(store.PlotsKey("9")))
}

func TestHandleScan_WritesPoint(t *testing.T) {
	svc, _, pts := newTestService(t)
	payload := `{"plot_id":4,"scan_point":{"latitude":12.5,"longitude":77.25},"details":{"ph":6.5,"potassium":"30","crop":"rice"}}`
	require.NoError(t, svc.HandleScan(context.Background(), "ground/255/data", []byte(payload)))

	got := pts.all()
	require.Len(t, got, 1)
	p := got[0]
	assert.Equal(t, "soil_reading", p.Name())
	assert.Equal(t, time.Unix(1_700_000_000, 0), p.Time())

	tags := map[string]string{}
	for _, tg := range p.TagList() {
		tags[tg.Key] = tg.Value
	}
	assert.Equal(t, map[string]string{"rover_id": "255", "plot_id": "4"}, tags)

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, map[string]any{
		"ph":        6.5,
		"potassium": 30.0,
		"latitude":  12.5,
		"longitude": 77.25,
	}, fields)
}

func TestService_StartConsumesSubscription(t *testing.T) {
	mr := miniredis.RunT(t)
	st := store.NewRedis(store.RedisConfig{Addr: mr.Addr()})
	defer st.Close()

	mgr, f, _ := brokertest.NewManager()
	cfg := broker.DefaultConfig()
	cfg.ClientID = "soildata-test"
	require.NoError(t, mgr.Connect("tcp://localhost:1883", cfg))
	require.Eventually(t, func() bool { return mgr.State() == broker.Connected }, time.Second, 5*time.Millisecond)
	defer mgr.Disconnect()

	svc := NewService(broker.NewConsumer(mgr, "ground/+/data", nil), st, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	c := f.Last()
	require.Eventually(t, func() bool { return c.Subscribed("ground/+/data") }, time.Second, 5*time.Millisecond)
	require.True(t, c.Deliver("ground/12/data", []byte(`{"plot_id":1,"details":{"ph":6}}`)))
	assert.True(t, mr.Exists(store.PlotsKey("12")))

	cancel()
	<-done
	assert.False(t, c.Subscribed("ground/+/data"))
}
