package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/agrow/internal/model"
	"github.com/LeonardoBeccarini/agrow/pkg/broker"
	"github.com/LeonardoBeccarini/agrow/pkg/broker/brokertest"
)

func connected(t *testing.T) (*broker.Manager, *brokertest.Factory) {
	t.Helper()
	mgr, f, _ := brokertest.NewManager()
	cfg := broker.DefaultConfig()
	cfg.ClientID = "telemetry-test"
	require.NoError(t, mgr.Connect("tcp://localhost:1883", cfg))
	require.Eventually(t, func() bool { return mgr.State() == broker.Connected }, time.Second, 5*time.Millisecond)
	t.Cleanup(mgr.Disconnect)
	return mgr, f
}

func TestParse(t *testing.T) {
	snap, err := Parse([]byte(`{"status":"moving","position":[1,2],"waypoints":[]}`))
	require.NoError(t, err)
	assert.Equal(t, model.StatusMoving, snap.Status)
	assert.Equal(t, model.GeofencePoint{Lat: 1, Lng: 2}, snap.Position)
	assert.Empty(t, snap.Waypoints)
	assert.NotNil(t, snap.Waypoints)

	snap, err = Parse([]byte(`{"status":"sleeping","latlng":[3,4],"waypoints":[[5,6]]}`))
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnknown, snap.Status)
	assert.Equal(t, model.GeofencePoint{Lat: 3, Lng: 4}, snap.Position)
	assert.Equal(t, []model.GeofencePoint{{Lat: 5, Lng: 6}}, snap.Waypoints)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]struct {
		payload string
		want    error
	}{
		"status only":       {`{"status":"moving"}`, ErrIncomplete},
		"no waypoints":      {`{"status":"idle","position":[1,2]}`, ErrIncomplete},
		"no status":         {`{"position":[1,2],"waypoints":[]}`, ErrIncomplete},
		"not json":          {`moving`, ErrMalformed},
		"bad position":      {`{"status":"idle","position":[1],"waypoints":[]}`, ErrMalformed},
		"status not string": {`{"status":3,"position":[1,2],"waypoints":[]}`, ErrMalformed},
		"null status":       {`{"status":null,"position":[1,2],"waypoints":[]}`, ErrIncomplete},
		"empty status":      {`{"status":"","latlng":[1,2],"waypoints":[]}`, ErrIncomplete},
		"blank status":      {`{"status":"  ","position":[1,2],"waypoints":[]}`, ErrIncomplete},
		"null position":     {`{"status":"idle","position":null,"waypoints":[]}`, ErrIncomplete},
		"null latlng":       {`{"status":"idle","latlng":null,"waypoints":[]}`, ErrIncomplete},
		"null waypoints":    {`{"status":"idle","latlng":[1,2],"waypoints":null}`, ErrIncomplete},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tc.payload))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSynchronizer_IgnoresIncompleteMessages(t *testing.T) {
	mgr, f := connected(t)
	s := NewSynchronizer(mgr)
	require.NoError(t, s.SubscribeTo("255"))
	c := f.Last()
	require.True(t, c.Subscribed("ground/255/telemetry"))

	require.True(t, c.Deliver("ground/255/telemetry", []byte(`{"status":"moving","position":[1,2],"waypoints":[]}`)))
	first := s.Current()
	assert.Equal(t, model.StatusMoving, first.Status)

	c.Deliver("ground/255/telemetry", []byte(`{"status":"idle"}`))
	c.Deliver("ground/255/telemetry", []byte(`garbage`))
	assert.Equal(t, first, s.Current())
}

func TestSynchronizer_StartsEmpty(t *testing.T) {
	mgr, _ := connected(t)
	s := NewSynchronizer(mgr)
	snap := s.Current()
	assert.Equal(t, model.StatusUnknown, snap.Status)
	assert.True(t, snap.ReceivedAt.IsZero())
}

func TestSynchronizer_SwitchDevice(t *testing.T) {
	mgr, f := connected(t)
	s := NewSynchronizer(mgr)
	require.NoError(t, s.SubscribeTo("1"))
	c := f.Last()
	c.Deliver("ground/1/telemetry", []byte(`{"status":"moving","position":[1,2],"waypoints":[]}`))

	require.NoError(t, s.SubscribeTo("2"))
	assert.Equal(t, "2", s.DeviceID())
	assert.False(t, c.Subscribed("ground/1/telemetry"))
	assert.True(t, c.Subscribed("ground/2/telemetry"))
	assert.Equal(t, model.StatusUnknown, s.Current().Status)

	c.Deliver("ground/2/telemetry", []byte(`{"status":"completed","position":[7,8],"waypoints":[]}`))
	assert.Equal(t, model.StatusCompleted, s.Current().Status)
}

func TestSynchronizer_ResubscribeSameDeviceThenClose(t *testing.T) {
	mgr, f := connected(t)
	s := NewSynchronizer(mgr)
	require.NoError(t, s.SubscribeTo("1"))
	require.NoError(t, s.SubscribeTo("1"))
	c := f.Last()
	assert.True(t, c.Subscribed("ground/1/telemetry"))

	s.Close()
	assert.False(t, c.Subscribed("ground/1/telemetry"))
}

func TestSynchronizer_OnUpdate(t *testing.T) {
	mgr, f := connected(t)
	s := NewSynchronizer(mgr)
	require.NoError(t, s.SubscribeTo("255"))

	var (
		mu  sync.Mutex
		got []model.DeviceStatus
	)
	cancel := s.OnUpdate(func(snap model.TelemetrySnapshot) {
		mu.Lock()
		got = append(got, snap.Status)
		mu.Unlock()
	})
	c := f.Last()
	c.Deliver("ground/255/telemetry", []byte(`{"status":"moving","position":[1,2],"waypoints":[]}`))
	c.Deliver("ground/255/telemetry", []byte(`{"status":"moving"}`))
	cancel()
	c.Deliver("ground/255/telemetry", []byte(`{"status":"idle","position":[1,2],"waypoints":[]}`))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []model.DeviceStatus{model.StatusMoving}, got)
	assert.Equal(t, model.StatusIdle, s.Current().Status)
}
