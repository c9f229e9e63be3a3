package soildata

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/agrow/internal/store"
	"github.com/LeonardoBeccarini/agrow/pkg/broker"
	"github.com/LeonardoBeccarini/agrow/pkg/broker/brokertest"
)

type apiFixture struct {
	mr      *miniredis.Miniredis
	mgr     *broker.Manager
	factory *brokertest.Factory
	srv     *httptest.Server
}

func newAPIFixture(t *testing.T, connect bool) *apiFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewRedis(store.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { _ = st.Close() })

	mgr, f, _ := brokertest.NewManager()
	if connect {
		cfg := broker.DefaultConfig()
		cfg.ClientID = "soildata-api-test"
		require.NoError(t, mgr.Connect("tcp://localhost:1883", cfg))
		require.Eventually(t, func() bool { return mgr.State() == broker.Connected }, time.Second, 5*time.Millisecond)
	}
	t.Cleanup(mgr.Disconnect)

	probes := NewProbes(mgr, st, nil, 0)
	srv := httptest.NewServer(NewHTTPMux(NewAPI(st, mgr), probes.Health(), probes.Ready(), nil))
	t.Cleanup(srv.Close)
	return &apiFixture{mr: mr, mgr: mgr, factory: f, srv: srv}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestAPI_GetData(t *testing.T) {
	fx := newAPIFixture(t, false)

	resp, err := http.Get(fx.srv.URL + "/data/255")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	list := `[{"plot_id":1,"details":{"temperature":20}}]`
	require.NoError(t, fx.mr.Set("rover_255", list))
	resp, err = http.Get(fx.srv.URL + "/data/255")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, list, readBody(t, resp))
}

func TestAPI_Send(t *testing.T) {
	fx := newAPIFixture(t, true)

	resp, err := http.Post(fx.srv.URL+"/send/255", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Data not found", strings.TrimSpace(readBody(t, resp)))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	list := `[{"plot_id":1,"details":{"temperature":20}}]`
	require.NoError(t, fx.mr.Set("rover_255", list))
	resp, err = http.Post(fx.srv.URL+"/send/255", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Data found and sent", readBody(t, resp))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	pubs := fx.factory.Last().Published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "ai/crops/255/request", pubs[0].Topic)
	assert.Equal(t, byte(1), pubs[0].QoS)
	assert.Equal(t, list, string(pubs[0].Payload))
}

func TestAPI_SendWhileDisconnected(t *testing.T) {
	fx := newAPIFixture(t, false)
	require.NoError(t, fx.mr.Set("rover_255", `[]`))

	resp, err := http.Post(fx.srv.URL+"/send/255", "", nil)
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPI_MethodsAndMetrics(t *testing.T) {
	fx := newAPIFixture(t, false)

	resp, err := http.Post(fx.srv.URL+"/data/255", "", nil)
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(fx.srv.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "go_goroutines")
}

func TestAPI_Probes(t *testing.T) {
	fx := newAPIFixture(t, false)

	resp, err := http.Get(fx.srv.URL + "/readyz")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(fx.srv.URL + "/healthz")
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"degraded"`)
	assert.Contains(t, body, `"redis_ok":true`)

	cfg := broker.DefaultConfig()
	cfg.ClientID = "probe-test"
	require.NoError(t, fx.mgr.Connect("tcp://localhost:1883", cfg))
	require.Eventually(t, func() bool { return fx.mgr.State() == broker.Connected }, time.Second, 5*time.Millisecond)

	resp, err = http.Get(fx.srv.URL + "/readyz")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ready":true}`, readBody(t, resp))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
