package soildata

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/agrow/pkg/broker"
)

// Pinger is satisfied by store.Redis.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionState is satisfied by broker.Manager.
type SessionState interface {
	State() broker.State
	StatusText() string
}

// Probes backs /healthz and /readyz.
type Probes struct {
	session  SessionState
	redis    Pinger
	writer   *Writer
	minError time.Duration
}

func NewProbes(s SessionState, redis Pinger, w *Writer, minOkErrorAge time.Duration) *Probes {
	return &Probes{session: s, redis: redis, writer: w, minError: minOkErrorAge}
}

type probeStatus struct {
	Status          string  `json:"status"`
	Broker          string  `json:"broker"`
	BrokerConnected bool    `json:"broker_connected"`
	RedisOK         bool    `json:"redis_ok"`
	LastWriteErrorS float64 `json:"last_write_error_age_sec,omitempty"`
}

func (p *Probes) check(ctx context.Context) probeStatus {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	st := probeStatus{
		Broker:          p.session.StatusText(),
		BrokerConnected: p.session.State() == broker.Connected,
		RedisOK:         p.redis != nil && p.redis.Ping(ctx) == nil,
	}
	if p.writer != nil {
		st.LastWriteErrorS = p.writer.LastErrorAge().Seconds()
	}
	switch {
	case st.BrokerConnected && st.RedisOK && p.writerOK():
		st.Status = "ok"
	case st.BrokerConnected || st.RedisOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	return st
}

func (p *Probes) writerOK() bool {
	return p.writer == nil || p.writer.LastErrorAge() > p.minError
}

// Health always answers 200 with the dependency breakdown.
func (p *Probes) Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p.check(r.Context()))
	})
}

// Ready answers 503 unless every dependency is up.
func (p *Probes) Ready() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ready := p.check(r.Context()).Status == "ok"
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(struct {
			Ready bool `json:"ready"`
		}{ready})
	})
}

// StateNotifier is satisfied by broker.Manager.
type StateNotifier interface {
	State() broker.State
	OnStateChange(fn func(broker.State)) *broker.Subscription
}

// MirrorHealth keeps the gRPC health status of service in step with the
// broker session: SERVING only while Connected.
func MirrorHealth(n StateNotifier, hs *health.Server, service string) *broker.Subscription {
	set := func(s broker.State) {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if s == broker.Connected {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(service, status)
	}
	sub := n.OnStateChange(set)
	set(n.State())
	return sub
}
