package soildata

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/agrow/internal/model"
	"github.com/LeonardoBeccarini/agrow/internal/store"
	"github.com/LeonardoBeccarini/agrow/pkg/broker"
)

// Publisher is what POST /send needs from the broker session.
type Publisher interface {
	Publish(topic string, payload []byte, opts broker.PublishOptions) (*broker.Delivery, error)
}

// API serves the stored plot lists.
type API struct {
	store       store.Store
	pub         Publisher
	sendTimeout time.Duration
}

func NewAPI(s store.Store, pub Publisher) *API {
	return &API{store: s, pub: pub, sendTimeout: 3 * time.Second}
}

// NewHTTPMux registers the data routes plus /healthz, /readyz and /metrics.
// readings is optional and served on GET /readings/{id}.
func NewHTTPMux(a *API, health, ready, readings http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "soil data service is running")
	})
	mux.HandleFunc("GET /data/{id}", a.getData)
	mux.HandleFunc("POST /send/{id}", a.send)
	if readings != nil {
		mux.Handle("GET /readings/{id}", readings)
	}
	if health != nil {
		mux.Handle("/healthz", health)
	}
	if ready != nil {
		mux.Handle("/readyz", ready)
	}
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// GET /data/{id}: the rover's plot list as stored.
func (a *API) getData(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	raw, err := a.store.Get(r.Context(), store.PlotsKey(id))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Data not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("soildata: GET /data/%s: %v", id, err)
		http.Error(w, "store unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, raw)
}

// POST /send/{id}: publish the stored list on ai/crops/{id}/request.
func (a *API) send(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	raw, err := a.store.Get(r.Context(), store.PlotsKey(id))
	if errors.Is(err, store.ErrNotFound) || (err == nil && raw == "") {
		http.Error(w, "Data not found", http.StatusInternalServerError)
		return
	}
	if err != nil {
		log.Printf("soildata: POST /send/%s: %v", id, err)
		http.Error(w, "store unavailable", http.StatusBadGateway)
		return
	}

	topic := model.CropRequestTopic(id)
	d, err := a.pub.Publish(topic, []byte(raw), broker.PublishOptions{QoS: 1})
	if err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), a.sendTimeout)
		err = d.Wait(ctx)
		cancel()
	}
	if err != nil {
		log.Printf("soildata: publish %s: %v", topic, err)
		status := http.StatusBadGateway
		if errors.Is(err, broker.ErrNotConnected) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	log.Printf("soildata: sent %d bytes to %s", len(raw), topic)
	_, _ = io.WriteString(w, "Data found and sent")
}
