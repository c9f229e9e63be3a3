// Package soildata stores the soil scans reported by rovers and serves them as
// the baseline for crop recommendations.
package soildata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeonardoBeccarini/agrow/internal/model"
	"github.com/LeonardoBeccarini/agrow/internal/store"
	"github.com/LeonardoBeccarini/agrow/pkg/broker"
	"github.com/LeonardoBeccarini/agrow/pkg/dedup"
)

const measurement = "soil_reading"

var scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agrow",
	Subsystem: "soildata",
	Name:      "scans_total",
	Help:      "Soil scans received, by outcome.",
}, []string{"outcome"})

type Service struct {
	consumer broker.IConsumer
	store    store.Store
	points   PointWriter
	seen     *dedup.Window
	now      func() time.Time
}

// NewService wires the ingest path. points may be nil to skip Influx.
func NewService(consumer broker.IConsumer, s store.Store, points PointWriter, seen *dedup.Window) *Service {
	if seen == nil {
		seen = dedup.New(10*time.Minute, 20000)
	}
	return &Service{consumer: consumer, store: s, points: points, seen: seen, now: time.Now}
}

// Start consumes ground/+/data until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.consumer.SetHandler(func(topic string, payload []byte) error {
		return s.HandleScan(ctx, topic, payload)
	})
	s.consumer.ConsumeMessage(ctx)
}

// HandleScan records one scan: the plot list in the store is updated and a
// point is written to Influx. Redelivered payloads are ignored.
func (s *Service) HandleScan(ctx context.Context, topic string, payload []byte) error {
	roverID, ok := model.DeviceFromTopic(topic)
	if !ok {
		scansTotal.WithLabelValues("bad_topic").Inc()
		return fmt.Errorf("soildata: unexpected topic %q", topic)
	}
	key := dedup.Key(topic, payload)
	if !s.seen.First(key) {
		scansTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	var scan model.SoilScan
	if err := json.Unmarshal(payload, &scan); err != nil {
		scansTotal.WithLabelValues("malformed").Inc()
		return fmt.Errorf("soildata: invalid JSON on %s: %w", topic, err)
	}
	if scan.Details == nil {
		scan.Details = map[string]any{}
	}

	list, err := store.UpsertPlot(ctx, s.store, roverID, model.PlotRecord{PlotID: scan.PlotID, Details: scan.Details})
	if err != nil {
		s.seen.Forget(key)
		scansTotal.WithLabelValues("store_error").Inc()
		return fmt.Errorf("soildata: store scan for %s: %w", roverID, err)
	}

	if s.points != nil {
		if p := scanPoint(roverID, scan, s.now()); p != nil {
			s.points.WritePoint(p)
		}
	}
	scansTotal.WithLabelValues("ok").Inc()
	log.Printf("soildata: rover %s plot %v stored (%d plots)", roverID, scan.PlotID, len(list))
	return nil
}

// scanPoint builds the Influx point for a scan. Only numeric details become
// fields; a scan without any is not written.
func scanPoint(roverID string, scan model.SoilScan, t time.Time) *write.Point {
	fields := make(map[string]interface{}, len(scan.Details)+2)
	keys := make([]string, 0, len(scan.Details))
	for k := range scan.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := scan.Details[k].(type) {
		case float64:
			fields[k] = v
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				fields[k] = f
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	if scan.ScanPoint != nil {
		fields["latitude"] = scan.ScanPoint.Latitude
		fields["longitude"] = scan.ScanPoint.Longitude
	}
	tags := map[string]string{
		"rover_id": roverID,
		"plot_id":  plotTag(scan.PlotID),
	}
	return influxdb2.NewPoint(measurement, tags, fields, t)
}

func plotTag(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
