// Package store is the durable key-value store shared by the console and the
// soil data service.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/LeonardoBeccarini/agrow/internal/model"
	"github.com/LeonardoBeccarini/agrow/internal/model/entities"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("store: key not found")

// Well known keys.
const (
	KeyDeviceID = "rover_id"
	KeyPoints   = "points"
	KeyCropData = "cropdata"
	KeyViewport = "mapState"
)

// PlotsKey is where the soil data service keeps the scanned plots of a rover.
func PlotsKey(deviceID string) string { return "rover_" + deviceID }

// Store is a string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
}

// DeviceID returns the stored device identifier, or model.DefaultDeviceID.
func DeviceID(ctx context.Context, s Store) (string, error) {
	id, err := s.Get(ctx, KeyDeviceID)
	if errors.Is(err, ErrNotFound) || (err == nil && id == "") {
		return model.DefaultDeviceID, nil
	}
	return id, err
}

// Viewport returns the saved map viewport. A missing or unreadable entry
// yields the default viewport; the key is never written from here.
func Viewport(ctx context.Context, s Store) (model.Viewport, error) {
	raw, err := s.Get(ctx, KeyViewport)
	if errors.Is(err, ErrNotFound) {
		return entities.DefaultViewport, nil
	}
	if err != nil {
		return model.Viewport{}, err
	}
	var v model.Viewport
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return entities.DefaultViewport, nil
	}
	return v, nil
}

// UpsertPlot puts rec at the head of the rover's plot list, replacing any
// older record for the same plot.
func UpsertPlot(ctx context.Context, s Store, deviceID string, rec model.PlotRecord) ([]model.PlotRecord, error) {
	key := PlotsKey(deviceID)
	list := []model.PlotRecord{rec}

	raw, err := s.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		var existing []model.PlotRecord
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		for _, x := range existing {
			if !samePlot(x.PlotID, rec.PlotID) {
				list = append(list, x)
			}
		}
	}

	b, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	if err := s.Put(ctx, key, string(b)); err != nil {
		return nil, err
	}
	return list, nil
}

// samePlot compares plot ids after a JSON round trip, so 3 and 3.0 are equal.
func samePlot(a, b any) bool {
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return string(ja) == string(jb)
}
