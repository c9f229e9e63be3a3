package model

import (
	"github.com/LeonardoBeccarini/agrow/internal/model/entities"
	"github.com/LeonardoBeccarini/agrow/internal/model/messages"
)

// Aliases for the types shared across services.

type (
	GeofencePoint         = entities.GeofencePoint
	ZoneDefinition        = entities.ZoneDefinition
	DeviceStatus          = entities.DeviceStatus
	SoilAverages          = entities.SoilAverages
	CropRecommendationSet = entities.CropRecommendationSet
	RequestCorrelation    = entities.RequestCorrelation
	Stage                 = entities.Stage
	Viewport              = entities.Viewport
	TelemetrySnapshot     = messages.TelemetrySnapshot
	SoilScan              = messages.SoilScan
	PlotRecord            = messages.PlotRecord
)

const (
	StatusUnknown   = entities.StatusUnknown
	StatusIdle      = entities.StatusIdle
	StatusMoving    = entities.StatusMoving
	StatusError     = entities.StatusError
	StatusCompleted = entities.StatusCompleted

	ZonePoints      = entities.ZonePoints
	DefaultDeviceID = entities.DefaultDeviceID
)
