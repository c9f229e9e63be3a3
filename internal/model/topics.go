package model

import "strings"

// Topic templates; {id} is the device identifier.
const (
	TelemetryTopicTmpl    = "ground/{id}/telemetry"
	PlanTopicTmpl         = "ground/{id}/plan"
	SoilDataTopicTmpl     = "ground/{id}/data"
	CropRequestTopicTmpl  = "ai/crops/{id}/request"
	CropResponseTopicTmpl = "ai/crops/{id}/response"

	// SoilDataSubscription matches soil scans from every rover.
	SoilDataSubscription = "ground/+/data"
)

func topicFor(tmpl, deviceID string) string {
	return strings.ReplaceAll(tmpl, "{id}", deviceID)
}

func TelemetryTopic(deviceID string) string    { return topicFor(TelemetryTopicTmpl, deviceID) }
func PlanTopic(deviceID string) string         { return topicFor(PlanTopicTmpl, deviceID) }
func SoilDataTopic(deviceID string) string     { return topicFor(SoilDataTopicTmpl, deviceID) }
func CropRequestTopic(deviceID string) string  { return topicFor(CropRequestTopicTmpl, deviceID) }
func CropResponseTopic(deviceID string) string { return topicFor(CropResponseTopicTmpl, deviceID) }

// DeviceFromTopic extracts the device id from "ground/{id}/..." style topics.
func DeviceFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "ground" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
