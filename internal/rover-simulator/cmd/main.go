// internal/rover-simulator/cmd/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/LeonardoBeccarini/agrow/internal/model"
	roverSimulator "github.com/LeonardoBeccarini/agrow/internal/rover-simulator"
	"github.com/LeonardoBeccarini/agrow/pkg/broker"
)

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("rover-sim: .env: %v", err)
	}

	roverID := flag.String("rover-id", model.DefaultDeviceID, "rover identifier")
	clientID := flag.String("client-id", "", "MQTT client ID (default rover-<id>)")
	interval := flag.Duration("interval", time.Second, "telemetry interval")
	dwell := flag.Duration("dwell", 2*time.Second, "time spent at each scan point")
	grid := flag.Float64("grid", 0.0002, "scan grid spacing in degrees")
	lat := flag.Float64("lat", 12.52, "home latitude")
	lng := flag.Float64("lng", 76.89, "home longitude")
	seed := flag.Int64("seed", time.Now().UnixNano(), "soil generator seed")
	flag.Parse()

	cfg := broker.Config{
		ClientID:       *clientID,
		User:           os.Getenv("MQTT_USER"),
		Password:       os.Getenv("MQTT_PASSWORD"),
		ReconnectDelay: time.Duration(envInt("MQTT_RECONNECT_DELAY_MS", 5000)) * time.Millisecond,
		ConnectTimeout: time.Duration(envInt("MQTT_CONNECT_TIMEOUT_MS", 4000)) * time.Millisecond,
		CleanSession:   true,
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "rover-" + *roverID
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := broker.NewManager()
	endpoint := broker.Endpoint("tcp", envStr("MQTT_HOST", "localhost"), envInt("MQTT_PORT", 1883))
	if err := mgr.Connect(endpoint, cfg); err != nil {
		log.Fatal(err)
	}
	defer mgr.Disconnect()

	plans := broker.NewConsumer(mgr, model.PlanTopic(*roverID), nil)
	telemetry := broker.NewPublisher(mgr, model.TelemetryTopic(*roverID))
	scans := broker.NewPublisher(mgr, model.SoilDataTopic(*roverID))

	sim := roverSimulator.NewRoverSimulator(*roverID, plans, telemetry, scans,
		roverSimulator.NewSoilGenerator(*seed),
		roverSimulator.Options{Home: model.GeofencePoint{Lat: *lat, Lng: *lng}, Grid: *grid, Dwell: *dwell})

	log.Printf("rover-sim: rover %s waiting for a plan on %s", *roverID, model.PlanTopic(*roverID))
	sim.Start(ctx, *interval)
}
