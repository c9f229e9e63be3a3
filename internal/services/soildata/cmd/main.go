package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/agrow/internal/model"
	"github.com/LeonardoBeccarini/agrow/internal/services/soildata"
	"github.com/LeonardoBeccarini/agrow/internal/store"
	"github.com/LeonardoBeccarini/agrow/pkg/broker"
	"github.com/LeonardoBeccarini/agrow/pkg/dedup"
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

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("soildata: .env: %v", err)
	}

	cfg := struct {
		MQTTHost string
		MQTTPort int
		Broker   broker.Config

		Redis store.RedisConfig

		InfluxURL    string
		InfluxToken  string
		InfluxOrg    string
		InfluxBucket string

		HTTPPort string
		GRPCPort string
	}{
		MQTTHost: envStr("MQTT_HOST", "localhost"),
		MQTTPort: envInt("MQTT_PORT", 1883),
		Broker: broker.Config{
			ClientID:       envStr("MQTT_CLIENT_ID", envStr("HOSTNAME", "soildata")),
			User:           os.Getenv("MQTT_USER"),
			Password:       os.Getenv("MQTT_PASSWORD"),
			ReconnectDelay: time.Duration(envInt("MQTT_RECONNECT_DELAY_MS", 5000)) * time.Millisecond,
			ConnectTimeout: time.Duration(envInt("MQTT_CONNECT_TIMEOUT_MS", 4000)) * time.Millisecond,
			CleanSession:   envBool("MQTT_CLEAN_SESSION", true),
		},
		Redis: store.RedisConfig{
			Addr:     envStr("REDIS_ADDR", "localhost:6379"),
			Username: os.Getenv("REDIS_USERNAME"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		InfluxURL:    envStr("INFLUX_URL", ""),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    envStr("INFLUX_ORG", "agrow"),
		InfluxBucket: envStr("INFLUX_BUCKET", "soil"),
		HTTPPort:     envStr("PORT", "8826"),
		GRPCPort:     envStr("GRPC_PORT", "50051"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Redis ===
	st := store.NewRedis(cfg.Redis)
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		log.Printf("soildata: redis not reachable yet: %v", err)
	}

	// === InfluxDB (optional) ===
	var (
		writer   *soildata.Writer
		points   soildata.PointWriter
		readings http.Handler
	)
	if cfg.InfluxURL != "" {
		influx := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
		defer influx.Close()
		writer = soildata.NewWriter(influx.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket))
		defer writer.Flush()
		points = writer
		readings = soildata.NewReadingsHandler(influx, cfg.InfluxOrg, cfg.InfluxBucket)
	} else {
		log.Printf("soildata: INFLUX_URL not set, readings are kept in redis only")
	}

	// === MQTT ===
	mgr := broker.NewManager()
	if err := mgr.Connect(broker.Endpoint("tcp", cfg.MQTTHost, cfg.MQTTPort), cfg.Broker); err != nil {
		log.Fatalf("soildata: mqtt: %v", err)
	}
	defer mgr.Disconnect()

	// === gRPC health ===
	hs := health.NewServer()
	healthSub := soildata.MirrorHealth(mgr, hs, "soildata")
	defer healthSub.Cancel()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatalf("soildata: grpc listen: %v", err)
	}
	go func() {
		log.Printf("soildata: gRPC health on :%s", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("soildata: grpc server: %v", err)
		}
	}()

	// === HTTP ===
	probes := soildata.NewProbes(mgr, st, writer, 30*time.Second)
	hsrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           soildata.NewHTTPMux(soildata.NewAPI(st, mgr), probes.Health(), probes.Ready(), readings),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("soildata: HTTP listening on :%s", cfg.HTTPPort)
		if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("soildata: http server: %v", err)
		}
	}()

	// === Ingest ===
	consumer := broker.NewConsumer(mgr, model.SoilDataSubscription, nil)
	svc := soildata.NewService(consumer, st, points, dedup.New(10*time.Minute, 20000))
	go svc.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Printf("soildata: shutting down...")

	cancel()
	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = hsrv.Shutdown(shCtx)
	grpcServer.GracefulStop()
}
