// Package console is the operator command line: draw a zone, send the plan,
// follow the rover's telemetry and ask for crop recommendations.
package console

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/agrow/internal/recommend"
	"github.com/LeonardoBeccarini/agrow/internal/store"
	"github.com/LeonardoBeccarini/agrow/pkg/broker"
)

// Exit codes.
const (
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func wrapExit(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	var e *ExitError
	if errors.As(err, &e) {
		return e.Code
	}
	return ExitFailure
}

// Env is what the commands run against.
type Env struct {
	Store    store.Store
	Broker   *broker.Manager
	Baseline recommend.BaselineSource
}

// RootOptions holds the global flags.
type RootOptions struct {
	BrokerURL      string
	RedisAddr      string
	DataURL        string
	Device         string
	ConnectTimeout time.Duration

	env *Env
}

// NewRootCommand builds the agrow command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(nil)
}

func newRootCommand(env *Env) *cobra.Command {
	opts := &RootOptions{env: env}

	cmd := &cobra.Command{
		Use:   "agrow",
		Short: "agrow operator console",
		Long:  "Plan rover zones, follow telemetry and request crop recommendations.",
	}

	cmd.PersistentFlags().StringVar(&opts.BrokerURL, "broker", defaultBrokerURL(), "MQTT broker URL")
	cmd.PersistentFlags().StringVar(&opts.RedisAddr, "redis", envOr("REDIS_ADDR", "localhost:6379"), "redis address")
	cmd.PersistentFlags().StringVar(&opts.DataURL, "data-url", envOr("DATA_URL", "http://localhost:8826"), "soil data service base URL")
	cmd.PersistentFlags().StringVar(&opts.Device, "device", "", "rover id (default: stored id, then "+store.KeyDeviceID+" default)")
	cmd.PersistentFlags().DurationVar(&opts.ConnectTimeout, "connect-timeout", 10*time.Second, "how long to wait for the broker")

	cmd.AddCommand(newZoneCommand(opts))
	cmd.AddCommand(newPlanCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newRecommendCommand(opts))
	cmd.AddCommand(newDeviceCommand(opts))
	return cmd
}

func envOr(key, def string) string {
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

func defaultBrokerURL() string {
	return broker.Endpoint("tcp", envOr("MQTT_HOST", "localhost"), envInt("MQTT_PORT", 1883))
}

func brokerConfig() broker.Config {
	cfg := broker.DefaultConfig()
	cfg.ClientID = os.Getenv("MQTT_CLIENT_ID")
	cfg.User = os.Getenv("MQTT_USER")
	cfg.Password = os.Getenv("MQTT_PASSWORD")
	cfg.ReconnectDelay = time.Duration(envInt("MQTT_RECONNECT_DELAY_MS", 5000)) * time.Millisecond
	cfg.ConnectTimeout = time.Duration(envInt("MQTT_CONNECT_TIMEOUT_MS", 4000)) * time.Millisecond
	if v, err := strconv.ParseBool(os.Getenv("MQTT_CLEAN_SESSION")); err == nil {
		cfg.CleanSession = v
	}
	return cfg
}

// open returns the environment and a func releasing it.
func (o *RootOptions) open() (*Env, func(), error) {
	if o.env != nil {
		return o.env, func() {}, nil
	}
	rs := store.NewRedis(store.RedisConfig{
		Addr:     o.RedisAddr,
		Username: os.Getenv("REDIS_USERNAME"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
	})
	mgr := broker.NewManager()
	if err := mgr.Connect(o.BrokerURL, brokerConfig()); err != nil {
		_ = rs.Close()
		return nil, nil, wrapExit(ExitCommandError, "invalid broker", err)
	}
	env := &Env{
		Store:    rs,
		Broker:   mgr,
		Baseline: recommend.NewHTTPBaseline(o.DataURL, 5*time.Second, recommend.BreakerConfig{}),
	}
	return env, func() {
		mgr.Disconnect()
		_ = rs.Close()
	}, nil
}

// deviceID prefers --device over the stored id.
func (o *RootOptions) deviceID(ctx context.Context, env *Env) (string, error) {
	if id := strings.TrimSpace(o.Device); id != "" {
		return id, nil
	}
	return store.DeviceID(ctx, env.Store)
}

// waitBroker blocks until the session is up or --connect-timeout passes.
func (o *RootOptions) waitBroker(ctx context.Context, env *Env) error {
	wctx, cancel := context.WithTimeout(ctx, o.ConnectTimeout)
	defer cancel()
	if err := env.Broker.WaitConnected(wctx); err != nil {
		return wrapExit(ExitFailure, "broker "+env.Broker.StatusText(), err)
	}
	return nil
}
