package broker

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultConnectTimeout = 4 * time.Second
)

// Config holds the session options recognised by Manager.Connect.
type Config struct {
	ClientID string
	User     string
	Password string

	// ReconnectDelay is the fixed wait before each automatic retry.
	ReconnectDelay time.Duration
	// Backoff replaces the fixed delay when set. It is reset once a session
	// connects; backoff.Stop falls back to ReconnectDelay, so retries never end.
	Backoff        backoff.BackOff
	ConnectTimeout time.Duration
	CleanSession   bool

	// Channels are subscribed every time the session reaches Connected.
	Channels []string
}

// DefaultConfig returns the options used by the operator console.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay: DefaultReconnectDelay,
		ConnectTimeout: DefaultConnectTimeout,
		CleanSession:   true,
	}
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ClientID == "" {
		c.ClientID = "agrow-" + uuid.NewString()[:8]
	}
	return c
}

// Endpoint builds a broker URL such as tcp://localhost:1883 or ws://host:9001.
func Endpoint(scheme, host string, port int) string {
	if scheme == "" {
		scheme = "tcp"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}
