package broker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConnected is returned by operations that need an established session.
var ErrNotConnected = errors.New("broker: not connected")

// ConnectionError wraps a failed connect attempt or a dropped session. It is
// never fatal: the manager schedules a reconnect after reporting it.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("broker: connection to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SubscriptionError reports a rejected subscribe request. Connection state is unaffected.
type SubscriptionError struct {
	Channels []string
	Err      error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("broker: subscribe %s: %v", strings.Join(e.Channels, ","), e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// PublishError reports a publish that was refused or not acknowledged. It is not retried.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("broker: publish %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
