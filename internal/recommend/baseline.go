package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// ExternalReadError reports a failed baseline read. It ends the run; nothing
// retries it.
type ExternalReadError struct {
	URL    string
	Status int // 0 when no response was received
	Err    error
}

func (e *ExternalReadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("recommend: GET %s -> %d", e.URL, e.Status)
	}
	return fmt.Sprintf("recommend: GET %s: %v", e.URL, e.Err)
}

func (e *ExternalReadError) Unwrap() error { return e.Err }

// ErrBreakerOpen is wrapped in an ExternalReadError while the data service is
// considered down.
var ErrBreakerOpen = gobreaker.ErrOpenState

// BaselineSource returns the last stored soil snapshot of a device as JSON.
type BaselineSource interface {
	Baseline(ctx context.Context, deviceID string) (json.RawMessage, error)
}

// BreakerConfig tunes the circuit breaker in front of the data service.
type BreakerConfig struct {
	Failures int
	OpenFor  time.Duration
	Interval time.Duration
}

// HTTPBaseline reads GET {base}/data/{id}.
type HTTPBaseline struct {
	base    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewHTTPBaseline(base string, timeout time.Duration, bc BreakerConfig) *HTTPBaseline {
	if bc.Failures < 1 {
		bc.Failures = 3
	}
	if bc.OpenFor <= 0 {
		bc.OpenFor = 10 * time.Second
	}
	return &HTTPBaseline{
		base:   strings.TrimRight(strings.TrimSpace(base), "/"),
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "soil-data",
			Interval: bc.Interval,
			Timeout:  bc.OpenFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(bc.Failures)
			},
		}),
	}
}

// State exposes the breaker state for logging.
func (h *HTTPBaseline) State() gobreaker.State { return h.breaker.State() }

func (h *HTTPBaseline) Baseline(ctx context.Context, deviceID string) (json.RawMessage, error) {
	u := h.base + "/data/" + url.PathEscape(deviceID)
	res, err := h.breaker.Execute(func() (any, error) {
		return h.get(ctx, u)
	})
	if err != nil {
		var rerr *ExternalReadError
		if errors.As(err, &rerr) {
			return nil, rerr
		}
		return nil, &ExternalReadError{URL: u, Err: err}
	}
	return res.(json.RawMessage), nil
}

func (h *HTTPBaseline) get(ctx context.Context, u string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &ExternalReadError{URL: u, Err: err}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &ExternalReadError{URL: u, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ExternalReadError{URL: u, Status: resp.StatusCode, Err: errors.New(resp.Status)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExternalReadError{URL: u, Err: err}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return nil, &ExternalReadError{URL: u, Err: fmt.Errorf("decode baseline: %w", err)}
	}
	return json.RawMessage(buf.Bytes()), nil
}
