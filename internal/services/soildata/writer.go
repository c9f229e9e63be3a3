package soildata

import (
	"log"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// PointWriter is the non-blocking part of the Influx write API.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Writer wraps an Influx WriteAPI and remembers when it last failed, for /healthz and /readyz.
type Writer struct {
	api     api.WriteAPI
	mu      sync.RWMutex
	lastErr time.Time
	written int64
}

func NewWriter(w api.WriteAPI) *Writer {
	ww := &Writer{api: w, lastErr: time.Now().Add(-24 * time.Hour)}
	go func() {
		for err := range w.Errors() {
			if err == nil {
				continue
			}
			ww.mu.Lock()
			ww.lastErr = time.Now()
			ww.mu.Unlock()
			log.Printf("soildata: influx write error: %v", err)
		}
	}()
	return ww
}

func (w *Writer) WritePoint(p *write.Point) {
	w.api.WritePoint(p)
	w.mu.Lock()
	w.written++
	w.mu.Unlock()
}

// LastErrorAge is the time since the last asynchronous write failure.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

func (w *Writer) Written() int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.written
}

// Flush forces pending points out; called on shutdown.
func (w *Writer) Flush() {
	if w != nil {
		w.api.Flush()
	}
}
