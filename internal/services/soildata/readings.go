package soildata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// Reading is one scan as stored in Influx.
type Reading struct {
	Time   string             `json:"time"`
	PlotID string             `json:"plot_id"`
	Values map[string]float64 `json:"values"`
}

// validRoverID limits ids to characters that are inert inside a Flux string.
var validRoverID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type readingsQuery struct {
	Minutes   int
	Limit     int
	TimeoutMS int
}

func parseReadingsQuery(r *http.Request) readingsQuery {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if max > 0 && n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	return readingsQuery{
		Minutes:   get("minutes", 1440, 1, 30*24*60),
		Limit:     get("limit", 50, 1, 1000),
		TimeoutMS: get("timeout_ms", 2000, 200, 10000),
	}
}

func readingsFlux(bucket, roverID string, minutes, limit int) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q and r.rover_id == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)
`, bucket, minutes, measurement, roverID, limit)
}

// NewReadingsHandler serves GET /readings/{id}?minutes=1440&limit=50 from Influx.
// Query failures answer an empty list with an X-Error header.
func NewReadingsHandler(influx influxdb2.Client, org, bucket string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.PathValue("id"))
		if !validRoverID.MatchString(id) {
			http.Error(w, "invalid rover id", http.StatusBadRequest)
			return
		}
		p := parseReadingsQuery(r)
		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		res, err := influx.QueryAPI(org).Query(ctx, readingsFlux(bucket, id, p.Minutes, p.Limit))
		if err != nil {
			log.Printf("soildata: readings query for %s: %v", id, err)
			w.Header().Set("X-Error", "influx-query-error")
			_, _ = w.Write([]byte("[]"))
			return
		}
		defer res.Close()

		out := make([]Reading, 0, p.Limit)
		for res.Next() {
			rec := res.Record()
			rd := Reading{
				Time:   rec.Time().UTC().Format(time.RFC3339),
				Values: map[string]float64{},
			}
			for k, v := range rec.Values() {
				switch {
				case k == "plot_id":
					if s, ok := v.(string); ok {
						rd.PlotID = s
					}
				case k == "rover_id" || k == "result" || k == "table" || strings.HasPrefix(k, "_"):
				default:
					if f, ok := v.(float64); ok {
						rd.Values[k] = f
					}
				}
			}
			out = append(out, rd)
		}
		if res.Err() != nil {
			w.Header().Set("X-Error", "influx-iter-error")
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Time > out[j].Time })
		_ = json.NewEncoder(w).Encode(out)
	})
}
