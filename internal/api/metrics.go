package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/geeny-gateway/internal/metrics"
)

// SystemMetrics is the body of GET /api/v1/metrics. The Prometheus
// exposition is served separately on /metrics.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Things        ThingMetrics      `json:"things"`
	LoggedIn      bool              `json:"logged_in"`
	WSClients     int               `json:"ws_clients"`
	Goroutines    int               `json:"goroutines"`
	HeapMB        float64           `json:"heap_mb"`
	Bridge        *metrics.Snapshot `json:"bridge,omitempty"`
	Database      *DatabaseMetrics  `json:"database,omitempty"`
}

// ThingMetrics counts registered things by bridge state.
type ThingMetrics struct {
	Registered int `json:"registered"`
	Connected  int `json:"connected"`
	Publishing int `json:"publishing"`
}

// DatabaseMetrics reports the registration cache's connection pool.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		LoggedIn:      s.gw.IsLoggedIn(),
		WSClients:     s.hub.ClientCount(),
		Goroutines:    runtime.NumGoroutine(),
		HeapMB:        float64(mem.HeapAlloc) / (1 << 20),
	}

	for _, t := range s.gw.RegisteredThings() {
		resp.Things.Registered++
		if s.gw.IsThingConnected(t.Info()) {
			resp.Things.Connected++
		}
		if len(t.Publishing()) > 0 {
			resp.Things.Publishing++
		}
	}

	if s.metrics != nil {
		if snap, err := s.metrics.Snapshot(); err != nil {
			s.logger.Warn("reading metrics snapshot", "error", err)
		} else {
			resp.Bridge = &snap
		}
	}

	if s.db != nil {
		st := s.db.Stats()
		resp.Database = &DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
