package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/tailgate-core/internal/statemachine"
)

// SystemMetrics represents the complete system metrics response.
// Prometheus collectors are served separately on /metrics.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     HubStats        `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Tailgate      TailgateMetrics `json:"tailgate"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled       bool `json:"enabled"`
	Connected     bool `json:"connected"`
	Subscriptions int  `json:"subscriptions"`
}

// TailgateMetrics summarises the control core.
type TailgateMetrics struct {
	State            statemachine.State `json:"state"`
	TimeInStateMS    int64              `json:"time_in_state_ms"`
	ActiveFaults     int                `json:"active_faults"`
	Configs          int                `json:"configs"`
	EngineRunning    bool               `json:"engine_running"`
	ActiveMonitors   int                `json:"active_monitors"`
	MonitorsStarted  int64              `json:"monitors_started"`
	SequenceRunning  bool               `json:"sequence_running"`
	SequenceQueueLen int                `json:"sequence_queue_len"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Tailgate: TailgateMetrics{
			State:         s.machine.Current(),
			TimeInStateMS: s.machine.TimeInState().Milliseconds(),
			ActiveFaults:  len(s.store.Faults()),
		},
	}

	if s.hub != nil {
		metrics.WebSocket = s.hub.Stats()
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Enabled:       true,
			Connected:     s.mqtt.IsConnected(),
			Subscriptions: s.mqtt.SubscriptionCount(),
		}
	}

	if s.library != nil {
		metrics.Tailgate.Configs = s.library.Count()
	}
	if s.engine != nil {
		metrics.Tailgate.EngineRunning = s.engine.IsRunning()
	}
	if s.monitors != nil {
		metrics.Tailgate.ActiveMonitors = s.monitors.ActiveCount()
		metrics.Tailgate.MonitorsStarted = s.monitors.StartedTotal()
	}
	if s.orchestrator != nil {
		status := s.orchestrator.Status()
		metrics.Tailgate.SequenceRunning = status.Executing
		metrics.Tailgate.SequenceQueueLen = len(status.Queue)
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
