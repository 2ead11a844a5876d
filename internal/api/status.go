package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemStatus represents the complete status response.
type SystemStatus struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Client        ClientMetrics   `json:"client"`
	Database      *DatabaseStatus `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// ClientMetrics describes the CmControl client.
type ClientMetrics struct {
	Device          string `json:"device"`
	Connected       bool   `json:"connected"`
	Session         string `json:"session"`
	TokenValid      bool   `json:"token_valid"`
	PendingRequests int    `json:"pending_requests"`
}

// DatabaseStatus contains journal database connection pool statistics.
type DatabaseStatus struct {
	Path            string `json:"path"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
}

// handleStatus returns runtime, client and journal statistics.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Client: ClientMetrics{
			Device:          s.device.Device(),
			Connected:       s.device.IsConnected(),
			Session:         s.device.SessionState().String(),
			TokenValid:      s.device.IsTokenValid(),
			PendingRequests: s.device.PendingRequests(),
		},
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		status.Database = &DatabaseStatus{
			Path:            s.db.Path(),
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, status)
}
