package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics is the GET /api/metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Gate          GateMetrics     `json:"gate"`
	MQTT          ConnMetrics     `json:"mqtt"`
	InfluxDB      ConnMetrics     `json:"influxdb"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// GateMetrics counts the in-memory access state.
type GateMetrics struct {
	Sessions          int  `json:"sessions"`
	Online            int  `json:"online"`
	KeyGrants         int  `json:"key_grants"`
	ContentLoaded     bool `json:"content_loaded"`
	KillSwitchEnabled bool `json:"kill_switch_enabled"`
}

// ConnMetrics reports an optional backend link.
type ConnMetrics struct {
	Connected bool `json:"connected"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns process and gate statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	_, loaded := s.vault.Info()
	metrics := SystemMetrics{
		Timestamp:     s.clock().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(s.clock().Sub(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Gate: GateMetrics{
			Sessions:          s.auth.Sessions().Count(),
			Online:            s.registry.Len(),
			KeyGrants:         s.vault.GrantCount(),
			ContentLoaded:     loaded,
			KillSwitchEnabled: s.vault.KillSwitchEnabled(),
		},
		InfluxDB: ConnMetrics{Connected: s.influx.IsConnected()},
	}
	if s.mqtt != nil {
		metrics.MQTT.Connected = s.mqtt.IsConnected()
	}
	if s.db != nil {
		st := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
