package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/nerrad567/bsblan-bridge/internal/bridges/bsblan"
	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/bsblan-bridge/internal/object"
)

// bytesPerMB converts byte counts for the metrics response.
const bytesPerMB = 1024 * 1024

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                `json:"timestamp"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Runtime       RuntimeMetrics        `json:"runtime"`
	Process       ProcessMetrics        `json:"process"`
	WebSocket     WSMetrics             `json:"websocket"`
	MQTT          MQTTMetrics           `json:"mqtt"`
	Bridge        *bsblan.BridgeMetrics `json:"bridge,omitempty"`
	History       *influxdb.Stats       `json:"history,omitempty"`
	Objects       object.Stats          `json:"objects"`
}

// historyStats is implemented by the InfluxDB client.
type historyStats interface {
	Stats() influxdb.Stats
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	GoVersion     string  `json:"go_version"`
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// ProcessMetrics contains process and host statistics. Fields stay zero
// when the platform does not expose them.
type ProcessMetrics struct {
	RSSMB            float64 `json:"rss_mb"`
	CPUPercent       float64 `json:"cpu_percent"`
	SystemMemUsedPct float64 `json:"system_memory_used_percent"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// handleSystemMetrics returns runtime, process, bridge and store metrics.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			GoVersion:     runtime.Version(),
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		Process: processMetrics(),
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Objects: s.registry.GetStats(),
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Enabled:   true,
			Connected: s.mqtt.HealthCheck(r.Context()) == nil,
		}
	}

	if s.bridge != nil {
		m := s.bridge.GetMetrics()
		metrics.Bridge = &m
	}

	// Stats only; HealthCheck would consume a pending write failure.
	if h, ok := s.influx.(historyStats); ok {
		st := h.Stats()
		metrics.History = &st
	}

	writeJSON(w, http.StatusOK, metrics)
}

// processMetrics samples the current process and host memory.
func processMetrics() ProcessMetrics {
	var pm ProcessMetrics

	if vmem, err := mem.VirtualMemory(); err == nil {
		pm.SystemMemUsedPct = vmem.UsedPercent
	}

	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return pm
	}
	if memInfo, err := p.MemoryInfo(); err == nil {
		pm.RSSMB = float64(memInfo.RSS) / bytesPerMB
	}
	if cpu, err := p.CPUPercent(); err == nil {
		pm.CPUPercent = cpu
	}
	return pm
}
