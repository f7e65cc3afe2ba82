package models

const (
	UnitPercentage   = "percentage"
	UnitBytes        = "bytes"
	UnitNum          = "num"
	UnitMilliseconds = "milliseconds"
	UnitFPS          = "fps"
)

// SystemMetrics is always populated on a successful capture.
type SystemMetrics struct {
	CPUUsagePercent    float64    `json:"cpu_usage_percent"`
	LoadAverages       [3]float64 `json:"load_averages"`
	MemoryUsedBytes    uint64     `json:"memory_used_bytes"`
	MemoryTotalBytes   uint64     `json:"memory_total_bytes"`
	MemoryUsagePercent float64    `json:"memory_usage_percent"`
	ProcessHeapUsed    uint64     `json:"process_heap_used"`
	ProcessHeapTotal   uint64     `json:"process_heap_total"`
	UptimeSeconds      uint64     `json:"uptime_seconds"`
}

// ApplicationMetrics is nil on a snapshot when the monitored application
// was not reachable at capture time.
type ApplicationMetrics struct {
	FPS            float64 `json:"fps"`
	JankEventCount float64 `json:"jank_event_count"`
	PaintTimeMs    float64 `json:"paint_time_ms"`
	RequestCount   float64 `json:"request_count"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	ErrorRate      float64 `json:"error_rate"`
	ErrorCount     float64 `json:"error_count"`
}

type MetricSnapshot struct {
	Timestamp   int64               `json:"timestamp"` // milliseconds since epoch
	System      SystemMetrics       `json:"system"`
	Application *ApplicationMetrics `json:"application,omitempty"`
}

func (s *MetricSnapshot) GetTimestamp() int64 {
	return s.Timestamp
}

// Value returns the scalar series value for the given metric, or false when
// the snapshot does not carry that metric (e.g. application unreachable).
func (s *MetricSnapshot) Value(name MetricName) (float64, bool) {
	switch name {
	case MetricNameCPU:
		return s.System.CPUUsagePercent, true
	case MetricNameMemory:
		return s.System.MemoryUsagePercent, true
	case MetricNameFPS:
		if s.Application == nil {
			return 0, false
		}
		return s.Application.FPS, true
	case MetricNameJank:
		if s.Application == nil {
			return 0, false
		}
		return s.Application.JankEventCount, true
	}
	return 0, false
}
