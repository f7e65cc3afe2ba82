package models

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MetricAggregate is the min/avg/max reduction of one metric over a window.
type MetricAggregate struct {
	Metric  MetricName `json:"metric"`
	Unit    string     `json:"unit"`
	Min     float64    `json:"min"`
	Avg     float64    `json:"avg"`
	Max     float64    `json:"max"`
	Samples int        `json:"samples"`
}

// MonitorStatus is the read-only view returned by MonitorService.Status.
type MonitorStatus struct {
	State              string                   `json:"state"`
	LastCollectionTime int64                    `json:"last_collection_time"`
	HistorySize        int                      `json:"history_size"`
	AlertCount         int                      `json:"alert_count"`
	Thresholds         map[MetricName]Threshold `json:"thresholds"`
}

// MonitorState is the warm-restart payload written to monitor-state.json
// on Stop.
type MonitorState struct {
	LastCollectionTime int64                    `json:"last_collection_time"`
	RecentSnapshots    []*MetricSnapshot        `json:"recent_snapshots"`
	Thresholds         map[MetricName]Threshold `json:"thresholds"`
	Config             interface{}              `json:"config"`
}
