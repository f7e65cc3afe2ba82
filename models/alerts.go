package models

import "fmt"

type AlertSeverity string

const (
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Alert is immutable once created.
type Alert struct {
	Metric    MetricName    `json:"metric"`
	Severity  AlertSeverity `json:"severity"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
	Message   string        `json:"message"`
	Timestamp int64         `json:"timestamp"` // milliseconds since epoch
}

func NewAlert(metric MetricName, severity AlertSeverity, value, threshold float64, timestamp int64) Alert {
	comparator := "above"
	if metric.Direction() == LowerIsWorse {
		comparator = "below"
	}
	return Alert{
		Metric:    metric,
		Severity:  severity,
		Value:     value,
		Threshold: threshold,
		Message:   fmt.Sprintf("%s is %.2f, %s %s threshold %.2f", metric, value, comparator, severity, threshold),
		Timestamp: timestamp,
	}
}
