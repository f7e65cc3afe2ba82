package healthendpoint

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MonitorStatusCollector tracks the engine's own vitals: ticks collected,
// ticks skipped on sampling failure, alerts raised and the current window
// size.
type MonitorStatusCollector interface {
	prometheus.Collector
	IncCollections()
	IncSamplingFailures()
	AddAlertsRaised(count int)
	SetHistorySize(size int)
}

type monitorStatusCollector struct {
	collectionsTotal      prometheus.Counter
	samplingFailuresTotal prometheus.Counter
	alertsRaisedTotal     prometheus.Counter
	historySizeGauge      prometheus.Gauge
}

func NewMonitorStatusCollector(namespace, subSystem string) MonitorStatusCollector {
	return &monitorStatusCollector{
		collectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subSystem,
				Name:      "collections_total",
				Help:      "Number of metric snapshots collected",
			}),
		samplingFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subSystem,
				Name:      "sampling_failures_total",
				Help:      "Number of ticks skipped because metric capture failed",
			}),
		alertsRaisedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subSystem,
				Name:      "alerts_raised_total",
				Help:      "Number of alerts raised",
			}),
		historySizeGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subSystem,
				Name:      "history_size",
				Help:      "Number of snapshots in the in-memory window",
			}),
	}
}

func (c *monitorStatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.collectionsTotal.Desc()
	ch <- c.samplingFailuresTotal.Desc()
	ch <- c.alertsRaisedTotal.Desc()
	ch <- c.historySizeGauge.Desc()
}

func (c *monitorStatusCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- c.collectionsTotal
	ch <- c.samplingFailuresTotal
	ch <- c.alertsRaisedTotal
	ch <- c.historySizeGauge
}

func (c *monitorStatusCollector) IncCollections() {
	c.collectionsTotal.Inc()
}

func (c *monitorStatusCollector) IncSamplingFailures() {
	c.samplingFailuresTotal.Inc()
}

func (c *monitorStatusCollector) AddAlertsRaised(count int) {
	c.alertsRaisedTotal.Add(float64(count))
}

func (c *monitorStatusCollector) SetHistorySize(size int) {
	c.historySizeGauge.Set(float64(size))
}
