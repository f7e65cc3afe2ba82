package threshold

import (
	"math"
	"sort"
	"sync"

	"perfmonitor/models"

	"code.cloudfoundry.org/lager/v3"
)

// Engine derives per-metric alarm bounds from the historical distribution of
// each metric. The statically configured bounds double as safety rails: a
// derived ceiling may never rise above them and a derived floor may never
// sink below them, so a degraded history cannot relax its own alarm.
type Engine struct {
	logger     lager.Logger
	enabled    bool
	minSamples int
	static     map[models.MetricName]models.StaticThreshold

	lock    sync.RWMutex
	current map[models.MetricName]models.Threshold
}

func NewEngine(logger lager.Logger, static map[models.MetricName]models.StaticThreshold, minSamples int, enableDynamic bool) *Engine {
	e := &Engine{
		logger:     logger.Session("threshold-engine"),
		enabled:    enableDynamic,
		minSamples: minSamples,
		static:     static,
	}
	e.current = e.staticThresholds()
	return e
}

func (e *Engine) staticThresholds() map[models.MetricName]models.Threshold {
	thresholds := map[models.MetricName]models.Threshold{}
	for metric, bounds := range e.static {
		thresholds[metric] = models.Threshold{
			Metric:   metric,
			Warning:  bounds.Warning,
			Critical: bounds.Critical,
		}
	}
	return thresholds
}

// Recompute derives thresholds from the given history and installs them as
// the current set. Metrics with fewer than minSamples values keep their
// static fallback, unmarked with a baseline.
func (e *Engine) Recompute(history []*models.MetricSnapshot) map[models.MetricName]models.Threshold {
	thresholds := map[models.MetricName]models.Threshold{}

	for metric, bounds := range e.static {
		series := extractSeries(history, metric)
		if !e.enabled || len(series) < e.minSamples {
			thresholds[metric] = models.Threshold{
				Metric:   metric,
				Warning:  bounds.Warning,
				Critical: bounds.Critical,
			}
			continue
		}
		thresholds[metric] = derive(metric, bounds, series)
	}

	e.lock.Lock()
	e.current = thresholds
	e.lock.Unlock()

	e.logger.Debug("recomputed", lager.Data{"historySize": len(history), "thresholds": thresholds})
	return thresholds
}

// Current returns a copy of the installed threshold set.
func (e *Engine) Current() map[models.MetricName]models.Threshold {
	e.lock.RLock()
	defer e.lock.RUnlock()

	thresholds := make(map[models.MetricName]models.Threshold, len(e.current))
	for metric, t := range e.current {
		thresholds[metric] = t
	}
	return thresholds
}

// Restore installs a previously persisted threshold set (warm restart).
func (e *Engine) Restore(thresholds map[models.MetricName]models.Threshold) {
	if len(thresholds) == 0 {
		return
	}
	e.lock.Lock()
	e.current = thresholds
	e.lock.Unlock()
}

func extractSeries(history []*models.MetricSnapshot, metric models.MetricName) []float64 {
	series := []float64{}
	for _, snapshot := range history {
		if value, ok := snapshot.Value(metric); ok {
			series = append(series, value)
		}
	}
	return series
}

func derive(metric models.MetricName, bounds models.StaticThreshold, series []float64) models.Threshold {
	sorted := make([]float64, len(series))
	copy(sorted, series)
	sort.Float64s(sorted)

	baseline := &models.Baseline{
		Mean:   round2(mean(sorted)),
		P50:    round2(percentile(sorted, 0.50)),
		P75:    round2(percentile(sorted, 0.75)),
		P90:    round2(percentile(sorted, 0.90)),
		StdDev: round2(stdDev(sorted)),
	}

	p50 := percentile(sorted, 0.50)
	p75 := percentile(sorted, 0.75)
	p90 := percentile(sorted, 0.90)
	sd := stdDev(sorted)

	var warning, critical float64
	switch metric.Direction() {
	case models.HigherIsWorse:
		warning = math.Min(bounds.Warning, p75+sd)
		critical = math.Min(bounds.Critical, p90+sd)
	case models.LowerIsWorse:
		warning = math.Max(bounds.Warning, p50-sd)
		critical = math.Max(bounds.Critical, p50-2*sd)
	}

	return models.Threshold{
		Metric:   metric,
		Warning:  round2(warning),
		Critical: round2(critical),
		Baseline: baseline,
	}
}

// percentile is nearest-rank on the sorted series: sorted[floor(n*q)].
func percentile(sorted []float64, q float64) float64 {
	idx := int(math.Floor(float64(len(sorted)) * q))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func mean(series []float64) float64 {
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

// stdDev is the population formula: the square root of the mean of squared
// deviations.
func stdDev(series []float64) float64 {
	m := mean(series)
	sum := 0.0
	for _, v := range series {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(series)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
