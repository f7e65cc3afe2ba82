package alerter

import (
	"sync"

	"perfmonitor/models"

	"code.cloudfoundry.org/lager/v3"
)

// Evaluator checks snapshots against the current thresholds and owns the
// capped, append-only alert log. It does not debounce: every tick that
// breaches a threshold produces its own Alert, and callers wanting
// hysteresis must post-filter the alert stream.
type Evaluator struct {
	logger   lager.Logger
	capacity int

	lock   sync.RWMutex
	alerts []models.Alert
}

func NewEvaluator(logger lager.Logger, capacity int) *Evaluator {
	return &Evaluator{
		logger:   logger.Session("alert-evaluator"),
		capacity: capacity,
	}
}

// Evaluate returns the alerts raised by the snapshot, already appended to
// the log. Metrics absent from the snapshot raise nothing.
func (e *Evaluator) Evaluate(snapshot *models.MetricSnapshot, thresholds map[models.MetricName]models.Threshold) []models.Alert {
	raised := []models.Alert{}

	for _, metric := range models.MonitoredMetrics {
		t, ok := thresholds[metric]
		if !ok {
			continue
		}
		value, ok := snapshot.Value(metric)
		if !ok {
			continue
		}

		severity, bound, breached := checkForBreach(metric.Direction(), value, t)
		if !breached {
			continue
		}

		alert := models.NewAlert(metric, severity, value, bound, snapshot.Timestamp)
		raised = append(raised, alert)
		e.logger.Info("alert-raised", lager.Data{"metric": metric, "severity": severity, "value": value, "threshold": bound})
	}

	if len(raised) > 0 {
		e.append(raised)
	}
	return raised
}

func checkForBreach(direction models.MetricDirection, value float64, t models.Threshold) (models.AlertSeverity, float64, bool) {
	switch direction {
	case models.HigherIsWorse:
		if value > t.Critical {
			return models.AlertSeverityCritical, t.Critical, true
		}
		if value > t.Warning {
			return models.AlertSeverityWarning, t.Warning, true
		}
	case models.LowerIsWorse:
		if value < t.Critical {
			return models.AlertSeverityCritical, t.Critical, true
		}
		if value < t.Warning {
			return models.AlertSeverityWarning, t.Warning, true
		}
	}
	return "", 0, false
}

func (e *Evaluator) append(raised []models.Alert) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.alerts = append(e.alerts, raised...)
	if overflow := len(e.alerts) - e.capacity; overflow > 0 {
		e.alerts = e.alerts[overflow:]
	}
}

// Restore seeds the log from persisted alerts (warm restart).
func (e *Evaluator) Restore(alerts []models.Alert) {
	if len(alerts) == 0 {
		return
	}
	e.append(alerts)
}

// Alerts returns a copy of the log, oldest first.
func (e *Evaluator) Alerts() []models.Alert {
	e.lock.RLock()
	defer e.lock.RUnlock()

	alerts := make([]models.Alert, len(e.alerts))
	copy(alerts, e.alerts)
	return alerts
}

func (e *Evaluator) AlertCount() int {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return len(e.alerts)
}
