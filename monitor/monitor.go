package monitor

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"perfmonitor/alerter"
	"perfmonitor/config"
	"perfmonitor/eventbus"
	"perfmonitor/healthendpoint"
	"perfmonitor/models"
	"perfmonitor/sampler"
	"perfmonitor/store"
	"perfmonitor/threshold"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager/v3"
)

type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// stateSnapshotCount is how many trailing snapshots monitor-state.json keeps
// for warm restart.
const stateSnapshotCount = 100

// MonitorService owns the sampling and retention loops and wires
// Sampler -> TimeSeriesStore -> ThresholdEngine -> AlertEvaluator. All
// mutation happens inside the sampling tick; queries are safe to call
// concurrently with it.
type MonitorService struct {
	logger          lager.Logger
	mclock          clock.Clock
	conf            *config.MonitorConfig
	metricSampler   sampler.MetricSampler
	seriesStore     *store.TimeSeriesStore
	engine          *threshold.Engine
	evaluator       *alerter.Evaluator
	hub             *eventbus.Hub
	statusCollector healthendpoint.MonitorStatusCollector

	stateLock             sync.RWMutex
	state                 State
	lastCollectionTime    int64
	samplesSinceRecompute int
	doneChan              chan bool
}

func NewMonitorService(logger lager.Logger, mclock clock.Clock, conf *config.MonitorConfig,
	metricSampler sampler.MetricSampler, seriesStore *store.TimeSeriesStore, engine *threshold.Engine,
	evaluator *alerter.Evaluator, hub *eventbus.Hub, statusCollector healthendpoint.MonitorStatusCollector) *MonitorService {
	return &MonitorService{
		logger:          logger.Session("monitor-service"),
		mclock:          mclock,
		conf:            conf,
		metricSampler:   metricSampler,
		seriesStore:     seriesStore,
		engine:          engine,
		evaluator:       evaluator,
		hub:             hub,
		statusCollector: statusCollector,
		state:           StateStopped,
	}
}

// Start is idempotent: calling it while the service is not stopped is a
// no-op and starts no second set of timers.
func (m *MonitorService) Start() {
	m.stateLock.Lock()
	if m.state != StateStopped {
		m.stateLock.Unlock()
		m.logger.Debug("start-ignored", lager.Data{"state": string(m.state)})
		return
	}
	m.state = StateStarting
	m.doneChan = make(chan bool)
	m.stateLock.Unlock()

	m.seriesStore.Start()
	m.seriesStore.LoadRecent(m.conf.LoadRecentDays)
	m.evaluator.Restore(m.seriesStore.LoadAlerts())
	if state := m.seriesStore.LoadState(); state != nil {
		m.engine.Restore(state.Thresholds)
	}
	if history := m.seriesStore.Snapshots(); len(history) >= m.conf.MinSamplesForDynamic {
		m.engine.Recompute(history)
	}

	m.stateLock.Lock()
	m.state = StateRunning
	m.stateLock.Unlock()

	// publish before the first tick so subscribers see started ahead of the
	// first metrics event
	m.hub.Publish(eventbus.Event{Type: eventbus.EventStarted})

	go m.startSampling()
	go m.startRetention()
	m.logger.Info("started", lager.Data{"collectInterval": m.conf.CollectInterval, "retentionDays": m.conf.RetentionDays})
}

// Stop is idempotent. It cancels both timers, waits for queued durable
// writes to drain and flushes monitor-state.json synchronously. A tick
// already in progress is not interrupted.
func (m *MonitorService) Stop() {
	m.stateLock.Lock()
	if m.state != StateRunning {
		m.stateLock.Unlock()
		m.logger.Debug("stop-ignored", lager.Data{"state": string(m.state)})
		return
	}
	m.state = StateStopping
	m.stateLock.Unlock()

	close(m.doneChan)

	m.seriesStore.SaveAlerts(m.evaluator.Alerts())
	m.seriesStore.Stop()

	snapshots := m.seriesStore.Snapshots()
	if len(snapshots) > stateSnapshotCount {
		snapshots = snapshots[len(snapshots)-stateSnapshotCount:]
	}
	_ = m.seriesStore.SaveState(&models.MonitorState{
		LastCollectionTime: m.LastCollectionTime(),
		RecentSnapshots:    snapshots,
		Thresholds:         m.engine.Current(),
		Config:             m.conf,
	})

	m.stateLock.Lock()
	m.state = StateStopped
	m.stateLock.Unlock()

	m.hub.Publish(eventbus.Event{Type: eventbus.EventStopped})
	m.logger.Info("stopped")
}

func (m *MonitorService) startSampling() {
	ticker := m.mclock.NewTicker(m.conf.CollectInterval)
	for {
		m.collect()
		select {
		case <-m.doneChan:
			ticker.Stop()
			return
		case <-ticker.C():
		}
	}
}

func (m *MonitorService) startRetention() {
	ticker := m.mclock.NewTicker(m.conf.RetentionCheckInterval)
	for {
		m.seriesStore.Prune(m.conf.RetentionDays)
		select {
		case <-m.doneChan:
			ticker.Stop()
			return
		case <-ticker.C():
		}
	}
}

// collect runs one tick of the pipeline. No failure in here may stop the
// timer: a bad tick is logged and skipped.
func (m *MonitorService) collect() {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("tick panic: %v", r)
			m.logger.Error("collect-recovered", err)
			m.hub.Publish(eventbus.Event{Type: eventbus.EventError, Err: err})
		}
	}()

	snapshot, err := m.metricSampler.Capture()
	if err != nil {
		m.logger.Error("collect-sample", err)
		m.statusCollector.IncSamplingFailures()
		m.hub.Publish(eventbus.Event{Type: eventbus.EventError, Err: err})
		return
	}

	m.seriesStore.Append(snapshot)
	m.statusCollector.IncCollections()
	m.statusCollector.SetHistorySize(m.seriesStore.HistorySize())

	m.stateLock.Lock()
	m.lastCollectionTime = snapshot.Timestamp
	m.samplesSinceRecompute++
	recompute := m.samplesSinceRecompute >= m.conf.ThresholdUpdateEvery
	if recompute {
		m.samplesSinceRecompute = 0
	}
	m.stateLock.Unlock()

	if recompute {
		m.engine.Recompute(m.seriesStore.Snapshots())
	}

	alerts := m.evaluator.Evaluate(snapshot, m.engine.Current())
	if len(alerts) > 0 {
		m.statusCollector.AddAlertsRaised(len(alerts))
		m.seriesStore.SaveAlerts(m.evaluator.Alerts())
		for i := range alerts {
			m.hub.Publish(eventbus.Event{Type: eventbus.EventAlert, Alert: &alerts[i]})
		}
	}

	m.hub.Publish(eventbus.Event{Type: eventbus.EventMetrics, Snapshot: snapshot})
}

func (m *MonitorService) State() State {
	m.stateLock.RLock()
	defer m.stateLock.RUnlock()
	return m.state
}

func (m *MonitorService) LastCollectionTime() int64 {
	m.stateLock.RLock()
	defer m.stateLock.RUnlock()
	return m.lastCollectionTime
}

func (m *MonitorService) Status() models.MonitorStatus {
	return models.MonitorStatus{
		State:              string(m.State()),
		LastCollectionTime: m.LastCollectionTime(),
		HistorySize:        m.seriesStore.HistorySize(),
		AlertCount:         m.evaluator.AlertCount(),
		Thresholds:         m.engine.Current(),
	}
}

// Range returns the snapshots with timestamps in [start, end].
func (m *MonitorService) Range(start, end int64) []*models.MetricSnapshot {
	return m.seriesStore.Query(start, end)
}

func (m *MonitorService) Alerts() []models.Alert {
	return m.evaluator.Alerts()
}

// Aggregate reduces the in-memory window over a trailing window like "5m",
// "1h", "24h" or "7d" to min/avg/max per metric.
func (m *MonitorService) Aggregate(window string) ([]models.MetricAggregate, error) {
	duration, err := parseWindow(window)
	if err != nil {
		return nil, err
	}

	end := m.mclock.Now().UnixMilli()
	start := end - duration.Milliseconds()
	snapshots := m.seriesStore.Query(start, end)

	result := []models.MetricAggregate{}
	for _, metric := range models.MonitoredMetrics {
		agg := models.MetricAggregate{Metric: metric, Unit: metric.Unit()}
		sum := 0.0
		for _, snapshot := range snapshots {
			value, ok := snapshot.Value(metric)
			if !ok {
				continue
			}
			if agg.Samples == 0 || value < agg.Min {
				agg.Min = value
			}
			if agg.Samples == 0 || value > agg.Max {
				agg.Max = value
			}
			sum += value
			agg.Samples++
		}
		if agg.Samples == 0 {
			continue
		}
		agg.Avg = sum / float64(agg.Samples)
		result = append(result, agg)
	}
	return result, nil
}

// Subscribe registers an event subscriber on the hub.
func (m *MonitorService) Subscribe(buffer int) (<-chan eventbus.Event, func()) {
	return m.hub.Subscribe(buffer)
}

// parseWindow understands go duration suffixes plus "d" for days.
func parseWindow(window string) (time.Duration, error) {
	if window == "" {
		return 0, fmt.Errorf("empty aggregation window")
	}
	if window[len(window)-1] == 'd' {
		days, err := strconv.Atoi(window[:len(window)-1])
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid aggregation window: %s", window)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	duration, err := time.ParseDuration(window)
	if err != nil || duration <= 0 {
		return 0, fmt.Errorf("invalid aggregation window: %s", window)
	}
	return duration, nil
}
