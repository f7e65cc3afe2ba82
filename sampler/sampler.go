package sampler

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"perfmonitor/models"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager/v3"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// AppMetricsFunc is the injected application-metrics source. Any error or
// timeout is treated as "application unreachable", never as a capture
// failure.
type AppMetricsFunc func(ctx context.Context) (*models.ApplicationMetrics, error)

type MetricSampler interface {
	Capture() (*models.MetricSnapshot, error)
}

type metricSampler struct {
	logger        lager.Logger
	sclock        clock.Clock
	appMetrics    AppMetricsFunc
	appBreaker    *circuit.Breaker
	appTimeout    time.Duration
	lastTimestamp int64
	prevCPUTimes  *cpu.TimesStat
}

func NewMetricSampler(logger lager.Logger, sclock clock.Clock, appMetrics AppMetricsFunc, appTimeout time.Duration, breakerFailures int64) MetricSampler {
	return &metricSampler{
		logger:     logger.Session("metric-sampler"),
		sclock:     sclock,
		appMetrics: appMetrics,
		appBreaker: circuit.NewConsecutiveBreaker(breakerFailures),
		appTimeout: appTimeout,
	}
}

func (s *metricSampler) Capture() (*models.MetricSnapshot, error) {
	system, err := s.captureSystem()
	if err != nil {
		return nil, err
	}

	snapshot := &models.MetricSnapshot{
		Timestamp: s.nextTimestamp(),
		System:    *system,
	}

	if s.appMetrics != nil {
		snapshot.Application = s.captureApplication()
	}

	return snapshot, nil
}

// nextTimestamp clamps to last+1 when the wall clock stalls or moves
// backward, so timestamps stay strictly increasing per sampler instance.
func (s *metricSampler) nextTimestamp() int64 {
	now := s.sclock.Now().UnixMilli()
	if now <= s.lastTimestamp {
		now = s.lastTimestamp + 1
	}
	s.lastTimestamp = now
	return now
}

func (s *metricSampler) captureSystem() (*models.SystemMetrics, error) {
	virtualMemory, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory usage: %w", err)
	}

	cpuPercent, err := s.cpuUsagePercent()
	if err != nil {
		return nil, fmt.Errorf("failed to get cpu usage: %w", err)
	}

	system := &models.SystemMetrics{
		CPUUsagePercent:  cpuPercent,
		MemoryUsedBytes:  virtualMemory.Total - virtualMemory.Free,
		MemoryTotalBytes: virtualMemory.Total,
	}
	if virtualMemory.Total > 0 {
		system.MemoryUsagePercent = float64(virtualMemory.Total-virtualMemory.Free) / float64(virtualMemory.Total) * 100
	}

	loadAvg, err := load.Avg()
	if err != nil {
		s.logger.Info("load-averages-unavailable", lager.Data{"error": err.Error()})
	} else {
		system.LoadAverages = [3]float64{loadAvg.Load1, loadAvg.Load5, loadAvg.Load15}
	}

	uptime, err := host.Uptime()
	if err != nil {
		s.logger.Info("uptime-unavailable", lager.Data{"error": err.Error()})
	} else {
		system.UptimeSeconds = uptime
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	system.ProcessHeapUsed = memStats.HeapAlloc
	system.ProcessHeapTotal = memStats.HeapSys

	return system, nil
}

// cpuUsagePercent derives usage from cumulative CPU time deltas between
// captures, clamped to [0, 100] aggregated over all logical cores. The first
// capture has no previous sample and reports 0.
func (s *metricSampler) cpuUsagePercent() (float64, error) {
	times, err := cpu.Times(false)
	if err != nil {
		return 0, err
	}
	if len(times) == 0 {
		return 0, fmt.Errorf("no cpu times reported")
	}

	current := times[0]
	previous := s.prevCPUTimes
	s.prevCPUTimes = &current

	if previous == nil {
		return 0, nil
	}

	totalDelta := current.Total() - previous.Total()
	if totalDelta <= 0 {
		return 0, nil
	}
	busyDelta := (current.Total() - current.Idle) - (previous.Total() - previous.Idle)

	percent := busyDelta / totalDelta * 100
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return percent, nil
}

func (s *metricSampler) captureApplication() *models.ApplicationMetrics {
	var appMetrics *models.ApplicationMetrics

	err := s.appBreaker.Call(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), s.appTimeout)
		defer cancel()

		m, err := s.appMetrics(ctx)
		if err != nil {
			return err
		}
		appMetrics = m
		return nil
	}, s.appTimeout)

	if err != nil {
		// unreachable application is not an error condition
		s.logger.Debug("application-metrics-unavailable", lager.Data{"error": err.Error()})
		return nil
	}
	return appMetrics
}
