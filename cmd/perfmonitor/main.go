package main

import (
	"flag"
	"fmt"
	"os"

	"perfmonitor/alerter"
	"perfmonitor/config"
	"perfmonitor/eventbus"
	"perfmonitor/healthendpoint"
	"perfmonitor/helpers"
	"perfmonitor/monitor"
	"perfmonitor/sampler"
	"perfmonitor/server"
	"perfmonitor/store"
	"perfmonitor/threshold"

	"code.cloudfoundry.org/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tedsuo/ifrit"
	"github.com/tedsuo/ifrit/grouper"
	"github.com/tedsuo/ifrit/sigmon"
)

func main() {
	var path string
	flag.StringVar(&path, "c", "", "config file")
	flag.Parse()
	if path == "" {
		fmt.Fprintln(os.Stderr, "missing config file")
		os.Exit(1)
	}

	configFile, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stdout, "failed to open config file '%s' : %s\n", path, err.Error())
		os.Exit(1)
	}

	var conf *config.Config
	conf, err = config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stdout, "failed to read config file '%s' : %s\n", path, err.Error())
		os.Exit(1)
	}
	configFile.Close()

	err = conf.Validate()
	if err != nil {
		fmt.Fprintf(os.Stdout, "failed to validate configuration : %s\n", err.Error())
		os.Exit(1)
	}

	logger := helpers.InitLoggerFromConfig(&conf.Logging, "perfmonitor")
	pmClock := clock.NewClock()

	statusCollector := healthendpoint.NewMonitorStatusCollector("perfmonitor", "monitor")
	promRegistry := prometheus.NewRegistry()
	healthendpoint.RegisterCollectors(promRegistry, []prometheus.Collector{
		statusCollector,
	}, true, logger.Session("perfmonitor-prometheus"))

	// No renderer process feeds this build, so application metrics stay
	// absent and the evaluator skips fps and jank.
	metricSampler := sampler.NewMetricSampler(logger.Session("sampler"), pmClock, nil,
		conf.Monitor.AppMetricsTimeout, config.DefaultBreakerFailureThreshold)

	seriesStore, err := store.NewTimeSeriesStore(logger, pmClock, conf.Monitor.DataDir,
		conf.Monitor.MaxHistorySize, conf.Monitor.PersistQueueSize)
	if err != nil {
		logger.Error("failed to create time series store", err)
		os.Exit(1)
	}

	engine := threshold.NewEngine(logger.Session("threshold-engine"), conf.Monitor.AlertThresholds,
		conf.Monitor.MinSamplesForDynamic, conf.Monitor.EnableDynamicThresholds)
	evaluator := alerter.NewEvaluator(logger.Session("alert-evaluator"), conf.Monitor.AlertLogCapacity)
	hub := eventbus.NewHub(logger.Session("event-hub"))

	ms := monitor.NewMonitorService(logger, pmClock, &conf.Monitor,
		metricSampler, seriesStore, engine, evaluator, hub, statusCollector)

	monitorRunner := ifrit.RunFunc(func(signals <-chan os.Signal, ready chan<- struct{}) error {
		ms.Start()

		close(ready)

		<-signals
		ms.Stop()

		return nil
	})

	httpServer, err := server.NewServer(logger.Session("http_server"), conf.Server, ms)
	if err != nil {
		logger.Error("failed to create http server", err)
		os.Exit(1)
	}

	healthServer, err := healthendpoint.NewServer(logger.Session("health-server"), conf.Health.Port, promRegistry)
	if err != nil {
		logger.Error("failed to create health server", err)
		os.Exit(1)
	}

	members := grouper.Members{
		{Name: "monitor", Runner: monitorRunner},
		{Name: "http_server", Runner: httpServer},
		{Name: "health_server", Runner: healthServer},
	}
	process := ifrit.Invoke(sigmon.New(grouper.NewOrdered(os.Interrupt, members)))

	logger.Info("started")

	err = <-process.Wait()
	if err != nil {
		logger.Error("exited-with-failure", err)
		os.Exit(1)
	}
	logger.Info("exited")
}
