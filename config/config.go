package config

import (
	"fmt"
	"io"
	"time"

	"perfmonitor/helpers"
	"perfmonitor/models"

	"gopkg.in/yaml.v2"
)

const (
	DefaultLoggingLevel             = "info"
	DefaultServerPort               = 8080
	DefaultHealthPort               = 8081
	DefaultCollectInterval          = 5 * time.Second
	DefaultRetentionCheckInterval   = 1 * time.Hour
	DefaultRetentionDays            = 7
	DefaultMaxHistorySize           = 1000
	DefaultMinSamplesForDynamic     = 50
	DefaultThresholdUpdateEvery     = 100
	DefaultAlertLogCapacity         = 1000
	DefaultLoadRecentDays           = 2
	DefaultDataDir                  = "perfmonitor-data"
	DefaultAppMetricsTimeout        = 2 * time.Second
	DefaultPersistQueueSize         = 64
	DefaultBreakerFailureThreshold  = 3
)

// DefaultStaticThresholds are the configuration-supplied bounds used both as
// fallback when history is too thin and as safety rails for derived bounds.
var DefaultStaticThresholds = map[models.MetricName]models.StaticThreshold{
	models.MetricNameCPU:    {Warning: 70, Critical: 90},
	models.MetricNameMemory: {Warning: 75, Critical: 90},
	models.MetricNameFPS:    {Warning: 45, Critical: 30},
	models.MetricNameJank:   {Warning: 5, Critical: 15},
}

type ServerConfig struct {
	Port int `yaml:"port" json:"port"`
}

type HealthConfig struct {
	Port int `yaml:"port" json:"port"`
}

type MonitorConfig struct {
	DataDir                 string                                       `yaml:"data_dir" json:"data_dir"`
	CollectInterval         time.Duration                                `yaml:"collect_interval" json:"collect_interval"`
	RetentionCheckInterval  time.Duration                                `yaml:"retention_check_interval" json:"retention_check_interval"`
	RetentionDays           int                                          `yaml:"retention_days" json:"retention_days"`
	MaxHistorySize          int                                          `yaml:"max_history_size" json:"max_history_size"`
	LoadRecentDays          int                                          `yaml:"load_recent_days" json:"load_recent_days"`
	EnableDynamicThresholds bool                                         `yaml:"enable_dynamic_thresholds" json:"enable_dynamic_thresholds"`
	MinSamplesForDynamic    int                                          `yaml:"min_samples_for_dynamic_thresholds" json:"min_samples_for_dynamic_thresholds"`
	ThresholdUpdateEvery    int                                          `yaml:"threshold_update_every" json:"threshold_update_every"`
	AlertLogCapacity        int                                          `yaml:"alert_log_capacity" json:"alert_log_capacity"`
	AlertThresholds         map[models.MetricName]models.StaticThreshold `yaml:"alert_thresholds" json:"alert_thresholds"`
	AppMetricsTimeout       time.Duration                                `yaml:"app_metrics_timeout" json:"app_metrics_timeout"`
	PersistQueueSize        int                                          `yaml:"persist_queue_size" json:"persist_queue_size"`
}

type Config struct {
	Logging helpers.LoggingConfig `yaml:"logging" json:"logging"`
	Server  ServerConfig          `yaml:"server" json:"server"`
	Health  HealthConfig          `yaml:"health" json:"health"`
	Monitor MonitorConfig         `yaml:"monitor" json:"monitor"`
}

func defaultConfig() Config {
	return Config{
		Logging: helpers.LoggingConfig{Level: DefaultLoggingLevel},
		Server:  ServerConfig{Port: DefaultServerPort},
		Health:  HealthConfig{Port: DefaultHealthPort},
		Monitor: MonitorConfig{
			DataDir:                 DefaultDataDir,
			CollectInterval:         DefaultCollectInterval,
			RetentionCheckInterval:  DefaultRetentionCheckInterval,
			RetentionDays:           DefaultRetentionDays,
			MaxHistorySize:          DefaultMaxHistorySize,
			LoadRecentDays:          DefaultLoadRecentDays,
			EnableDynamicThresholds: true,
			MinSamplesForDynamic:    DefaultMinSamplesForDynamic,
			ThresholdUpdateEvery:    DefaultThresholdUpdateEvery,
			AlertLogCapacity:        DefaultAlertLogCapacity,
			AlertThresholds:         DefaultStaticThresholds,
			AppMetricsTimeout:       DefaultAppMetricsTimeout,
			PersistQueueSize:        DefaultPersistQueueSize,
		},
	}
}

func LoadConfig(reader io.Reader) (*Config, error) {
	conf := defaultConfig()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	err = yaml.UnmarshalStrict(bytes, &conf)
	if err != nil {
		return nil, err
	}

	return &conf, nil
}

func (c *Config) Validate() error {
	if c.Monitor.CollectInterval <= 0 {
		return fmt.Errorf("Configuration error: collect_interval is less than or equal to 0")
	}
	if c.Monitor.RetentionCheckInterval <= 0 {
		return fmt.Errorf("Configuration error: retention_check_interval is less than or equal to 0")
	}
	if c.Monitor.RetentionDays <= 0 {
		return fmt.Errorf("Configuration error: retention_days is less than or equal to 0")
	}
	if c.Monitor.MaxHistorySize <= 0 {
		return fmt.Errorf("Configuration error: max_history_size is less than or equal to 0")
	}
	if c.Monitor.LoadRecentDays < 0 {
		return fmt.Errorf("Configuration error: load_recent_days is less than 0")
	}
	if c.Monitor.MinSamplesForDynamic <= 0 {
		return fmt.Errorf("Configuration error: min_samples_for_dynamic_thresholds is less than or equal to 0")
	}
	if c.Monitor.ThresholdUpdateEvery <= 0 {
		return fmt.Errorf("Configuration error: threshold_update_every is less than or equal to 0")
	}
	if c.Monitor.AlertLogCapacity <= 0 {
		return fmt.Errorf("Configuration error: alert_log_capacity is less than or equal to 0")
	}
	if c.Monitor.DataDir == "" {
		return fmt.Errorf("Configuration error: data_dir is empty")
	}
	if len(c.Monitor.AlertThresholds) == 0 {
		return fmt.Errorf("Configuration error: alert_thresholds is empty")
	}
	for metric, bounds := range c.Monitor.AlertThresholds {
		switch metric.Direction() {
		case models.HigherIsWorse:
			if bounds.Critical < bounds.Warning {
				return fmt.Errorf("Configuration error: alert_thresholds.%s critical is less than warning", metric)
			}
		case models.LowerIsWorse:
			if bounds.Critical > bounds.Warning {
				return fmt.Errorf("Configuration error: alert_thresholds.%s critical is greater than warning", metric)
			}
		}
	}
	return nil
}
