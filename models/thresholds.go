package models

type MetricName string

const (
	MetricNameCPU    MetricName = "cpu"
	MetricNameMemory MetricName = "memory"
	MetricNameFPS    MetricName = "fps"
	MetricNameJank   MetricName = "jank"
)

type MetricDirection int

const (
	// HigherIsWorse metrics alarm above a ceiling (cpu, memory, jank).
	HigherIsWorse MetricDirection = iota
	// LowerIsWorse metrics alarm below a floor (fps).
	LowerIsWorse
)

// MonitoredMetrics lists every metric the engine derives thresholds for.
var MonitoredMetrics = []MetricName{MetricNameCPU, MetricNameMemory, MetricNameFPS, MetricNameJank}

func (m MetricName) Direction() MetricDirection {
	if m == MetricNameFPS {
		return LowerIsWorse
	}
	return HigherIsWorse
}

func (m MetricName) Unit() string {
	switch m {
	case MetricNameCPU, MetricNameMemory:
		return UnitPercentage
	case MetricNameFPS:
		return UnitFPS
	default:
		return UnitNum
	}
}

// Baseline records the distribution a dynamic threshold was derived from.
// It is nil on static fallback thresholds.
type Baseline struct {
	Mean   float64 `json:"mean"`
	P50    float64 `json:"p50"`
	P75    float64 `json:"p75"`
	P90    float64 `json:"p90"`
	StdDev float64 `json:"std_dev"`
}

// Threshold is the current alarm bound pair for one metric. For ceiling
// metrics Warning <= Critical; for floor metrics Warning >= Critical.
type Threshold struct {
	Metric   MetricName `json:"metric"`
	Warning  float64    `json:"warning"`
	Critical float64    `json:"critical"`
	Baseline *Baseline  `json:"baseline,omitempty"`
}

// StaticThreshold is the configuration-supplied bound pair. It doubles as
// the safety rail a derived threshold may never relax beyond.
type StaticThreshold struct {
	Warning  float64 `yaml:"warning" json:"warning"`
	Critical float64 `yaml:"critical" json:"critical"`
}
