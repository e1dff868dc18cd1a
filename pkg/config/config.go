// Package config defines the Go-side contract for the preload
// daemon's configuration file: the struct shape and defaults every
// other package consumes. The file format itself (comments, includes,
// legacy key aliases) is out of scope per spec.md §1 — this is the
// "what values the core consumes" contract, not a config-language
// implementation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// SortStrategy names a Predictor candidate tie-break policy (§9,
// system.sortstrategy).
type SortStrategy string

const (
	SortByUtilityDensity SortStrategy = "density" // expected bytes touched per byte of budget
	SortByProbability    SortStrategy = "prob"    // P(exe) alone, ignoring map size
	SortBySize           SortStrategy = "size"    // largest maps first
)

// Model holds the §6 model.* keys.
type Model struct {
	Cycle              time.Duration `yaml:"cycle"`
	UseCorrelation     bool          `yaml:"usecorrelation"`
	MinSize            int64         `yaml:"minsize"`
	MemTotalPercent    float64       `yaml:"memtotal"`
	MemFreePercent     float64       `yaml:"memfree"`
	MemCachedPercent   float64       `yaml:"memcached"`
	SessionBootWindow  time.Duration `yaml:"sessionbootwindow"`
	SessionBootTopN    int           `yaml:"sessionboottopn"`
	SessionBootBoost   float64       `yaml:"sessionbootboost"`
	PriorityBoost      float64       `yaml:"priorityboost"`
	ManualAppBoost     float64       `yaml:"manualappboost"`
	PredictThreshold   float64       `yaml:"predictthreshold"`
}

// System holds the §6 system.* keys.
type System struct {
	DoScan       bool         `yaml:"doscan"`
	DoPredict    bool         `yaml:"dopredict"`
	Autosave     time.Duration `yaml:"autosave"`
	MapPrefix    []string     `yaml:"mapprefix"`
	ExePrefix    []string     `yaml:"exeprefix"`
	MaxProcs     int          `yaml:"maxprocs"`
	SortStrategy SortStrategy `yaml:"sortstrategy"`
	ManualApps   []string     `yaml:"manualapps"`
}

// Config is the full daemon configuration.
type Config struct {
	Model  Model  `yaml:"model"`
	System System `yaml:"system"`
}

// Default returns the out-of-the-box configuration, mirroring the
// reference daemon's defaults (original_source/src/config/confkeys.h).
func Default() *Config {
	return &Config{
		Model: Model{
			Cycle:             20 * time.Second,
			UseCorrelation:    true,
			MinSize:           4000,
			MemTotalPercent:   0,
			MemFreePercent:    50,
			MemCachedPercent:  0,
			SessionBootWindow: 3 * time.Minute,
			SessionBootTopN:   5,
			SessionBootBoost:  1.5,
			PriorityBoost:     0.2,
			ManualAppBoost:    0.3,
			PredictThreshold:  0.01,
		},
		System: System{
			DoScan:       true,
			DoPredict:    true,
			Autosave:     5 * time.Minute,
			MapPrefix:    []string{"/usr/", "/lib/", "/lib64/", "/opt/"},
			ExePrefix:    []string{"/usr/bin/", "/usr/sbin/", "/bin/", "/sbin/", "/opt/"},
			MaxProcs:     512,
			SortStrategy: SortByUtilityDensity,
			ManualApps:   nil,
		},
	}
}

// Load reads and decodes a YAML config file, filling in any field left
// at its zero value with Default()'s value for fields that must never
// be zero (Cycle, Autosave, MaxProcs) — mirroring the tolerant-legacy
// spirit of §4.5's EXE-line column defaulting, applied here to config.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Model.Cycle <= 0 {
		cfg.Model.Cycle = Default().Model.Cycle
	}
	if cfg.System.Autosave <= 0 {
		cfg.System.Autosave = Default().System.Autosave
	}
	if cfg.System.MaxProcs <= 0 {
		cfg.System.MaxProcs = Default().System.MaxProcs
	}
	return cfg, nil
}

// MemoryBudget resolves the percent budget components against a live
// osprobe.MemStat reading, per §4.4 step 3: MemTotalPercent is taken of
// total, MemFreePercent of free, and MemCachedPercent of cached memory.
// The sign of a percent is ignored (its absolute value is used); the
// three parts are summed and the result is never negative.
func (m Model) MemoryBudget(total, free, cached int64) int64 {
	var budget float64
	budget += signedPercentOf(m.MemTotalPercent, total)
	budget += signedPercentOf(m.MemFreePercent, free)
	budget += signedPercentOf(m.MemCachedPercent, cached)
	if budget < 0 {
		return 0
	}
	return int64(budget)
}

func signedPercentOf(percent float64, base int64) float64 {
	if percent == 0 {
		return 0
	}
	p := percent
	if p < 0 {
		p = -p
	}
	return (p / 100.0) * float64(base)
}
