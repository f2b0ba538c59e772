package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ambientstack/noisecc/internal/models"
)

// Config captures the settings required to run the correlation pipeline.
type Config struct {
	Paths       PathsConfig       `yaml:"paths"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Stacking    StackingConfig    `yaml:"stacking"`
	Rotation    RotationConfig    `yaml:"rotation"`
	Workers     int               `yaml:"workers"`
	MaxMemGB    float64           `yaml:"maxMemGB"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// PathsConfig locates input spectra and output archives.
type PathsConfig struct {
	DataDir  string `yaml:"dataDir"`
	CorrDir  string `yaml:"corrDir"`
	StackDir string `yaml:"stackDir"`
}

// CorrelationConfig controls the stage-1 correlation engine.
type CorrelationConfig struct {
	Method        string  `yaml:"method"`
	SampleRate    float64 `yaml:"sampleRate"`
	WindowLenSec  float64 `yaml:"windowLenSec"`
	StepSec       float64 `yaml:"stepSec"`
	MaxLagSec     float64 `yaml:"maxLagSec"`
	SmoothN       int     `yaml:"smoothN"`
	MaxOverStd    float64 `yaml:"maxOverStd"`
	Substack      bool    `yaml:"substack"`
	SubstackLen   float64 `yaml:"substackLenSec"`
	Selection     string  `yaml:"selection"`
	StationComps  int     `yaml:"stationComponents"`
}

// StackingConfig controls the stage-2 stacking engine.
type StackingConfig struct {
	Method        string  `yaml:"method"`
	KeepSubstacks bool    `yaml:"keepSubstacks"`
	PWSPower      float64 `yaml:"pwsPower"`
	RobustEpsilon float64 `yaml:"robustEpsilon"`
	RobustMaxIter int     `yaml:"robustMaxIter"`
	NRootOrder    int     `yaml:"nrootOrder"`
	SelectiveCC   float64 `yaml:"selectiveCC"`
}

// RotationConfig controls the ENZ to RTZ rotation step.
type RotationConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Correction     bool   `yaml:"correction"`
	CorrectionFile string `yaml:"correctionFile"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("NOISECC_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			DataDir:  "RAW_DATA",
			CorrDir:  "CCF",
			StackDir: "STACK",
		},
		Correlation: CorrelationConfig{
			Method:       "deconv",
			SampleRate:   2,
			WindowLenSec: 1800,
			StepSec:      450,
			MaxLagSec:    200,
			SmoothN:      10,
			MaxOverStd:   10,
			Substack:     true,
			SubstackLen:  1800,
			Selection:    "all",
			StationComps: 3,
		},
		Stacking: StackingConfig{
			Method:        "linear",
			KeepSubstacks: false,
			PWSPower:      2,
			RobustEpsilon: 1e-6,
			RobustMaxIter: 10,
			NRootOrder:    2,
			SelectiveCC:   0.3,
		},
		Rotation: RotationConfig{Enabled: true, Correction: false},
		Workers:  4,
		MaxMemGB: 4.0,
		Metrics:  MetricsConfig{Address: ":2112"},
		Logging:  LoggingConfig{Level: "info", JSON: false},
	}
}

// Validate rejects configurations the engines cannot honour.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.MaxMemGB <= 0 {
		return fmt.Errorf("maxMemGB must be positive, got %g", c.MaxMemGB)
	}
	cc := c.Correlation
	if cc.SampleRate <= 0 {
		return fmt.Errorf("correlation.sampleRate must be positive, got %g", cc.SampleRate)
	}
	if cc.WindowLenSec <= 0 || cc.StepSec <= 0 {
		return fmt.Errorf("correlation window/step must be positive, got %g/%g", cc.WindowLenSec, cc.StepSec)
	}
	if cc.MaxLagSec <= 0 {
		return fmt.Errorf("correlation.maxLagSec must be positive, got %g", cc.MaxLagSec)
	}
	if cc.MaxLagSec > cc.WindowLenSec {
		return fmt.Errorf("correlation.maxLagSec %g exceeds window length %g", cc.MaxLagSec, cc.WindowLenSec)
	}
	if cc.SmoothN < 1 {
		return fmt.Errorf("correlation.smoothN must be >= 1, got %d", cc.SmoothN)
	}
	if cc.MaxOverStd <= 0 {
		return fmt.Errorf("correlation.maxOverStd must be positive, got %g", cc.MaxOverStd)
	}
	if cc.Substack && cc.SubstackLen < cc.WindowLenSec {
		return fmt.Errorf("correlation.substackLenSec %g is shorter than one window %g", cc.SubstackLen, cc.WindowLenSec)
	}
	if cc.StationComps != 1 && cc.StationComps != 3 {
		return fmt.Errorf("correlation.stationComponents must be 1 or 3, got %d", cc.StationComps)
	}
	if _, err := models.ParseCCMethod(cc.Method); err != nil {
		return err
	}
	if _, err := models.ParseSelectionPolicy(cc.Selection); err != nil {
		return err
	}
	if _, err := models.ParseStackMethod(c.Stacking.Method); err != nil {
		return err
	}
	st := c.Stacking
	if st.PWSPower <= 0 {
		return fmt.Errorf("stacking.pwsPower must be positive, got %g", st.PWSPower)
	}
	if st.NRootOrder < 1 {
		return fmt.Errorf("stacking.nrootOrder must be >= 1, got %d", st.NRootOrder)
	}
	if st.RobustMaxIter < 1 {
		return fmt.Errorf("stacking.robustMaxIter must be >= 1, got %d", st.RobustMaxIter)
	}
	if c.Rotation.Correction && !c.Rotation.Enabled {
		return fmt.Errorf("rotation.correction requires rotation.enabled")
	}
	if c.Rotation.Correction && c.Rotation.CorrectionFile == "" {
		return fmt.Errorf("rotation.correction requires rotation.correctionFile")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NOISECC_DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}
	if v := os.Getenv("NOISECC_CORR_DIR"); v != "" {
		cfg.Paths.CorrDir = v
	}
	if v := os.Getenv("NOISECC_STACK_DIR"); v != "" {
		cfg.Paths.StackDir = v
	}
	if v := os.Getenv("NOISECC_CC_METHOD"); v != "" {
		cfg.Correlation.Method = v
	}
	if v := os.Getenv("NOISECC_STACK_METHOD"); v != "" {
		cfg.Stacking.Method = v
	}
	if v := os.Getenv("NOISECC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("NOISECC_MAX_MEM_GB"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MaxMemGB = f
		}
	}
	if v := os.Getenv("NOISECC_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
	if v := os.Getenv("NOISECC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NOISECC_LOG_FORMAT"); strings.EqualFold(v, "json") {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("NOISECC_ROTATION"); v != "" {
		cfg.Rotation.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
}
