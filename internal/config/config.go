package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rewired-gh/chodetect/internal/activity"
	"github.com/rewired-gh/chodetect/internal/detector"
	"github.com/rewired-gh/chodetect/internal/evaluation"
	"github.com/rewired-gh/chodetect/internal/models"
	"github.com/rewired-gh/chodetect/internal/monitor"
)

// Config represents the complete application configuration
type Config struct {
	Detector   DetectorConfig   `mapstructure:"detector"`
	Confirmer  ConfirmerConfig  `mapstructure:"confirmer"`
	Activity   ActivityConfig   `mapstructure:"activity"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DetectorConfig holds the activation state machine and level classification
type DetectorConfig struct {
	Signal              string    `mapstructure:"signal"`
	WindowSize          int       `mapstructure:"window_size"`
	GapSize             int       `mapstructure:"gap_size"`
	Thresholds          []float64 `mapstructure:"thresholds"` // slope per minute, low then high
	Weights             []float64 `mapstructure:"weights"`
	ActivationThreshold float64   `mapstructure:"activation_threshold"`
	Descending          bool      `mapstructure:"descending"`
	Edges               bool      `mapstructure:"edges"`
	LowLevel            float64   `mapstructure:"low_level"`
	HighLevel           float64   `mapstructure:"high_level"`
}

// ConfirmerConfig holds the sequence-model confirmation
type ConfirmerConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	ModelPath string  `mapstructure:"model_path"`
	Window    int     `mapstructure:"window"`
	Threshold float64 `mapstructure:"threshold"`
}

// SignalThreshold enables one wearable signal for activity detection
type SignalThreshold struct {
	Enabled   bool    `mapstructure:"enabled"`
	Threshold float64 `mapstructure:"threshold"`
}

// ActivityConfig holds the physical-activity detector
type ActivityConfig struct {
	Enabled       bool            `mapstructure:"enabled"`
	Heartbeat     SignalThreshold `mapstructure:"heartbeat"`
	Steps         SignalThreshold `mapstructure:"steps"`
	Acceleration  SignalThreshold `mapstructure:"acceleration"`
	Electrodermal SignalThreshold `mapstructure:"electrodermal"`
	MeanWindow    int             `mapstructure:"mean_window"`
	Edges         bool            `mapstructure:"edges"`
	EdgeThreshold float64         `mapstructure:"edge_threshold"`
}

// EvaluationConfig holds the scoring windows in minutes
type EvaluationConfig struct {
	ReferenceSignal       string  `mapstructure:"reference_signal"`
	DetectionSignal       string  `mapstructure:"detection_signal"`
	MaxDelay              float64 `mapstructure:"max_delay"`
	FPDelay               float64 `mapstructure:"fp_delay"`
	LateDelay             float64 `mapstructure:"late_delay"`
	MinRef                int     `mapstructure:"min_ref"`
	DropCount             int     `mapstructure:"drop_count"`
	DetectionThreshold    float64 `mapstructure:"detection_threshold"`
	ConfirmationThreshold float64 `mapstructure:"confirmation_threshold"`
}

// MonitorConfig holds pipeline bookkeeping
type MonitorConfig struct {
	RecordDetections   bool `mapstructure:"record_detections"`
	CheckpointInterval int  `mapstructure:"checkpoint_interval"` // events between checkpoints, 0 = only on shutdown
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	PerMinute  int           `mapstructure:"per_minute"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DBPath        string `mapstructure:"db_path"`
	MaxReports    int    `mapstructure:"max_reports"`
	MaxDetections int    `mapstructure:"max_detections"`
}

// MetricsConfig holds the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file, .env, and environment variables.
// An empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHODETECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	dp := detector.DefaultParams()
	cp := detector.DefaultClassifierParams()
	v.SetDefault("detector.signal", string(models.SignalSavgol))
	v.SetDefault("detector.window_size", dp.WindowSize)
	v.SetDefault("detector.gap_size", dp.GapSize)
	v.SetDefault("detector.thresholds", []float64{dp.Tiers[0].Threshold, dp.Tiers[1].Threshold})
	v.SetDefault("detector.weights", []float64{dp.Tiers[0].Weight, dp.Tiers[1].Weight})
	v.SetDefault("detector.activation_threshold", dp.ActivationThreshold)
	v.SetDefault("detector.descending", false)
	v.SetDefault("detector.edges", true)
	v.SetDefault("detector.low_level", cp.LowLevel)
	v.SetDefault("detector.high_level", cp.HighLevel)

	v.SetDefault("confirmer.enabled", false)
	v.SetDefault("confirmer.model_path", "")
	v.SetDefault("confirmer.window", 24)
	v.SetDefault("confirmer.threshold", cp.ConfirmThreshold)

	v.SetDefault("activity.enabled", false)
	v.SetDefault("activity.heartbeat.enabled", true)
	v.SetDefault("activity.heartbeat.threshold", 80.0)
	v.SetDefault("activity.steps.enabled", true)
	v.SetDefault("activity.steps.threshold", 20.0)
	v.SetDefault("activity.acceleration.enabled", false)
	v.SetDefault("activity.acceleration.threshold", 1.1)
	v.SetDefault("activity.electrodermal.enabled", false)
	v.SetDefault("activity.electrodermal.threshold", 10.0)
	v.SetDefault("activity.mean_window", 1)
	v.SetDefault("activity.edges", true)
	v.SetDefault("activity.edge_threshold", -2.0)

	ec := evaluation.DefaultConfig()
	v.SetDefault("evaluation.reference_signal", string(ec.ReferenceSignal))
	v.SetDefault("evaluation.detection_signal", string(ec.DetectionSignal))
	v.SetDefault("evaluation.max_delay", ec.MaxDelay)
	v.SetDefault("evaluation.fp_delay", ec.FPDelay)
	v.SetDefault("evaluation.late_delay", ec.LateDelay)
	v.SetDefault("evaluation.min_ref", ec.MinRef)
	v.SetDefault("evaluation.drop_count", ec.DropCount)
	v.SetDefault("evaluation.detection_threshold", ec.DetectionThreshold)
	v.SetDefault("evaluation.confirmation_threshold", ec.ConfirmationThreshold)

	v.SetDefault("monitor.record_detections", true)
	v.SetDefault("monitor.checkpoint_interval", 1000)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", "1s")
	v.SetDefault("telegram.per_minute", 20)

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", "./data/chodetect.db")
	v.SetDefault("storage.max_reports", 10000)
	v.SetDefault("storage.max_detections", 100000)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if len(c.Detector.Thresholds) != 2 || len(c.Detector.Weights) != 2 {
		return fmt.Errorf("detector.thresholds and detector.weights must have exactly two entries")
	}
	if err := c.Detector.Params().Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if c.Detector.LowLevel < 0 || c.Detector.HighLevel < c.Detector.LowLevel {
		return fmt.Errorf("detector.low_level must not be negative nor above detector.high_level")
	}
	if !c.Detector.Edges && !c.Confirmer.Enabled {
		return fmt.Errorf("at least one of detector.edges and confirmer.enabled must be set")
	}

	if c.Confirmer.Enabled {
		if c.Confirmer.ModelPath == "" {
			return fmt.Errorf("confirmer.model_path is required when the confirmer is enabled")
		}
		if c.Confirmer.Window < 1 {
			return fmt.Errorf("confirmer.window must be at least 1")
		}
		if c.Confirmer.Threshold < 0 {
			return fmt.Errorf("confirmer.threshold must not be negative")
		}
	}

	if c.Activity.Enabled {
		if err := c.Activity.Config(c.Detector).Validate(); err != nil {
			return fmt.Errorf("activity: %w", err)
		}
	}

	if err := c.Evaluation.Config().Validate(); err != nil {
		return fmt.Errorf("evaluation: %w", err)
	}

	if c.Monitor.CheckpointInterval < 0 {
		return fmt.Errorf("monitor.checkpoint_interval must not be negative")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Storage.Enabled {
		if c.Storage.MaxReports < 1 {
			return fmt.Errorf("storage.max_reports must be at least 1")
		}
		if c.Storage.MaxDetections < 1 {
			return fmt.Errorf("storage.max_detections must be at least 1")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Params returns the activation state machine parameters.
func (c DetectorConfig) Params() detector.Params {
	p := detector.Params{
		WindowSize:          c.WindowSize,
		GapSize:             c.GapSize,
		ActivationThreshold: c.ActivationThreshold,
		DetectDescending:    c.Descending,
	}
	for i := 0; i < len(p.Tiers) && i < len(c.Thresholds) && i < len(c.Weights); i++ {
		p.Tiers[i] = detector.Tier{Threshold: c.Thresholds[i], Weight: c.Weights[i]}
	}
	return p
}

// FilterConfig returns the CHO detection stage configuration.
func (c *Config) FilterConfig() detector.FilterConfig {
	return detector.FilterConfig{
		Input:  models.SignalID(c.Detector.Signal),
		Params: c.Detector.Params(),
		Classifier: detector.ClassifierParams{
			LowLevel:         c.Detector.LowLevel,
			HighLevel:        c.Detector.HighLevel,
			EdgesEnabled:     c.Detector.Edges,
			ConfirmerEnabled: c.Confirmer.Enabled,
			ConfirmThreshold: c.Confirmer.Threshold,
		},
	}
}

// Config returns the activity stage configuration. The falling-edge detector
// shares the slope tiers of the CHO detector.
func (c ActivityConfig) Config(d DetectorConfig) activity.Config {
	thresholds := make(map[models.SignalID]float64)
	for id, s := range map[models.SignalID]SignalThreshold{
		models.SignalHeartbeat:     c.Heartbeat,
		models.SignalSteps:         c.Steps,
		models.SignalAcceleration:  c.Acceleration,
		models.SignalElectrodermal: c.Electrodermal,
	} {
		if s.Enabled {
			thresholds[id] = s.Threshold
		}
	}

	params := d.Params()
	params.DetectDescending = true
	return activity.Config{
		Thresholds:    thresholds,
		MeanWindow:    c.MeanWindow,
		Edges:         c.Edges,
		EdgeSignal:    models.SignalID(d.Signal),
		EdgeThreshold: c.EdgeThreshold,
		Params:        params,
	}
}

// Config returns the evaluation engine configuration.
func (c EvaluationConfig) Config() evaluation.Config {
	return evaluation.Config{
		ReferenceSignal:       models.SignalID(c.ReferenceSignal),
		DetectionSignal:       models.SignalID(c.DetectionSignal),
		MaxDelay:              c.MaxDelay,
		FPDelay:               c.FPDelay,
		LateDelay:             c.LateDelay,
		MinRef:                c.MinRef,
		DropCount:             c.DropCount,
		DetectionThreshold:    c.DetectionThreshold,
		ConfirmationThreshold: c.ConfirmationThreshold,
	}
}

// MonitorConfig returns the pipeline bookkeeping configuration.
func (c *Config) MonitorConfig() monitor.Config {
	mc := monitor.DefaultConfig()
	mc.RecordDetections = c.Monitor.RecordDetections && c.Storage.Enabled
	mc.CheckpointInterval = c.Monitor.CheckpointInterval
	return mc
}
