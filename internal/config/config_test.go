package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/chodetect/internal/detector"
	"github.com/rewired-gh/chodetect/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
detector:
  window_size: 10
  thresholds: [0.01, 0.02]
  weights: [2, 3]
  descending: true

confirmer:
  enabled: true
  model_path: "./model.json"
  window: 12

activity:
  enabled: true
  steps:
    enabled: false
  mean_window: 3

evaluation:
  max_delay: 120
  drop_count: 0

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true
  retry_delay: 2s

storage:
  db_path: "./data/test.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	params := cfg.Detector.Params()
	assert.Equal(t, 10, params.WindowSize)
	assert.Equal(t, 6, params.GapSize)
	assert.Equal(t, [2]detector.Tier{{Threshold: 0.01, Weight: 2}, {Threshold: 0.02, Weight: 3}}, params.Tiers)
	assert.True(t, params.DetectDescending)

	fc := cfg.FilterConfig()
	assert.Equal(t, models.SignalSavgol, fc.Input)
	assert.True(t, fc.Classifier.ConfirmerEnabled)
	assert.Equal(t, 45.0, fc.Classifier.ConfirmThreshold)

	ac := cfg.Activity.Config(cfg.Detector)
	assert.Equal(t, map[models.SignalID]float64{models.SignalHeartbeat: 80}, ac.Thresholds)
	assert.Equal(t, 3, ac.MeanWindow)

	ec := cfg.Evaluation.Config()
	assert.Equal(t, 120.0, ec.MaxDelay)
	assert.Equal(t, 180.0, ec.FPDelay)
	assert.Zero(t, ec.DropCount)

	assert.Equal(t, 2*time.Second, cfg.Telegram.RetryDelay)
	assert.Equal(t, 20, cfg.Telegram.PerMinute)
	assert.Equal(t, 10000, cfg.Storage.MaxReports)
	assert.True(t, cfg.MonitorConfig().RecordDetections)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, detector.DefaultParams(), cfg.Detector.Params())
	assert.Equal(t, 36, cfg.Evaluation.DropCount)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CHODETECT_TELEGRAM_BOT_TOKEN", "from-env")
	t.Setenv("CHODETECT_EVALUATION_MAX_DELAY", "90")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.BotToken)
	assert.Equal(t, 90.0, cfg.Evaluation.MaxDelay)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing telegram token when enabled", func(c *Config) { c.Telegram.Enabled = true }},
		{"window size zero", func(c *Config) { c.Detector.WindowSize = 0 }},
		{"single tier", func(c *Config) { c.Detector.Thresholds = []float64{0.01} }},
		{"tiers out of order", func(c *Config) { c.Detector.Thresholds = []float64{0.03, 0.02} }},
		{"negative activation threshold", func(c *Config) { c.Detector.ActivationThreshold = -1 }},
		{"levels out of order", func(c *Config) { c.Detector.HighLevel = 1 }},
		{"nothing to detect with", func(c *Config) { c.Detector.Edges = false }},
		{"confirmer without model", func(c *Config) { c.Confirmer.Enabled = true }},
		{"activity without signals", func(c *Config) {
			c.Activity.Enabled = true
			c.Activity.Heartbeat.Enabled = false
			c.Activity.Steps.Enabled = false
		}},
		{"negative late delay", func(c *Config) { c.Evaluation.LateDelay = -5 }},
		{"same evaluation signals", func(c *Config) { c.Evaluation.DetectionSignal = c.Evaluation.ReferenceSignal }},
		{"zero report cap", func(c *Config) { c.Storage.MaxReports = 0 }},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error, got nil")
			}
		})
	}
}
