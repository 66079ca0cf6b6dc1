package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// appConfig is the full tool configuration. File values come from Viper,
// environment variables override them.
type appConfig struct {
	// APIBaseURL is the story service root, e.g. https://api.storyweave.app.
	APIBaseURL string `env:"STORYWEAVE_API_URL"`
	// APIToken authenticates story and voice requests.
	APIToken string `env:"STORYWEAVE_TOKEN"`
	// TTSSocketURL is the websocket synthesis endpoint.
	TTSSocketURL string `env:"STORYWEAVE_TTS_URL"`
	// VoiceID selects the narration voice.
	VoiceID string `env:"STORYWEAVE_VOICE_ID"`
	// DataDir holds indexes, caches and the download queue database.
	DataDir string `env:"STORYWEAVE_DATA_DIR"`
	Debug   bool   `env:"STORYWEAVE_DEBUG"`

	Sync syncSettings `envPrefix:"STORYWEAVE_SYNC_"`
}

// syncSettings tunes the background sync worker.
type syncSettings struct {
	Concurrency   int           `env:"CONCURRENCY"`
	MaxRetries    int           `env:"MAX_RETRIES"`
	RetryBackoff  time.Duration `env:"RETRY_BACKOFF"`
	Interval      time.Duration `env:"INTERVAL"`
	ProbeInterval time.Duration `env:"PROBE_INTERVAL"`
}

// defaultConfig returns the built-in configuration.
func defaultConfig() appConfig {
	return appConfig{
		APIBaseURL:   "https://api.storyweave.app",
		TTSSocketURL: "wss://api.storyweave.app/voice/tts",
		VoiceID:      "narrator",
		DataDir:      defaultDataDir(),
		Sync: syncSettings{
			Concurrency:   3,
			MaxRetries:    5,
			RetryBackoff:  30 * time.Second,
			Interval:      5 * time.Minute,
			ProbeInterval: 15 * time.Second,
		},
	}
}

// defaultDataDir places data under the platform cache directory.
func defaultDataDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "storyweave")
	}
	return filepath.Join(base, "storyweave")
}

// setConfigDefaults seeds Viper so a generated config file documents every
// knob.
func setConfigDefaults() {
	defaults := defaultConfig()

	viper.SetDefault("api.base_url", defaults.APIBaseURL)
	viper.SetDefault("api.token", "")
	viper.SetDefault("tts.socket_url", defaults.TTSSocketURL)
	viper.SetDefault("tts.voice_id", defaults.VoiceID)
	viper.SetDefault("data_dir", defaults.DataDir)
	viper.SetDefault("debug", false)

	viper.SetDefault("sync.concurrency", defaults.Sync.Concurrency)
	viper.SetDefault("sync.max_retries", defaults.Sync.MaxRetries)
	viper.SetDefault("sync.retry_backoff", defaults.Sync.RetryBackoff.String())
	viper.SetDefault("sync.interval", defaults.Sync.Interval.String())
	viper.SetDefault("sync.probe_interval", defaults.Sync.ProbeInterval.String())
}

// loadConfig builds the effective configuration: defaults, then the config
// file via Viper, then environment variables.
func loadConfig() (appConfig, error) {
	cfg := defaultConfig()

	if viper.IsSet("api.base_url") {
		cfg.APIBaseURL = viper.GetString("api.base_url")
	}
	if viper.IsSet("api.token") {
		cfg.APIToken = viper.GetString("api.token")
	}
	if viper.IsSet("tts.socket_url") {
		cfg.TTSSocketURL = viper.GetString("tts.socket_url")
	}
	if viper.IsSet("tts.voice_id") {
		cfg.VoiceID = viper.GetString("tts.voice_id")
	}
	if viper.IsSet("data_dir") {
		cfg.DataDir = viper.GetString("data_dir")
	}
	if viper.IsSet("debug") {
		cfg.Debug = viper.GetBool("debug")
	}

	if viper.IsSet("sync.concurrency") {
		cfg.Sync.Concurrency = viper.GetInt("sync.concurrency")
	}
	if viper.IsSet("sync.max_retries") {
		cfg.Sync.MaxRetries = viper.GetInt("sync.max_retries")
	}
	if viper.IsSet("sync.retry_backoff") {
		if d, err := time.ParseDuration(viper.GetString("sync.retry_backoff")); err == nil {
			cfg.Sync.RetryBackoff = d
		}
	}
	if viper.IsSet("sync.interval") {
		if d, err := time.ParseDuration(viper.GetString("sync.interval")); err == nil {
			cfg.Sync.Interval = d
		}
	}
	if viper.IsSet("sync.probe_interval") {
		if d, err := time.ParseDuration(viper.GetString("sync.probe_interval")); err == nil {
			cfg.Sync.ProbeInterval = d
		}
	}

	// An explicit --config file is read directly; the Viper search path
	// only covers the default locations.
	if configFile != "" {
		if err := applyConfigFile(configFile, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// fileConfig mirrors the YAML layout of the config file.
type fileConfig struct {
	API struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
	} `yaml:"api"`
	TTS struct {
		SocketURL string `yaml:"socket_url"`
		VoiceID   string `yaml:"voice_id"`
	} `yaml:"tts"`
	DataDir string `yaml:"data_dir"`
	Debug   *bool  `yaml:"debug"`
	Sync    struct {
		Concurrency   *int   `yaml:"concurrency"`
		MaxRetries    *int   `yaml:"max_retries"`
		RetryBackoff  string `yaml:"retry_backoff"`
		Interval      string `yaml:"interval"`
		ProbeInterval string `yaml:"probe_interval"`
	} `yaml:"sync"`
}

// applyConfigFile overlays values from a YAML config file onto cfg. A
// missing file is not an error; the path may be the yet-unwritten default.
func applyConfigFile(path string, cfg *appConfig) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.API.BaseURL != "" {
		cfg.APIBaseURL = fc.API.BaseURL
	}
	if fc.API.Token != "" {
		cfg.APIToken = fc.API.Token
	}
	if fc.TTS.SocketURL != "" {
		cfg.TTSSocketURL = fc.TTS.SocketURL
	}
	if fc.TTS.VoiceID != "" {
		cfg.VoiceID = fc.TTS.VoiceID
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.Debug != nil {
		cfg.Debug = *fc.Debug
	}
	if fc.Sync.Concurrency != nil {
		cfg.Sync.Concurrency = *fc.Sync.Concurrency
	}
	if fc.Sync.MaxRetries != nil {
		cfg.Sync.MaxRetries = *fc.Sync.MaxRetries
	}
	if d, err := time.ParseDuration(fc.Sync.RetryBackoff); err == nil {
		cfg.Sync.RetryBackoff = d
	}
	if d, err := time.ParseDuration(fc.Sync.Interval); err == nil {
		cfg.Sync.Interval = d
	}
	if d, err := time.ParseDuration(fc.Sync.ProbeInterval); err == nil {
		cfg.Sync.ProbeInterval = d
	}
	return nil
}

// Validate rejects configurations that cannot work.
func (c appConfig) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api.base_url must be set")
	}
	if c.TTSSocketURL == "" {
		return fmt.Errorf("tts.socket_url must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Sync.Concurrency < 1 || c.Sync.Concurrency > 16 {
		return fmt.Errorf("sync.concurrency must be between 1 and 16, got %d", c.Sync.Concurrency)
	}
	if c.Sync.RetryBackoff <= 0 {
		return fmt.Errorf("sync.retry_backoff must be positive, got %s", c.Sync.RetryBackoff)
	}
	if c.Sync.Interval < time.Second {
		return fmt.Errorf("sync.interval must be at least 1s, got %s", c.Sync.Interval)
	}
	return nil
}
