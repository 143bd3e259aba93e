package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr string `toml:"http_addr" yaml:"http_addr" json:"http_addr"`
	GRPCAddr string `toml:"grpc_addr" yaml:"grpc_addr" json:"grpc_addr"` // "" disables the health server

	// DB
	Env    string `toml:"env" yaml:"env" json:"env"`             // "dev" | "prod"
	DBPath string `toml:"db_path" yaml:"db_path" json:"db_path"` // e.g. "./data/argus.db"

	// Logging
	LogLevel  string `toml:"log_level" yaml:"log_level" json:"log_level"`    // debug | info | warn | error
	LogFormat string `toml:"log_format" yaml:"log_format" json:"log_format"` // text | json

	// Local detector sidecar
	DetectorURL            string `toml:"detector_url" yaml:"detector_url" json:"detector_url"`
	DetectorTimeoutSeconds int    `toml:"detector_timeout_seconds" yaml:"detector_timeout_seconds" json:"detector_timeout_seconds"`

	// Remote vision analyzer; disabled unless both URL and key are set
	VisionBaseURL    string `toml:"vision_base_url" yaml:"vision_base_url" json:"vision_base_url"`
	VisionAPIKey     string `toml:"-" yaml:"-" json:"-"` // env only
	VisionModel      string `toml:"vision_model" yaml:"vision_model" json:"vision_model"`
	VisionMaxRetries int    `toml:"vision_max_retries" yaml:"vision_max_retries" json:"vision_max_retries"`

	// Evidence storage: remote object service first, local directory second
	StorageURL   string `toml:"storage_url" yaml:"storage_url" json:"storage_url"`
	StorageToken string `toml:"-" yaml:"-" json:"-"` // env only
	StorageDir   string `toml:"storage_dir" yaml:"storage_dir" json:"storage_dir"`

	NotifyWebhookURL string `toml:"notify_webhook_url" yaml:"notify_webhook_url" json:"notify_webhook_url"`

	// Frame pipeline
	FrameTimeoutSeconds  int `toml:"frame_timeout_seconds" yaml:"frame_timeout_seconds" json:"frame_timeout_seconds"`
	RemoteTimeoutSeconds int `toml:"remote_timeout_seconds" yaml:"remote_timeout_seconds" json:"remote_timeout_seconds"`

	// Temporal window eviction
	WindowIdleMinutes    int `toml:"window_idle_minutes" yaml:"window_idle_minutes" json:"window_idle_minutes"` // 0 = never evict
	SweepIntervalSeconds int `toml:"sweep_interval_seconds" yaml:"sweep_interval_seconds" json:"sweep_interval_seconds"`

	// Fallback proctoring settings file, hot reloaded
	DefaultSettingsPath string `toml:"default_settings" yaml:"default_settings" json:"default_settings"`

	// Supervisors attached to the seed-dev assessment
	SeedSupervisors []string `toml:"seed_supervisors" yaml:"seed_supervisors" json:"seed_supervisors"`
}

func defaults() Config {
	return Config{
		HTTPAddr:               ":8080",
		GRPCAddr:               "",
		Env:                    "dev",
		DBPath:                 "./data/argus.db",
		LogLevel:               "info",
		LogFormat:              "text",
		DetectorTimeoutSeconds: 5,
		VisionModel:            "gemini-1.5-flash",
		VisionMaxRetries:       2,
		StorageDir:             "./data/evidence",
		FrameTimeoutSeconds:    8,
		RemoteTimeoutSeconds:   6,
		WindowIdleMinutes:      30,
		SweepIntervalSeconds:   60,
	}
}

// FromEnv builds the config from defaults and ARGUS_* variables only.
func FromEnv() Config {
	cfg := defaults()
	applyEnv(&cfg)
	return cfg
}

// Load builds the config from defaults, then the file named by path (or
// ARGUS_CONFIG when path is empty), then ARGUS_* variables. The
// environment always wins.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		path = strings.TrimSpace(os.Getenv("ARGUS_CONFIG"))
	}
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(c *Config) {
	c.HTTPAddr = getenvDefault("ARGUS_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenvDefault("ARGUS_GRPC_ADDR", c.GRPCAddr)

	c.Env = strings.ToLower(getenvDefault("ARGUS_ENV", c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	c.DBPath = getenvDefault("ARGUS_DB_PATH", c.DBPath)

	c.LogLevel = strings.ToLower(getenvDefault("ARGUS_LOG_LEVEL", c.LogLevel))
	c.LogFormat = strings.ToLower(getenvDefault("ARGUS_LOG_FORMAT", c.LogFormat))

	c.DetectorURL = getenvDefault("ARGUS_DETECTOR_URL", c.DetectorURL)
	c.DetectorTimeoutSeconds = getenvInt("ARGUS_DETECTOR_TIMEOUT_SECONDS", c.DetectorTimeoutSeconds)

	c.VisionBaseURL = getenvDefault("ARGUS_VISION_BASE_URL", c.VisionBaseURL)
	c.VisionAPIKey = getenvDefault("ARGUS_VISION_API_KEY", c.VisionAPIKey)
	c.VisionModel = getenvDefault("ARGUS_VISION_MODEL", c.VisionModel)
	c.VisionMaxRetries = getenvInt("ARGUS_VISION_MAX_RETRIES", c.VisionMaxRetries)

	c.StorageURL = getenvDefault("ARGUS_STORAGE_URL", c.StorageURL)
	c.StorageToken = getenvDefault("ARGUS_STORAGE_TOKEN", c.StorageToken)
	c.StorageDir = getenvDefault("ARGUS_STORAGE_DIR", c.StorageDir)

	c.NotifyWebhookURL = getenvDefault("ARGUS_NOTIFY_WEBHOOK_URL", c.NotifyWebhookURL)

	c.FrameTimeoutSeconds = getenvInt("ARGUS_FRAME_TIMEOUT_SECONDS", c.FrameTimeoutSeconds)
	c.RemoteTimeoutSeconds = getenvInt("ARGUS_REMOTE_TIMEOUT_SECONDS", c.RemoteTimeoutSeconds)
	c.WindowIdleMinutes = getenvInt("ARGUS_WINDOW_IDLE_MINUTES", c.WindowIdleMinutes)
	c.SweepIntervalSeconds = getenvInt("ARGUS_SWEEP_INTERVAL_SECONDS", c.SweepIntervalSeconds)

	c.DefaultSettingsPath = getenvDefault("ARGUS_DEFAULT_SETTINGS", c.DefaultSettingsPath)

	if ids := splitCSV(os.Getenv("ARGUS_SEED_SUPERVISORS")); len(ids) > 0 {
		c.SeedSupervisors = ids
	}
}

// VisionEnabled reports whether the remote analyzer has what it needs.
func (c Config) VisionEnabled() bool {
	return c.VisionBaseURL != "" && c.VisionAPIKey != ""
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
