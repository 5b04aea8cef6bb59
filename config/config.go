package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the assembled runtime configuration.
type Config struct {
	Host            string
	Port            string
	ScenarioDir     string
	DefaultScenario string
	MaxSessions     int
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	CallTimeout     time.Duration
	MaxStepsPerCall int
	LogLevel        string
}

// yamlConfig represents the structure of bridge.yaml.
type yamlConfig struct {
	Server struct {
		Host string `yaml:"host"`
		Port string `yaml:"port"`
	} `yaml:"server"`
	Scenarios struct {
		Dir     string `yaml:"dir"`
		Default string `yaml:"default"`
	} `yaml:"scenarios"`
	Sessions struct {
		Max             int    `yaml:"max"`
		IdleTimeout     string `yaml:"idle_timeout"`
		CleanupInterval string `yaml:"cleanup_interval"`
	} `yaml:"sessions"`
	Dispatch struct {
		CallTimeout     string `yaml:"call_timeout"`
		MaxStepsPerCall int    `yaml:"max_steps_per_call"`
	} `yaml:"dispatch"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            "8080",
		ScenarioDir:     "scenarios",
		DefaultScenario: "two_lane",
		MaxSessions:     16,
		IdleTimeout:     10 * time.Minute,
		CleanupInterval: time.Minute,
		CallTimeout:     30 * time.Second,
		MaxStepsPerCall: 1000,
		LogLevel:        "info",
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if it
// exists), then environment variable overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return fmt.Errorf("error parsing YAML: %w", err)
	}

	setString(&c.Host, yc.Server.Host)
	setString(&c.Port, yc.Server.Port)
	setString(&c.ScenarioDir, yc.Scenarios.Dir)
	setString(&c.DefaultScenario, yc.Scenarios.Default)
	setString(&c.LogLevel, yc.Log.Level)
	if yc.Sessions.Max > 0 {
		c.MaxSessions = yc.Sessions.Max
	}
	if yc.Dispatch.MaxStepsPerCall > 0 {
		c.MaxStepsPerCall = yc.Dispatch.MaxStepsPerCall
	}
	if err := setDuration(&c.IdleTimeout, yc.Sessions.IdleTimeout); err != nil {
		return fmt.Errorf("sessions.idle_timeout: %w", err)
	}
	if err := setDuration(&c.CleanupInterval, yc.Sessions.CleanupInterval); err != nil {
		return fmt.Errorf("sessions.cleanup_interval: %w", err)
	}
	if err := setDuration(&c.CallTimeout, yc.Dispatch.CallTimeout); err != nil {
		return fmt.Errorf("dispatch.call_timeout: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Host, os.Getenv("BRIDGE_HOST"))
	setString(&c.Port, os.Getenv("PORT"))
	setString(&c.ScenarioDir, os.Getenv("SCENARIO_DIR"))
	setString(&c.DefaultScenario, os.Getenv("DEFAULT_SCENARIO"))
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))

	if raw := os.Getenv("MAX_SESSIONS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fmt.Errorf("MAX_SESSIONS: invalid value %q", raw)
		}
		c.MaxSessions = n
	}
	if raw := os.Getenv("MAX_STEPS_PER_CALL"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fmt.Errorf("MAX_STEPS_PER_CALL: invalid value %q", raw)
		}
		c.MaxStepsPerCall = n
	}
	if err := setDuration(&c.IdleTimeout, os.Getenv("SESSION_IDLE_TIMEOUT")); err != nil {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT: %w", err)
	}
	if err := setDuration(&c.CallTimeout, os.Getenv("CALL_TIMEOUT")); err != nil {
		return fmt.Errorf("CALL_TIMEOUT: %w", err)
	}
	return nil
}

// Addr returns the host:port the HTTP server should listen on.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	*dst = d
	return nil
}
