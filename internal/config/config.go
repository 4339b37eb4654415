package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/lokivisor/internal/auth"
	"github.com/loykin/lokivisor/internal/cron"
	"github.com/loykin/lokivisor/internal/detector"
	"github.com/loykin/lokivisor/internal/env"
	"github.com/loykin/lokivisor/internal/logger"
	"github.com/loykin/lokivisor/internal/process"
	tlsutil "github.com/loykin/lokivisor/internal/tls"
)

// EnvPrefix prefixes environment overrides, e.g. LOKIVISOR_SUPERVISOR_GRACE_WINDOW.
const EnvPrefix = "LOKIVISOR"

// Config represents the whole configuration file.
type Config struct {
	Process    ProcessConfig    `mapstructure:"process"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Log        logger.Config    `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	History    HistoryConfig    `mapstructure:"history"`
	Schedule   []cron.Entry     `mapstructure:"schedule"`
}

type ProcessConfig struct {
	Name        string          `mapstructure:"name"`
	Command     string          `mapstructure:"command"`
	WorkDir     string          `mapstructure:"workdir"`
	Env         []string        `mapstructure:"env"`
	EnvFiles    []string        `mapstructure:"env_files"`
	PIDFile     string          `mapstructure:"pidfile"`
	ProcessName string          `mapstructure:"process_name"`
	Detectors   []DetectorEntry `mapstructure:"detectors"`
}

type DetectorEntry struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
	PID  int    `mapstructure:"pid"`
	Name string `mapstructure:"name"`
}

type SupervisorConfig struct {
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
	GraceWindow     time.Duration `mapstructure:"grace_window"`
	StartTimeout    time.Duration `mapstructure:"start_timeout"`
	HistoryTimeout  time.Duration `mapstructure:"history_timeout"`
}

type ServerConfig struct {
	Listen   string         `mapstructure:"listen"`
	BasePath string         `mapstructure:"base_path"`
	TLS      tlsutil.Config `mapstructure:"tls"`
	Auth     auth.Config    `mapstructure:"auth"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("process.name", "lokinet")
	v.SetDefault("process.command", "lokinet")
	v.SetDefault("process.workdir", "")
	v.SetDefault("process.env", []string{})
	v.SetDefault("process.env_files", []string{})
	v.SetDefault("process.pidfile", "")
	v.SetDefault("process.process_name", "lokinet")

	v.SetDefault("supervisor.freshness_window", time.Second)
	v.SetDefault("supervisor.grace_window", 5*time.Second)
	v.SetDefault("supervisor.start_timeout", 10*time.Second)
	v.SetDefault("supervisor.history_timeout", 3*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("server.auth.token_ttl", 12*time.Hour)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9090")

	v.SetDefault("history.dsns", []string{})
}

// Load reads path (TOML, YAML or JSON by extension) on top of the defaults
// and applies LOKIVISOR_* environment overrides. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Process.Name) == "" {
		errs = append(errs, errors.New("process.name is required"))
	}
	if strings.TrimSpace(c.Process.Command) == "" {
		errs = append(errs, errors.New("process.command is required"))
	}
	for i, d := range c.Process.Detectors {
		if _, err := d.detector(); err != nil {
			errs = append(errs, fmt.Errorf("process.detectors[%d]: %w", i, err))
		}
	}
	for name, d := range map[string]time.Duration{
		"supervisor.freshness_window": c.Supervisor.FreshnessWindow,
		"supervisor.grace_window":     c.Supervisor.GraceWindow,
		"supervisor.start_timeout":    c.Supervisor.StartTimeout,
		"supervisor.history_timeout":  c.Supervisor.HistoryTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logger.FormatText, logger.FormatJSON, logger.FormatColor:
	default:
		errs = append(errs, fmt.Errorf("log.format must be text, json or color, got %q", c.Log.Format))
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path must start with '/', got %q", c.Server.BasePath))
	}
	if err := c.Server.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server.tls: %w", err))
	}
	if err := c.Server.Auth.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server.auth: %w", err))
	}
	if err := cron.Validate(c.Schedule); err != nil {
		errs = append(errs, err)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	return errors.Join(errs...)
}

// Spec builds the process.Spec. Env files apply in order, then the inline
// env list; ${VAR} references are expanded.
func (c *Config) Spec() (process.Spec, error) {
	pc := c.Process
	vars, err := env.Compose(pc.EnvFiles, pc.Env)
	if err != nil {
		return process.Spec{}, err
	}
	dets := make([]detector.Detector, 0, len(pc.Detectors))
	for i, d := range pc.Detectors {
		det, err := d.detector()
		if err != nil {
			return process.Spec{}, fmt.Errorf("process.detectors[%d]: %w", i, err)
		}
		dets = append(dets, det)
	}
	s := process.Spec{
		Name:        pc.Name,
		Command:     pc.Command,
		WorkDir:     pc.WorkDir,
		Env:         vars,
		PIDFile:     pc.PIDFile,
		ProcessName: pc.ProcessName,
		Detectors:   dets,
	}
	return s, s.Validate()
}

func (d DetectorEntry) detector() (detector.Detector, error) {
	switch d.Type {
	case "pidfile":
		if d.Path == "" {
			return nil, errors.New("detector pidfile requires path")
		}
		return detector.PIDFileDetector{PIDFile: d.Path}, nil
	case "pid":
		if d.PID <= 0 {
			return nil, errors.New("detector pid requires positive pid")
		}
		return detector.PIDDetector{PID: d.PID}, nil
	case "name":
		if d.Name == "" {
			return nil, errors.New("detector name requires name")
		}
		return detector.ProcessNameDetector{Name: d.Name}, nil
	default:
		return nil, fmt.Errorf("unknown detector type %q", d.Type)
	}
}
