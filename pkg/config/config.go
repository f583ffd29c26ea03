// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Tempo settings from defaults, YAML files, profile
// overlays, TEMPO_ environment variables and command line overrides, in that
// order of precedence.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/jllopis/tempo/pkg/errors"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "TEMPO_"

type Config struct {
	Log       LogConfig          `koanf:"log"`
	Telemetry TelemetryConfig    `koanf:"telemetry"`
	Arbiter   ArbiterConfig      `koanf:"arbiter"`
	Weights   map[string]float64 `koanf:"weights"`
	Audit     AuditConfig        `koanf:"audit"`
	Stats     StatsConfig        `koanf:"stats"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter           string            `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint       string            `koanf:"otlp_endpoint"`
	OTLPInsecure       bool              `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int               `koanf:"otlp_timeout_seconds"`
	OTLPHeaders        map[string]string `koanf:"otlp_headers"`
	ServiceName        string            `koanf:"service_name"`
}

type ArbiterConfig struct {
	SwitchThreshold float64 `koanf:"switch_threshold"`
	ResetOnKickoff  bool    `koanf:"reset_on_kickoff"`
	ScoreWhileBusy  bool    `koanf:"score_while_busy"`
}

type AuditConfig struct {
	Enabled                bool   `koanf:"enabled"`
	Driver                 string `koanf:"driver"` // memory, sqlite
	DSN                    string `koanf:"dsn"`
	BreakerFailures        int    `koanf:"breaker_failures"`
	BreakerCooldownSeconds int    `koanf:"breaker_cooldown_seconds"`
}

type StatsConfig struct {
	Enabled  bool `koanf:"enabled"`
	Interval int  `koanf:"interval"`
	Startup  int  `koanf:"startup"`
}

// Options selects the sources of one load.
type Options struct {
	// Path of the base YAML file. Empty means defaults and environment only.
	Path string
	// Profile selects the <name>.<profile>.yaml overlay next to Path.
	Profile string
	// Overrides are applied last, keyed by dotted path.
	Overrides map[string]any
}

func setDefaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.otlp_endpoint", "localhost:4317")
	k.Set("telemetry.otlp_insecure", true)
	k.Set("telemetry.service_name", "tempo")

	k.Set("arbiter.switch_threshold", 0.05)
	k.Set("arbiter.reset_on_kickoff", true)
	k.Set("arbiter.score_while_busy", false)

	k.Set("audit.enabled", false)
	k.Set("audit.driver", "memory")
	k.Set("audit.breaker_failures", 5)
	k.Set("audit.breaker_cooldown_seconds", 30)

	k.Set("stats.enabled", false)
	k.Set("stats.interval", 100)
	k.Set("stats.startup", 0)
}

// Load reads path (optional) on top of the defaults, then the environment.
func Load(path string) (*Config, error) {
	return LoadOptions(Options{Path: path})
}

// LoadWithProfile loads path and, when present, its profile overlay.
// A missing overlay is not an error.
func LoadWithProfile(path, profile string) (*Config, error) {
	return LoadOptions(Options{Path: path, Profile: profile})
}

// LoadWithCLI loads configuration from global command line flags. See
// ParseArgs for the accepted flags.
func LoadWithCLI(args []string) (*Config, error) {
	opts, _, err := ParseArgs(args)
	if err != nil {
		return nil, err
	}
	return LoadOptions(opts)
}

// LoadOptions loads and validates a configuration.
func LoadOptions(opts Options) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	// 1. Files
	for _, path := range opts.files() {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeInvalidConfig, "load config file", err).WithContext("path", path)
		}
	}

	// 2. Environment (TEMPO_ARBITER_SWITCH_THRESHOLD -> arbiter.switch_threshold)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.New(errors.CodeInvalidConfig, "load environment", err)
	}

	// 3. Command line
	for key, value := range opts.Overrides {
		if err := k.Set(key, value); err != nil {
			return nil, errors.New(errors.CodeInvalidConfig, "apply override", err).WithContext("key", key)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeInvalidConfig, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps TEMPO_SECTION_SOME_KEY to section.some_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// files lists the base file and the profile overlay that exist on disk.
func (o Options) files() []string {
	if o.Path == "" {
		return nil
	}
	files := []string{o.Path}
	if overlay := ProfilePath(o.Path, o.Profile); overlay != "" {
		if _, err := os.Stat(overlay); err == nil {
			files = append(files, overlay)
		}
	}
	return files
}

// ProfilePath returns the overlay path for profile, e.g. config.dev.yaml for
// config.yaml. It returns "" when either argument is empty.
func ProfilePath(path, profile string) string {
	if path == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

// ParseArgs extracts the global flags --config, --profile (alias --env) and
// --set key=value from args. Values may also be attached with "=". Override
// values are decoded as YAML, so numbers, booleans and inline maps keep their
// type. Arguments that are not global flags are returned in order.
func ParseArgs(args []string) (Options, []string, error) {
	var opts Options
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, inline, hasInline := strings.Cut(arg, "=")
		switch name {
		case "--config", "-config", "--profile", "-profile", "--env", "-env", "--set", "-set":
		default:
			rest = append(rest, arg)
			continue
		}

		value := inline
		if !hasInline {
			if i+1 >= len(args) {
				return Options{}, nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("%s requires a value", name), nil)
			}
			i++
			value = args[i]
		}

		switch strings.TrimLeft(name, "-") {
		case "config":
			opts.Path = value
		case "profile", "env":
			opts.Profile = value
		case "set":
			key, raw, ok := strings.Cut(value, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return Options{}, nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("--set expects key=value, got %q", value), nil)
			}
			if opts.Overrides == nil {
				opts.Overrides = make(map[string]any)
			}
			opts.Overrides[key] = parseValue(raw)
		}
	}
	return opts, rest, nil
}

func parseValue(raw string) any {
	var v any
	if err := yamlv3.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	invalid := func(key string, value any, msg string) error {
		return errors.New(errors.CodeInvalidConfig, fmt.Sprintf("%s: %s", key, msg), nil).
			WithContext("key", key).
			WithContext("value", value)
	}

	if t := c.Arbiter.SwitchThreshold; t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return invalid("arbiter.switch_threshold", t, "must be a finite value >= 0")
	}
	for name, w := range c.Weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return invalid("weights."+name, w, "must be a finite value >= 0")
		}
	}
	switch strings.ToLower(c.Telemetry.Exporter) {
	case "", "none", "stdout":
	case "otlp":
		if c.Telemetry.OTLPEndpoint == "" {
			return invalid("telemetry.otlp_endpoint", "", "required for the otlp exporter")
		}
	default:
		return invalid("telemetry.exporter", c.Telemetry.Exporter, "must be none, stdout or otlp")
	}
	switch strings.ToLower(c.Audit.Driver) {
	case "", "memory":
	case "sqlite":
		if c.Audit.Enabled && c.Audit.DSN == "" {
			return invalid("audit.dsn", "", "required for the sqlite driver")
		}
	default:
		return invalid("audit.driver", c.Audit.Driver, "must be memory or sqlite")
	}
	if c.Audit.BreakerFailures < 0 {
		return invalid("audit.breaker_failures", c.Audit.BreakerFailures, "must be >= 0")
	}
	if c.Audit.BreakerCooldownSeconds < 0 {
		return invalid("audit.breaker_cooldown_seconds", c.Audit.BreakerCooldownSeconds, "must be >= 0")
	}
	if c.Stats.Interval < 0 || c.Stats.Startup < 0 {
		return invalid("stats", c.Stats, "interval and startup must be >= 0")
	}
	return nil
}
