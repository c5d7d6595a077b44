// SPDX-License-Identifier: Apache-2.0

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kusari-oss/darnfix/internal/core/command"
	"github.com/kusari-oss/darnfix/internal/core/schema"
	"github.com/kusari-oss/darnfix/internal/logging"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Constants for defaults and bounds
const (
	DefaultConfigFileName = ".darnfix.yaml"

	DefaultMaxQAAttempts = 6
	MaxQAAttemptsCeiling = 10

	DefaultMaxEventsPerAgent = 120
	MinEventsPerAgent        = 10
	MaxEventsPerAgent        = 500

	DefaultMaxDetectionTurns = 6
	MaxDetectionTurnsCeiling = 10

	DefaultSessionTimeout = 3 * time.Hour
	DefaultCommandTimeout = 30 * time.Minute
	DefaultProbeTimeout   = 5 * time.Minute
	DefaultOutputLimit    = 256 * 1024
	DefaultScanDepth      = 2
	MaxScanDepth          = 6

	DefaultModel     = "gemini-2.5-pro"
	DefaultAPIKeyEnv = "GEMINI_API_KEY"
	DefaultBranch    = "main"
)

// ErrInvalidConfiguration marks configuration that cannot be used at all
var ErrInvalidConfiguration = errors.New("invalid configuration")

//go:embed config.schema.json
var configSchema []byte

// Config holds every tunable of a remediation run
type Config struct {
	MaxQAAttempts     int           `yaml:"max_qa_attempts"`
	MaxEventsPerAgent int           `yaml:"max_events_per_agent"`
	MaxDetectionTurns int           `yaml:"max_detection_turns"`
	SessionTimeout    time.Duration `yaml:"session_timeout"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	OutputLimit       int           `yaml:"output_limit"`
	ScanDepth         int           `yaml:"scan_depth"`

	// Operator overrides. They bypass detection, and validation too when
	// TrustedCommands is set.
	BuildCommand    string `yaml:"build_command,omitempty"`
	FormatCommand   string `yaml:"format_command,omitempty"`
	TrustedCommands bool   `yaml:"trusted_commands"`

	DetectCommands bool   `yaml:"detect_commands"`
	RequireBuild   bool   `yaml:"require_build"`
	SkipQAReview   bool   `yaml:"skip_qa_review"`
	BaseBranch     string `yaml:"base_branch"`

	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig selects the language model used by the agents
type AgentConfig struct {
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	// BaseURL overrides the model API endpoint
	BaseURL string `yaml:"base_url,omitempty"`
}

// LookupFunc resolves environment variables. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// NewDefaultConfig creates a default configuration
func NewDefaultConfig() *Config {
	return &Config{
		MaxQAAttempts:     DefaultMaxQAAttempts,
		MaxEventsPerAgent: DefaultMaxEventsPerAgent,
		MaxDetectionTurns: DefaultMaxDetectionTurns,
		SessionTimeout:    DefaultSessionTimeout,
		CommandTimeout:    DefaultCommandTimeout,
		ProbeTimeout:      DefaultProbeTimeout,
		OutputLimit:       DefaultOutputLimit,
		ScanDepth:         DefaultScanDepth,
		DetectCommands:    true,
		BaseBranch:        DefaultBranch,
		Agent: AgentConfig{
			Model:     DefaultModel,
			APIKeyEnv: DefaultAPIKeyEnv,
		},
	}
}

// LoadConfig builds the effective configuration: defaults, then the config
// file, then environment overrides, then clamping and validation.
// An explicit path must exist; otherwise .darnfix.yaml in projectDir is used
// when present.
func LoadConfig(projectDir, explicitPath string, lookup LookupFunc, logger *zap.Logger) (*Config, error) {
	logger = logging.OrNop(logger)
	config := NewDefaultConfig()

	path := ExpandPathWithTilde(explicitPath)
	if path == "" && projectDir != "" {
		candidate := filepath.Join(projectDir, DefaultConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}

	if path != "" {
		if err := loadConfigFile(path, config); err != nil {
			return nil, err
		}
		logger.Debug("loaded config file", zap.String("path", path))
	}

	if lookup != nil {
		config.ApplyEnv(lookup, logger)
	}
	config.Normalize(logger)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigFile loads a configuration from a specific file path on top of
// the defaults. No environment overrides or validation are applied.
func LoadConfigFile(path string) (*Config, error) {
	config := NewDefaultConfig()
	if err := loadConfigFile(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	if path == "" {
		return fmt.Errorf("config file path cannot be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file '%s': %w", path, err)
	}

	if err := schema.ValidateYAML(configSchema, data, "config"); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfiguration, path, err)
	}

	// Fields absent from the file keep their defaults.
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("error parsing config file '%s': %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. Unparseable values
// are logged and ignored.
func (c *Config) ApplyEnv(lookup LookupFunc, logger *zap.Logger) {
	logger = logging.OrNop(logger)

	intVar := func(key string, target *int) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			logger.Warn("ignoring non-integer environment override", zap.String("key", key), zap.String("value", raw))
			return
		}
		*target = v
	}
	durationVar := func(key string, target *time.Duration) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		v, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			logger.Warn("ignoring invalid duration override", zap.String("key", key), zap.String("value", raw))
			return
		}
		*target = v
	}
	stringVar := func(key string, target *string) {
		if raw, ok := lookup(key); ok && raw != "" {
			*target = raw
		}
	}
	boolVar := func(key string, target *bool) {
		raw, ok := lookup(key)
		if !ok || raw == "" {
			return
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			logger.Warn("ignoring non-boolean environment override", zap.String("key", key), zap.String("value", raw))
			return
		}
		*target = v
	}

	intVar("MAX_QA_ATTEMPTS", &c.MaxQAAttempts)
	intVar("MAX_EVENTS_PER_AGENT", &c.MaxEventsPerAgent)
	intVar("MAX_DETECTION_TURNS", &c.MaxDetectionTurns)
	durationVar("SESSION_TIMEOUT", &c.SessionTimeout)
	stringVar("BUILD_COMMAND", &c.BuildCommand)
	stringVar("FORMAT_COMMAND", &c.FormatCommand)
	boolVar("SKIP_QA_REVIEW", &c.SkipQAReview)
	stringVar("DARNFIX_MODEL", &c.Agent.Model)
	stringVar("DARNFIX_MODEL_BASE_URL", &c.Agent.BaseURL)
}

// Normalize clamps every bounded value into range, logging each adjustment
func (c *Config) Normalize(logger *zap.Logger) {
	logger = logging.OrNop(logger)

	clamp := func(name string, v *int, lo, hi int) {
		switch {
		case *v < lo:
			logger.Warn("config value below minimum, clamping", zap.String("key", name), zap.Int("value", *v), zap.Int("min", lo))
			*v = lo
		case *v > hi:
			logger.Warn("config value above maximum, clamping", zap.String("key", name), zap.Int("value", *v), zap.Int("max", hi))
			*v = hi
		}
	}
	positive := func(name string, v *time.Duration, def time.Duration) {
		if *v <= 0 {
			logger.Warn("non-positive duration, using default", zap.String("key", name), zap.Duration("default", def))
			*v = def
		}
	}

	clamp("max_qa_attempts", &c.MaxQAAttempts, 0, MaxQAAttemptsCeiling)
	clamp("max_events_per_agent", &c.MaxEventsPerAgent, MinEventsPerAgent, MaxEventsPerAgent)
	clamp("max_detection_turns", &c.MaxDetectionTurns, 1, MaxDetectionTurnsCeiling)
	clamp("scan_depth", &c.ScanDepth, 0, MaxScanDepth)
	positive("session_timeout", &c.SessionTimeout, DefaultSessionTimeout)
	positive("command_timeout", &c.CommandTimeout, DefaultCommandTimeout)
	positive("probe_timeout", &c.ProbeTimeout, DefaultProbeTimeout)

	if c.OutputLimit <= 0 {
		c.OutputLimit = DefaultOutputLimit
	}
	if c.BaseBranch == "" {
		c.BaseBranch = DefaultBranch
	}
	if c.Agent.Model == "" {
		c.Agent.Model = DefaultModel
	}
	if c.Agent.APIKeyEnv == "" {
		c.Agent.APIKeyEnv = DefaultAPIKeyEnv
	}
	c.BuildCommand = command.Normalize(c.BuildCommand)
	c.FormatCommand = command.Normalize(c.FormatCommand)
}

// Validate reports configuration that makes a run impossible. Errors wrap
// ErrInvalidConfiguration.
func (c *Config) Validate() error {
	if !c.TrustedCommands {
		if c.BuildCommand != "" {
			if v := command.Validate(c.BuildCommand); !v.IsAllowed() {
				return fmt.Errorf("%w: build command rejected: %s", ErrInvalidConfiguration, v.Reason)
			}
		}
		if c.FormatCommand != "" {
			if v := command.Validate(c.FormatCommand); !v.IsAllowed() {
				return fmt.Errorf("%w: format command rejected: %s", ErrInvalidConfiguration, v.Reason)
			}
		}
	}
	if c.RequireBuild && c.BuildCommand == "" && !c.DetectCommands {
		return fmt.Errorf("%w: a build command is required but none is configured and detection is disabled", ErrInvalidConfiguration)
	}
	return nil
}

// ExpandPathWithTilde expands ~ to user home directory
func ExpandPathWithTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// SaveConfig writes the configuration to .darnfix.yaml in dir
func SaveConfig(config *Config, dir string) (string, error) {
	data, err := yaml.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("error marshaling config: %w", err)
	}

	configPath := filepath.Join(dir, DefaultConfigFileName)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return "", fmt.Errorf("error writing config file '%s': %w", configPath, err)
	}
	return configPath, nil
}
