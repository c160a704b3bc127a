// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/playfieldguard/pkg/errutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, key := range []string{
		"PLAYFIELDGUARD_BRIDGE_URL",
		"PLAYFIELDGUARD_BRIDGE_TOKEN",
		"PLAYFIELDGUARD_ADMIN_CONFIG",
		"PLAYFIELDGUARD_LOG_LEVEL",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestDefault_NeedsFallback(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeInvalid)
	errutil.AssertErrorContext(t, err, "field", "fallback_playfield")

	cfg.FallbackPlayfield = "Haven"
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "history capacity", mutate: func(c *Config) { c.HistoryCapacity = 0 }, field: "history_capacity"},
		{name: "negative distance", mutate: func(c *Config) { c.DistanceFromPlanet = -1 }, field: "distance_from_planet"},
		{name: "event timeout", mutate: func(c *Config) { c.EventTimeout = 0 }, field: "event_timeout"},
		{name: "message duration", mutate: func(c *Config) { c.Message.Duration = -time.Second }, field: "message.duration"},
		{name: "bridge url", mutate: func(c *Config) { c.Bridge.URL = "" }, field: "bridge.url"},
		{name: "request timeout", mutate: func(c *Config) { c.Bridge.RequestTimeout = 0 }, field: "bridge.request_timeout"},
		{name: "dial attempts", mutate: func(c *Config) { c.Bridge.DialAttempts = 0 }, field: "bridge.dial_attempts"},
		{name: "api version", mutate: func(c *Config) { c.Bridge.APIVersion = "not a constraint" }, field: "bridge.api_version"},
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }, field: "log.format"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "trace" }, field: "log.level"},
		{name: "empty playfield", mutate: func(c *Config) { c.FactionHomeWorlds[""] = 1 }, field: "faction_home_worlds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.FallbackPlayfield = "Haven"
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, CodeInvalid)
			errutil.AssertErrorContext(t, err, "field", tt.field)
		})
	}
}

func TestLoad_File(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, `
boot_message: "Go home"
immune_permission_level: 9
faction_home_worlds:
  Akua: 7
  Omicron: 3
fallback_playfield: Haven
distance_from_planet: 250
history_capacity: 4
event_timeout: 2s
message:
  priority: 1
  duration: 15s
bridge:
  url: ws://host:9000/bridge
  request_timeout: 750ms
log:
  format: text
  level: debug
`)

	cfg, err := Load(Options{Path: path})
	require.NoError(t, err)

	assert.Equal(t, "Go home", cfg.BootMessage)
	assert.Equal(t, 9, cfg.ImmunePermissionLevel)
	assert.Equal(t, map[string]int{"Akua": 7, "Omicron": 3}, cfg.FactionHomeWorlds)
	assert.Equal(t, "Haven", cfg.FallbackPlayfield)
	assert.InDelta(t, 250, cfg.DistanceFromPlanet, 0)
	assert.Equal(t, 4, cfg.HistoryCapacity)
	assert.Equal(t, 2*time.Second, cfg.EventTimeout)
	assert.Equal(t, 1, cfg.Message.Priority)
	assert.Equal(t, 15*time.Second, cfg.Message.Duration)
	assert.Equal(t, "ws://host:9000/bridge", cfg.Bridge.URL)
	assert.Equal(t, 750*time.Millisecond, cfg.Bridge.RequestTimeout)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched keys keep their defaults
	assert.Equal(t, DefaultDialAttempts, cfg.Bridge.DialAttempts)
	assert.Equal(t, DefaultAPIVersion, cfg.Bridge.APIVersion)
	assert.Equal(t, DefaultMetricsAddr, cfg.MetricsAddr)
}

func TestLoad_MissingFallbackIsFatal(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, "faction_home_worlds:\n  Akua: 7\n")

	_, err := Load(Options{Path: path})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeInvalid)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolateEnv(t)

	_, err := Load(Options{Path: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeLoadFailed)
}

func TestLoad_NoDefaultFileUsesDefaults(t *testing.T) {
	isolateEnv(t)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("fallback-playfield", "", "")
	require.NoError(t, flags.Parse([]string{"--fallback-playfield=Haven"}))

	cfg, err := Load(Options{Flags: flags})
	require.NoError(t, err)
	assert.Equal(t, "Haven", cfg.FallbackPlayfield)
	assert.Equal(t, DefaultBridgeURL, cfg.Bridge.URL)
}

func TestLoad_DefaultPathIsRead(t *testing.T) {
	isolateEnv(t)
	dir := os.Getenv("XDG_CONFIG_HOME")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "playfieldguard"), 0o700))
	require.NoError(t, os.WriteFile(DefaultPath(), []byte("fallback_playfield: Haven\n"), 0o600))

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "Haven", cfg.FallbackPlayfield)
}

func TestLoad_SchemaRejectsUnknownKey(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, "fallback_playfield: Haven\nfalback_playfield: typo\n")

	_, err := Load(Options{Path: path})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeSchemaInvalid)
}

func TestLoad_SchemaRejectsWrongType(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, "fallback_playfield: Haven\nfaction_home_worlds:\n  Akua: seven\n")

	_, err := Load(Options{Path: path})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeSchemaInvalid)
}

func TestLoad_Precedence(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, `
fallback_playfield: Haven
bridge:
  url: ws://file/bridge
log:
  level: warn
  format: json
`)
	t.Setenv("PLAYFIELDGUARD_BRIDGE_URL", "ws://env/bridge")
	t.Setenv("PLAYFIELDGUARD_BRIDGE_TOKEN", "secret")
	t.Setenv("PLAYFIELDGUARD_LOG_LEVEL", "error")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("bridge-url", "", "")
	flags.String("log-level", "info", "")
	flags.String("log-format", "json", "")
	require.NoError(t, flags.Parse([]string{"--bridge-url=ws://flag/bridge", "--log-format=text"}))

	cfg, err := Load(Options{Path: path, Flags: flags})
	require.NoError(t, err)

	assert.Equal(t, "ws://flag/bridge", cfg.Bridge.URL, "set flag beats env")
	assert.Equal(t, "secret", cfg.Bridge.Token, "env fills token")
	assert.Equal(t, "error", cfg.Log.Level, "env beats file, unset flag does not override")
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestWriteDefault(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, WriteDefault(path))
	assert.Error(t, WriteDefault(path), "must not overwrite")

	// Starter config passes the schema but still needs a fallback playfield
	_, err := Load(Options{Path: path})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeInvalid)
	errutil.AssertErrorContext(t, err, "field", "fallback_playfield")
}
