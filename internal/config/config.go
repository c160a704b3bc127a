// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads and validates playfieldguard configuration.
package config

import (
	"math"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/holomush/playfieldguard/internal/history"
	"github.com/holomush/playfieldguard/internal/logging"
)

// Error codes for configuration failures.
const (
	CodeInvalid       = "CONFIG_INVALID"
	CodeLoadFailed    = "CONFIG_LOAD_FAILED"
	CodeSchemaInvalid = "CONFIG_SCHEMA_INVALID"
)

// Default values.
const (
	DefaultBootMessage        = "You are not allowed to enter this faction's playfield."
	DefaultImmunePermission   = math.MaxInt32
	DefaultDistanceFromPlanet = 300
	DefaultMessageDuration    = 10 * time.Second
	DefaultEventTimeout       = 5 * time.Second
	DefaultRequestTimeout     = 5 * time.Second
	DefaultDialAttempts       = 5
	DefaultAPIVersion         = ">= 1.0.0, < 2.0.0"
	DefaultBridgeURL          = "ws://127.0.0.1:12345/bridge"
	DefaultLogFormat          = "json"
	DefaultLogLevel           = "info"
	DefaultMetricsAddr        = "127.0.0.1:9100"
)

// Config is the full process configuration. It is read once at startup.
type Config struct {
	BootMessage           string         `koanf:"boot_message" jsonschema:"description=Warning shown to a player before they are moved out"`
	ImmunePermissionLevel int            `koanf:"immune_permission_level" jsonschema:"description=Minimum admin permission exempt from restrictions"`
	FactionHomeWorlds     map[string]int `koanf:"faction_home_worlds" jsonschema:"description=Restricted playfield name to owning faction id"`
	FallbackPlayfield     string         `koanf:"fallback_playfield" jsonschema:"description=Destination when a player has no usable history"`
	DistanceFromPlanet    float64        `koanf:"distance_from_planet" jsonschema:"minimum=0,description=Teleport offset on every axis"`
	HistoryCapacity       int            `koanf:"history_capacity" jsonschema:"minimum=1,description=Playfields remembered per player"`
	EventTimeout          time.Duration  `koanf:"event_timeout" jsonschema:"description=Deadline for handling one host event"`
	AdminConfig           string         `koanf:"admin_config" jsonschema:"description=Path of the host adminconfig.yaml"`
	MetricsAddr           string         `koanf:"metrics_addr" jsonschema:"description=Metrics and health listen address (empty disables)"`
	Message               MessageConfig  `koanf:"message"`
	Bridge                BridgeConfig   `koanf:"bridge"`
	Log                   LogConfig      `koanf:"log"`
}

// MessageConfig controls the warning message.
type MessageConfig struct {
	Priority int           `koanf:"priority" jsonschema:"minimum=0"`
	Duration time.Duration `koanf:"duration"`
}

// BridgeConfig controls the connection to the host bridge.
type BridgeConfig struct {
	URL            string        `koanf:"url"`
	Token          string        `koanf:"token"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	DialAttempts   int           `koanf:"dial_attempts" jsonschema:"minimum=1"`
	APIVersion     string        `koanf:"api_version" jsonschema:"description=Semver constraint the host API version must satisfy"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Format string `koanf:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// Default returns a configuration with every default applied. The fallback
// playfield has no default and must be configured.
func Default() *Config {
	return &Config{
		BootMessage:           DefaultBootMessage,
		ImmunePermissionLevel: DefaultImmunePermission,
		FactionHomeWorlds:     map[string]int{},
		DistanceFromPlanet:    DefaultDistanceFromPlanet,
		HistoryCapacity:       history.DefaultCapacity,
		EventTimeout:          DefaultEventTimeout,
		MetricsAddr:           DefaultMetricsAddr,
		Message: MessageConfig{
			Duration: DefaultMessageDuration,
		},
		Bridge: BridgeConfig{
			URL:            DefaultBridgeURL,
			RequestTimeout: DefaultRequestTimeout,
			DialAttempts:   DefaultDialAttempts,
			APIVersion:     DefaultAPIVersion,
		},
		Log: LogConfig{
			Format: DefaultLogFormat,
			Level:  DefaultLogLevel,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(field string, format string, args ...any) error {
		return oops.In("config").Code(CodeInvalid).With("field", field).Errorf(format, args...)
	}

	if c.FallbackPlayfield == "" {
		return invalid("fallback_playfield", "fallback_playfield must be set")
	}
	if c.HistoryCapacity < 1 {
		return invalid("history_capacity", "history_capacity must be at least 1, got %d", c.HistoryCapacity)
	}
	if c.DistanceFromPlanet < 0 {
		return invalid("distance_from_planet", "distance_from_planet must not be negative, got %v", c.DistanceFromPlanet)
	}
	if c.EventTimeout <= 0 {
		return invalid("event_timeout", "event_timeout must be positive")
	}
	if c.Message.Duration < 0 {
		return invalid("message.duration", "message.duration must not be negative")
	}
	if c.Bridge.URL == "" {
		return invalid("bridge.url", "bridge.url is required")
	}
	if c.Bridge.RequestTimeout <= 0 {
		return invalid("bridge.request_timeout", "bridge.request_timeout must be positive")
	}
	if c.Bridge.DialAttempts < 1 {
		return invalid("bridge.dial_attempts", "bridge.dial_attempts must be at least 1")
	}
	if _, err := semver.NewConstraint(c.Bridge.APIVersion); err != nil {
		return oops.In("config").Code(CodeInvalid).With("field", "bridge.api_version").Wrap(err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.In("config").Code(CodeInvalid).With("field", "log.level").Wrap(err)
	}
	for playfield := range c.FactionHomeWorlds {
		if playfield == "" {
			return invalid("faction_home_worlds", "faction_home_worlds contains an empty playfield name")
		}
	}
	return nil
}
