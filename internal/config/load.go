// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/playfieldguard/internal/xdg"
)

// DefaultFileName is the config file looked up in the XDG config directory.
const DefaultFileName = "config.yaml"

// envOverrides are deployment settings taken from the environment. Unset
// variables leave the pointer nil.
type envOverrides struct {
	BridgeURL   *string `env:"PLAYFIELDGUARD_BRIDGE_URL"`
	BridgeToken *string `env:"PLAYFIELDGUARD_BRIDGE_TOKEN"`
	AdminConfig *string `env:"PLAYFIELDGUARD_ADMIN_CONFIG"`
	LogLevel    *string `env:"PLAYFIELDGUARD_LOG_LEVEL"`
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"fallback-playfield": "fallback_playfield",
	"admin-config":       "admin_config",
	"metrics-addr":       "metrics_addr",
	"bridge-url":         "bridge.url",
	"log-format":         "log.format",
	"log-level":          "log.level",
}

// Options controls Load.
type Options struct {
	// Path of the YAML config file. Empty uses DefaultPath if it exists.
	Path string
	// Flags whose explicitly set values override the file and environment.
	Flags *pflag.FlagSet
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigDir(), DefaultFileName)
}

// Load builds the configuration from defaults, the config file, the
// environment and explicitly set flags, in increasing precedence, then
// validates it.
func Load(opts Options) (*Config, error) {
	cfg, err := load(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(opts Options) (*Config, error) {
	k := koanf.New(".")

	path, required := opts.Path, true
	if path == "" {
		path, required = DefaultPath(), false
	}
	if err := loadFile(k, path, required); err != nil {
		return nil, err
	}

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return nil, oops.In("config").Code(CodeLoadFailed).Wrap(err)
	}
	for key, val := range map[string]*string{
		"bridge.url":   overrides.BridgeURL,
		"bridge.token": overrides.BridgeToken,
		"admin_config": overrides.AdminConfig,
		"log.level":    overrides.LogLevel,
	} {
		if val == nil {
			continue
		}
		if err := k.Set(key, *val); err != nil {
			return nil, oops.In("config").Code(CodeLoadFailed).With("key", key).Wrap(err)
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Code(CodeLoadFailed).Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.In("config").Code(CodeLoadFailed).Wrap(err)
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string, required bool) error {
	provider := file.Provider(path)
	data, err := provider.ReadBytes()
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.In("config").Code(CodeLoadFailed).With("path", path).Wrap(err)
	}
	if err := ValidateSchema(data); err != nil {
		return oops.In("config").Code(CodeSchemaInvalid).With("path", path).Wrap(err)
	}
	if err := k.Load(provider, kyaml.Parser()); err != nil {
		return oops.In("config").Code(CodeLoadFailed).With("path", path).Wrap(err)
	}
	return nil
}

// WriteDefault writes a commented starter config to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return oops.In("config").With("path", path).Wrap(err)
	}
	if _, err := f.WriteString(starterConfig); err != nil {
		_ = f.Close()
		return oops.In("config").With("path", path).Wrap(err)
	}
	if err := f.Close(); err != nil {
		return oops.In("config").With("path", path).Wrap(err)
	}
	return nil
}

const starterConfig = `# playfieldguard configuration
boot_message: "You are not allowed to enter this faction's playfield."
# Players at or above this admin permission level are never moved.
immune_permission_level: 9
# Restricted playfield -> owning faction id.
faction_home_worlds: {}
# Where players without a usable history are sent. Required.
fallback_playfield: ""
distance_from_planet: 300
history_capacity: 10
event_timeout: 5s
admin_config: ""
metrics_addr: "127.0.0.1:9100"
message:
  priority: 0
  duration: 10s
bridge:
  url: "ws://127.0.0.1:12345/bridge"
  request_timeout: 5s
  dial_attempts: 5
  api_version: ">= 1.0.0, < 2.0.0"
log:
  format: json
  level: info
`
