// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/knadh/koanf/providers/file"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// CodeAdminConfigInvalid is returned when the host admin config cannot be read.
const CodeAdminConfigInvalid = "ADMIN_CONFIG_INVALID"

// AdminConfig is the subset of the host's adminconfig.yaml we read.
type AdminConfig struct {
	Elevated []ElevatedAccount `yaml:"Elevated"`
}

// ElevatedAccount is one entry of the host's elevated account list.
type ElevatedAccount struct {
	ID         string `yaml:"Id"`
	Name       string `yaml:"Name"`
	Permission int    `yaml:"Permission"`
}

// ParseAdminConfig returns the permission level per numeric account id.
// Entries whose id is not numeric are skipped since lookups could never
// match them. Duplicate ids keep the highest level.
func ParseAdminConfig(data []byte) (map[int64]int, error) {
	var cfg AdminConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, oops.In("access").Code(CodeAdminConfigInvalid).Wrap(err)
	}

	levels := make(map[int64]int, len(cfg.Elevated))
	for _, e := range cfg.Elevated {
		id, err := strconv.ParseInt(e.ID, 10, 64)
		if err != nil {
			slog.Warn("skipping elevated account with non-numeric id", "id", e.ID, "name", e.Name)
			continue
		}
		if cur, ok := levels[id]; !ok || e.Permission > cur {
			levels[id] = e.Permission
		}
	}
	return levels, nil
}

// PermissionTable maps account ids to permission levels.
// Lookups read an immutable snapshot; Replace swaps it atomically.
type PermissionTable struct {
	levels atomic.Pointer[map[int64]int]

	mu       sync.Mutex // guards provider
	provider *file.File
}

// NewPermissionTable creates a table from a level map. The map must not be
// modified afterwards.
func NewPermissionTable(levels map[int64]int) *PermissionTable {
	t := &PermissionTable{}
	t.Replace(levels)
	return t
}

// LoadPermissionTable reads the admin config at path. An empty path yields an
// empty table.
func LoadPermissionTable(path string) (*PermissionTable, error) {
	if path == "" {
		return NewPermissionTable(nil), nil
	}
	levels, err := readAdminConfig(file.Provider(path))
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return NewPermissionTable(levels), nil
}

// Replace installs a new level map.
func (t *PermissionTable) Replace(levels map[int64]int) {
	if levels == nil {
		levels = map[int64]int{}
	}
	t.levels.Store(&levels)
}

// Len returns the number of elevated accounts.
func (t *PermissionTable) Len() int {
	return len(*t.levels.Load())
}

// Lookup returns the permission of an account. Ids that do not parse or are
// absent are reported as unknown.
func (t *PermissionTable) Lookup(accountID string) Permission {
	id, err := strconv.ParseInt(accountID, 10, 64)
	if err != nil {
		return Permission{}
	}
	level, ok := (*t.levels.Load())[id]
	if !ok {
		return Permission{}
	}
	return Permission{Level: level, Known: true}
}

// Watch reloads the table whenever the file at path changes. A reload that
// fails keeps the previous table. Call Unwatch to stop.
func (t *PermissionTable) Watch(path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.provider != nil {
		return oops.In("access").With("path", path).Errorf("admin config already watched")
	}

	provider := file.Provider(path)
	err := provider.Watch(func(_ interface{}, err error) {
		if err != nil {
			logger.Warn("admin config watch error", "path", path, "error", err)
			return
		}
		levels, err := readAdminConfig(provider)
		if err != nil {
			logger.Warn("admin config reload failed, keeping previous permissions",
				"path", path, "error", err)
			return
		}
		t.Replace(levels)
		logger.Info("admin config reloaded", "path", path, "elevated", len(levels))
	})
	if err != nil {
		return oops.In("access").With("path", path).Wrap(err)
	}
	t.provider = provider
	return nil
}

// Unwatch stops watching the admin config file.
func (t *PermissionTable) Unwatch() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.provider == nil {
		return nil
	}
	err := t.provider.Unwatch()
	t.provider = nil
	if err != nil {
		return oops.In("access").Wrap(err)
	}
	return nil
}

func readAdminConfig(provider *file.File) (map[int64]int, error) {
	data, err := provider.ReadBytes()
	if err != nil {
		return nil, oops.In("access").Code(CodeAdminConfigInvalid).Wrap(err)
	}
	return ParseAdminConfig(data)
}
