// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Cleanup(func() { configFile = "" })

	cmd := NewRootCmd()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidateConfig_Valid(t *testing.T) {
	dir := t.TempDir()
	admin := filepath.Join(dir, "adminconfig.yaml")
	require.NoError(t, os.WriteFile(admin, []byte(`Elevated:
  - Id: "76561198000000001"
    Name: Admin
    Permission: 9
`), 0o600))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`fallback_playfield: Haven
faction_home_worlds:
  Omicron: 2
  Akua: 1
admin_config: `+admin+"\n"), 0o600))

	out, _, err := execute(t, "--config", path, "validate-config")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration OK")
	assert.Contains(t, out, "fallback playfield: Haven")
	assert.Contains(t, out, "restricted: Akua (faction 1)\n  restricted: Omicron (faction 2)")
	assert.Contains(t, out, "elevated accounts: 1")
}

func TestValidateConfig_FlagSuppliesFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("history_capacity: 4\n"), 0o600))

	out, _, err := execute(t, "--config", path, "validate-config", "--fallback-playfield", "Haven")
	require.NoError(t, err)
	assert.Contains(t, out, "fallback playfield: Haven")
}

func TestValidateConfig_MissingFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("history_capacity: 4\n"), 0o600))

	_, _, err := execute(t, "--config", path, "validate-config")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback_playfield")
}

func TestValidateConfig_SchemaViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fallback_playfield: Haven\nhistory_capacity: lots\n"), 0o600))

	_, stderr, err := execute(t, "--config", path, "validate-config")
	require.Error(t, err)
	assert.Contains(t, stderr, "schema:")
}

func TestInitConfig_WritesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, _, err := execute(t, "--config", path, "init-config")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, _, err = execute(t, "--config", path, "init-config")
	require.Error(t, err)
}

func TestSchema_PrintsJSONSchema(t *testing.T) {
	out, _, err := execute(t, "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "fallback_playfield")
	assert.Contains(t, props, "bridge")
}
