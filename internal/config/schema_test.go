// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, SchemaID, schema["$id"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"fallback_playfield", "faction_home_worlds", "bridge", "message", "log"} {
		assert.Contains(t, props, key)
	}

	timeout, ok := props["event_timeout"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", timeout["type"])
	assert.NotContains(t, schema, "required")
}

func TestValidateSchema(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{name: "empty document", yaml: ""},
		{name: "minimal", yaml: "fallback_playfield: Haven\n"},
		{name: "nested", yaml: "bridge:\n  url: ws://x\n  dial_attempts: 3\n"},
		{name: "duration", yaml: "event_timeout: 1m30s\n"},
		{name: "bad duration", yaml: "event_timeout: soon\n", wantErr: true},
		{name: "unknown nested key", yaml: "bridge:\n  port: 1\n", wantErr: true},
		{name: "bad log format", yaml: "log:\n  format: xml\n", wantErr: true},
		{name: "zero capacity", yaml: "history_capacity: 0\n", wantErr: true},
		{name: "invalid yaml", yaml: "bridge: [", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchema([]byte(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFormatSchemaError(t *testing.T) {
	assert.Equal(t, "", FormatSchemaError(nil))
	assert.Equal(t, "bad value", FormatSchemaError(errors.New("wrapped: schema validation failed: bad value")))
	assert.Equal(t, "plain", FormatSchemaError(errors.New("plain")))
}
