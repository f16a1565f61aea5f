package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: DebugLevel, Output: &buf, JSON: true})

	l.WithFields(map[string]interface{}{"worker": "scheduler"}).
		Error(errors.New("boom"), "tick failed", "notification_id", 42)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "tick failed", entry["message"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "scheduler", entry["worker"])
	assert.Equal(t, float64(42), entry["notification_id"])
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: WarnLevel, Output: &buf, JSON: true})

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestFromConfig_FallsBackToInfo(t *testing.T) {
	l := FromConfig("nonsense", "json")
	assert.Equal(t, InfoLevel, l.Zerolog().GetLevel())
}
