package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_SubTagsSubsystem(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug").Sub("session")

	log.Info().Str("addr", "pbx:5038").Msg("logged in")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session", entry["subsystem"])
	assert.Equal(t, "pbx:5038", entry["addr"])
	assert.Equal(t, "logged in", entry["message"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Debug().Msg("hidden")
	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("visible")
	assert.NotZero(t, buf.Len())
}

func TestLogger_SilentDisablesOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "silent")

	log.Error().Msg("dropped")
	assert.Zero(t, buf.Len())
}

func TestParseLevel_UnknownDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "chatty")

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	log.Info().Msg("visible")
	assert.NotZero(t, buf.Len())
}
