package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Environment: "production", ServiceName: "be-gl-closing", Version: "1.2.3", Output: &buf})

	log.Component("reminder_worker").Debug().Str("period_id", "p-1").Msg("tick")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "be-gl-closing", line["service"])
	assert.Equal(t, "1.2.3", line["version"])
	assert.Equal(t, "reminder_worker", line["component"])
	assert.Equal(t, "p-1", line["period_id"])
	assert.Equal(t, "debug", line["level"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "loud", Environment: "production", Output: &buf})

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}
