package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("launching worker", "transaction_id", "t1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "launching worker", entry["msg"])
	assert.Equal(t, "t1", entry["transaction_id"])
}

func TestNew_TextDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)

	logger.Debug("found agent transaction", "transaction_id", "t1")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "transaction_id=t1")
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Level: "verbose"}.Validate())
	assert.Error(t, Config{Level: "info", Format: "xml"}.Validate())

	_, err := New(Config{Level: "trace"}, &bytes.Buffer{})
	assert.Error(t, err)
}
