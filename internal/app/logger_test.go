package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", AppEnv: "production"})

	logger.Debug("hidden")
	logger.Info("adjusted", "lot_id", "abc")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "adjusted", entry["msg"])
	require.Equal(t, "abc", entry["lot_id"])
	require.Contains(t, entry, "source")
}

func TestNewLoggerTextFormatLogsDebugOutsideProduction(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "pretty"})

	logger.Debug("lookup", "name", "damaged")
	require.Contains(t, buf.String(), "msg=lookup")
	require.Contains(t, buf.String(), "name=damaged")
}
