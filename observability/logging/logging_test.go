package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWriterEmitsTaggedJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := SetupWriter("hmd", "test", &buf, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("call committed", "height", 7, Secret("passphrase", "hunter2"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "call committed", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "hmd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, float64(7), line["height"])
	require.Equal(t, RedactedValue, line["passphrase"])
	require.Contains(t, line, "timestamp")
}

func TestSetupWriterBridgesStdLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(prev)
		log.SetOutput(os.Stderr)
	})

	var buf bytes.Buffer
	SetupWriter("hm-cli", "", &buf, slog.LevelInfo)
	log.Print("legacy line")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "legacy line", line["message"])
	require.NotContains(t, line, "env")
}

func TestSecretLeavesEmptyValues(t *testing.T) {
	require.Equal(t, "", Secret("token", " ").Value.String())
}
