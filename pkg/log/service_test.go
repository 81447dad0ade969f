package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/mwantia/gostage/internal/config/server"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, Debug, Parse("debug"))
	assert.Equal(t, Warn, Parse(" WARNING "))
	assert.Equal(t, Error, Parse("Error"))
	assert.Equal(t, Info, Parse(""))
	assert.Equal(t, Info, Parse("verbose"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("gostage", "warn", &buf)

	logger.Debug("hidden %d", 1)
	logger.Info("hidden %d", 2)
	logger.Warn("visible %d", 3)
	logger.Error("visible %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible 3")
	assert.Contains(t, out, "visible 4")
}

func TestNamedLoggerPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("gostage", "info", &buf).Named("activator").Named("lto8")

	logger.Info("activated queue %s", "IT0001")

	assert.Contains(t, buf.String(), "[gostage/activator/lto8] activated queue IT0001")
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	impl := NewWriterLogger("gostage", "debug", &buf).(*LoggerServiceImpl)
	impl.cfg = config.LogServerConfig{Level: "debug", TimeFormat: "15:04:05", JSON: true}

	impl.Named("dispatcher").Debug("resolved %d requests", 12)

	var entry logEntry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "DEBUG", entry.Level)
	assert.Equal(t, "gostage/dispatcher", entry.Service)
	assert.Equal(t, "resolved 12 requests", entry.Message)
}
