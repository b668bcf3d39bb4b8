package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consular/internal/platform/config"
)

func TestNew(t *testing.T) {
	t.Run("json output carries service attribute", func(t *testing.T) {
		var buf bytes.Buffer
		log := newWithWriter(&buf, config.LogConfig{Level: "info", Format: "json"})
		log.Info("request submitted", "request_id", "abc")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "consular", line["service"])
		assert.Equal(t, "abc", line["request_id"])
	})

	t.Run("level filters debug", func(t *testing.T) {
		var buf bytes.Buffer
		log := newWithWriter(&buf, config.LogConfig{Level: "warn", Format: "text"})
		log.Debug("hidden")
		log.Info("hidden too")
		assert.Empty(t, buf.String())
	})

	t.Run("unknown level defaults to info", func(t *testing.T) {
		assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
	})
}
