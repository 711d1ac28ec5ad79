package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Production(t *testing.T) {
	logger := New("production")

	_, ok := logger.Handler().(*slog.JSONHandler)
	assert.True(t, ok, "production logger should use JSONHandler, got %T", logger.Handler())
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestNew_Development(t *testing.T) {
	for _, env := range []string{"development", "", "staging"} {
		logger := New(env)

		_, ok := logger.Handler().(*slog.TextHandler)
		assert.True(t, ok, "%q logger should use TextHandler, got %T", env, logger.Handler())
		assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
	}
}

type secret string

func (secret) LogValue() slog.Value {
	return slog.StringValue("xxx")
}

func TestLogValuerIsRedacted(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "production").Info("login", "token", secret("hunter2"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "xxx", line["token"])
	assert.NotContains(t, buf.String(), "hunter2")
}
