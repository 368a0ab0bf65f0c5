package logger_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/messaging-gateway/internal/logger"
)

func TestNewSetsGlobalLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
		"Warn":  zerolog.WarnLevel,
		"ERROR": zerolog.ErrorLevel,
	}

	for input, want := range cases {
		var buf bytes.Buffer
		_, err := logger.New("production", input, &buf)
		require.NoError(t, err)
		require.Equal(t, want, zerolog.GlobalLevel())
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := logger.New("production", "not-a-level")
	require.Error(t, err)
}

func TestNewEmitsJSONOutsideDevelopment(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New("production", "info", &buf)
	require.NoError(t, err)

	log.Info().Msg("hello")
	require.Contains(t, buf.String(), `"message":"hello"`)
}
