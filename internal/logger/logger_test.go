package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Level(t *testing.T) {
	log, closer, err := New("debug", "")
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, zerolog.DebugLevel, log.GetLevel())

	log, _, err = New("", "")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())

	_, _, err = New("loud", "")
	assert.Error(t, err)
}

func TestNew_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "shinkrometa.log")

	log, closer, err := New("info", path)
	require.NoError(t, err)

	log.Info().Str("module", "test").Msg("hello")
	log.Debug().Msg("filtered")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"hello"`)
	assert.Contains(t, string(b), `"module":"test"`)
	assert.NotContains(t, string(b), "filtered")
}
