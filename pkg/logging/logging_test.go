package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New(Settings{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Settings{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsync.log")
	s := DefaultSettings()
	s.File = path
	s.Format = "json"
	s.Level = "debug"

	logger, err := New(s)
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
	logger.Debug().Str("conversation_id", "c1").Msg("hello")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"conversation_id":"c1"`)
	assert.Contains(t, string(b), `"message":"hello"`)
}
