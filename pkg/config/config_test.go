package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/chatsync/pkg/adapter"
	"github.com/go-go-golems/chatsync/pkg/completion"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	s, err := Decode(v)
	require.NoError(t, err)

	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, completion.DefaultModel, s.Completion.Model)
	assert.Equal(t, "none", s.Remote.Kind)
	assert.Equal(t, 0, s.Remote.Retry.Attempts)
	assert.Equal(t, 200*time.Millisecond, s.Remote.Retry.BaseDelay)
	assert.Equal(t, "sqlite", s.StoreServer.Backend.Kind)
	assert.Equal(t, ":8787", s.Proxy.Addr)
	assert.Equal(t, completion.DefaultMaxTokens, s.Proxy.DefaultMaxTokens)
	assert.Equal(t, adapter.DefaultErrorMessage, s.ErrorMessage)
	assert.False(t, s.Completion.Configured())
}

func TestInitReadsFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
completion:
  model: file-model
  max-tokens: 512
remote:
  kind: sqlite
  gorm:
    dsn: /tmp/chats.db
  retry:
    attempts: 3
    base-delay: 1s
proxy:
  token: from-file
`), 0o600))

	t.Setenv("CHATSYNC_COMPLETION_API_KEY", "sk-env")
	t.Setenv("CHATSYNC_PROXY_TOKEN", "from-env")

	v := viper.New()
	require.NoError(t, Init(v, path))
	s, err := Decode(v)
	require.NoError(t, err)

	assert.Equal(t, "file-model", s.Completion.Model)
	assert.Equal(t, 512, s.Completion.MaxTokens)
	assert.Equal(t, "sk-env", s.Completion.APIKey)
	assert.True(t, s.Completion.Configured())
	assert.Equal(t, "sqlite", s.Remote.Kind)
	assert.Equal(t, "/tmp/chats.db", s.Remote.Gorm.DSN)
	assert.Equal(t, 3, s.Remote.Retry.Attempts)
	assert.Equal(t, time.Second, s.Remote.Retry.BaseDelay)
	assert.Equal(t, "from-env", s.Proxy.Token)
}

func TestInitWithoutConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	v := viper.New()
	require.NoError(t, Init(v, ""))
	_, err := Decode(v)
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(v *viper.Viper)
	}{
		{name: "log format", modify: func(v *viper.Viper) { v.Set("log.format", "xml") }},
		{name: "auth mode", modify: func(v *viper.Viper) { v.Set("completion.auth-mode", "cookie") }},
		{name: "max tokens", modify: func(v *viper.Viper) { v.Set("completion.max-tokens", 0) }},
		{name: "remote kind", modify: func(v *viper.Viper) { v.Set("remote.kind", "postgres") }},
		{name: "http without url", modify: func(v *viper.Viper) { v.Set("remote.kind", "http") }},
		{name: "negative retries", modify: func(v *viper.Viper) { v.Set("remote.retry.attempts", -1) }},
		{name: "store server over http", modify: func(v *viper.Viper) {
			v.Set("store-server.backend.kind", "http")
			v.Set("store-server.backend.url", "https://example.com")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			tt.modify(v)
			_, err := Decode(v)
			assert.Error(t, err)
		})
	}
}
