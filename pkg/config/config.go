package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-go-golems/chatsync/pkg/adapter"
	"github.com/go-go-golems/chatsync/pkg/completion"
	"github.com/go-go-golems/chatsync/pkg/logging"
	"github.com/go-go-golems/chatsync/pkg/proxy"
	"github.com/go-go-golems/chatsync/pkg/remote"
	"github.com/go-go-golems/chatsync/pkg/security"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "chatsync"

// CompletionSettings configures the completion endpoint used by the chat
// client. Point BaseURL at a chatsync proxy with AuthMode "bearer" to keep
// the provider key off the client.
type CompletionSettings struct {
	BaseURL            string `mapstructure:"base-url"`
	APIKey             string `mapstructure:"api-key"`
	AuthMode           string `mapstructure:"auth-mode"`
	Model              string `mapstructure:"model"`
	MaxTokens          int    `mapstructure:"max-tokens"`
	AllowHTTP          bool   `mapstructure:"allow-http"`
	AllowLocalNetworks bool   `mapstructure:"allow-local-networks"`
}

// Configured reports whether a completer can be built. Without a key the chat
// input stays disabled.
func (c CompletionSettings) Configured() bool {
	return c.APIKey != ""
}

func (c CompletionSettings) NewClient() (*completion.Client, error) {
	return completion.NewClient(c.BaseURL, c.APIKey, security.OutboundURLOptions{
		AllowHTTP:          c.AllowHTTP,
		AllowLocalNetworks: c.AllowLocalNetworks,
	},
		completion.WithAuthMode(completion.AuthMode(c.AuthMode)),
		completion.WithDefaultModel(c.Model),
		completion.WithDefaultMaxTokens(c.MaxTokens),
	)
}

type ProxyServerSettings struct {
	Addr           string `mapstructure:"addr"`
	proxy.Settings `mapstructure:",squash"`
}

// StoreServerSettings configures `store serve`, which exposes Backend over
// the REST protocol the http remote kind speaks.
type StoreServerSettings struct {
	Addr    string          `mapstructure:"addr"`
	APIKey  string          `mapstructure:"api-key"`
	Backend remote.Settings `mapstructure:"backend"`
}

type Settings struct {
	Log          logging.Settings    `mapstructure:"log"`
	Completion   CompletionSettings  `mapstructure:"completion"`
	Remote       remote.Settings     `mapstructure:"remote"`
	Proxy        ProxyServerSettings `mapstructure:"proxy"`
	StoreServer  StoreServerSettings `mapstructure:"store-server"`
	ErrorMessage string              `mapstructure:"error-message"`
}

// SetDefaults registers every key, which also makes them visible to
// AutomaticEnv during Unmarshal.
func SetDefaults(v *viper.Viper) {
	ls := logging.DefaultSettings()
	v.SetDefault("log.level", ls.Level)
	v.SetDefault("log.format", ls.Format)
	v.SetDefault("log.file", ls.File)
	v.SetDefault("log.max-size-mb", ls.MaxSizeMB)
	v.SetDefault("log.max-backups", ls.MaxBackups)
	v.SetDefault("log.with-caller", ls.WithCaller)

	v.SetDefault("completion.base-url", completion.DefaultBaseURL)
	v.SetDefault("completion.api-key", "")
	v.SetDefault("completion.auth-mode", string(completion.AuthAPIKey))
	v.SetDefault("completion.model", completion.DefaultModel)
	v.SetDefault("completion.max-tokens", completion.DefaultMaxTokens)
	v.SetDefault("completion.allow-http", false)
	v.SetDefault("completion.allow-local-networks", false)

	setRemoteDefaults(v, "remote", "none")

	v.SetDefault("proxy.addr", ":8787")
	v.SetDefault("proxy.token", "")
	v.SetDefault("proxy.api-key", "")
	v.SetDefault("proxy.upstream-url", completion.DefaultBaseURL)
	v.SetDefault("proxy.default-model", completion.DefaultModel)
	v.SetDefault("proxy.default-max-tokens", completion.DefaultMaxTokens)
	v.SetDefault("proxy.upstream-timeout", 60*time.Second)
	v.SetDefault("proxy.allow-http", false)
	v.SetDefault("proxy.allow-local-networks", false)

	v.SetDefault("store-server.addr", ":8788")
	v.SetDefault("store-server.api-key", "")
	setRemoteDefaults(v, "store-server.backend", "sqlite")

	v.SetDefault("error-message", adapter.DefaultErrorMessage)
}

func setRemoteDefaults(v *viper.Viper, prefix string, kind string) {
	v.SetDefault(prefix+".kind", kind)
	v.SetDefault(prefix+".url", "")
	v.SetDefault(prefix+".api-key", "")
	v.SetDefault(prefix+".allow-http", false)
	v.SetDefault(prefix+".allow-local-networks", false)
	v.SetDefault(prefix+".gorm.driver", "")
	v.SetDefault(prefix+".gorm.dsn", "chatsync.db")
	v.SetDefault(prefix+".gorm.max-idle-conns", 2)
	v.SetDefault(prefix+".gorm.max-open-conns", 0)
	v.SetDefault(prefix+".gorm.conn-max-lifetime", time.Duration(0))
	v.SetDefault(prefix+".redis.addr", "localhost:6379")
	v.SetDefault(prefix+".redis.password", "")
	v.SetDefault(prefix+".redis.db", 0)
	v.SetDefault(prefix+".redis.prefix", "chatsync")
	v.SetDefault(prefix+".retry.attempts", 0)
	v.SetDefault(prefix+".retry.base-delay", 200*time.Millisecond)
	v.SetDefault(prefix+".retry.max-delay", 5*time.Second)
}

// Init prepares v: defaults, .env from the working directory, CHATSYNC_*
// environment variables and the config file. configFile may be empty, in
// which case $HOME/.chatsync/config.yaml and ./config.yaml are looked up. A
// missing config file is not an error.
func Init(v *viper.Viper, configFile string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "loading .env")
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".chatsync"))
		}
		v.AddConfigPath(".")
	}

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "reading config file")
	}
	log.Debug().Str("config", v.ConfigFileUsed()).Msg("Loaded configuration")
	return nil
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

var remoteKinds = map[string]bool{"": true, "none": true, "http": true, "sqlite": true, "mysql": true, "redis": true}

func validateRemote(key string, s remote.Settings) error {
	if !remoteKinds[s.Kind] {
		return errors.Errorf("%s.kind: unknown backend %q", key, s.Kind)
	}
	if s.Kind == "http" && s.URL == "" {
		return errors.Errorf("%s.url is required for the http backend", key)
	}
	if s.Retry.Attempts < 0 {
		return errors.Errorf("%s.retry.attempts must not be negative", key)
	}
	return nil
}

func (s *Settings) Validate() error {
	switch s.Log.Format {
	case "", "auto", "text", "json":
	default:
		return errors.Errorf("log.format: unknown format %q", s.Log.Format)
	}

	switch completion.AuthMode(s.Completion.AuthMode) {
	case completion.AuthAPIKey, completion.AuthBearer:
	default:
		return errors.Errorf("completion.auth-mode: unknown mode %q", s.Completion.AuthMode)
	}
	if s.Completion.MaxTokens <= 0 {
		return errors.New("completion.max-tokens must be positive")
	}

	if err := validateRemote("remote", s.Remote); err != nil {
		return err
	}
	if err := validateRemote("store-server.backend", s.StoreServer.Backend); err != nil {
		return err
	}
	if s.StoreServer.Backend.Kind == "http" {
		return errors.New("store-server.backend.kind: the store server cannot proxy another http backend")
	}
	return nil
}
