// Package logging configures the global zerolog logger from settings.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Settings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // text, json or auto
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max-size-mb"`
	MaxBackups int    `mapstructure:"max-backups"`
	WithCaller bool   `mapstructure:"with-caller"`
}

func DefaultSettings() Settings {
	return Settings{
		Level:      "info",
		Format:     "auto",
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// New builds a logger writing to stderr or, when File is set, to a rotating
// log file. The console writer is used for format "text", and for "auto" when
// stderr is a terminal.
func New(s Settings) (zerolog.Logger, error) {
	level, err := parseLevel(s.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	var out io.Writer = os.Stderr
	console := false
	switch strings.ToLower(s.Format) {
	case "text":
		console = true
	case "json":
	case "", "auto":
		console = s.File == "" && isatty.IsTerminal(os.Stderr.Fd())
	default:
		return zerolog.Nop(), errors.Errorf("unknown log format %q", s.Format)
	}

	if s.File != "" {
		out = &lumberjack.Logger{
			Filename:   s.File,
			MaxSize:    s.MaxSizeMB,
			MaxBackups: s.MaxBackups,
		}
	}
	if console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: s.File != ""}
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if s.WithCaller {
		ctx = ctx.Caller()
	}
	return ctx.Logger(), nil
}

// Init installs the logger built from s as the global logger.
func Init(s Settings) error {
	logger, err := New(s)
	if err != nil {
		return err
	}
	level, _ := parseLevel(s.Level)
	zerolog.SetGlobalLevel(level)
	log.Logger = logger
	return nil
}

func parseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "invalid log level %q", s)
	}
	return level, nil
}
