package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Env   string // development -> console; anything else -> JSON
	Level string // trace, debug, info, warn, error
}

// Logger wraps zerolog so it can be injected.
type Logger struct {
	zl zerolog.Logger
}

func New(cfg Config) *Logger {
	return newWithWriter(cfg, os.Stdout)
}

func newWithWriter(cfg Config, out io.Writer) *Logger {
	w := out
	if cfg.Env == "development" {
		w = zerolog.ConsoleWriter{Out: out}
	}

	zl := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	log.Logger = zl

	return &Logger{zl: zl}
}

func ParseLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) Info() *zerolog.Event { return l.zl.Info() }

// ForParty returns a sub-logger tagged with the node's party name.
func (l *Logger) ForParty(party string) zerolog.Logger {
	return l.zl.With().Str("party", party).Logger()
}
