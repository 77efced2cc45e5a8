package log

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
)

// Config selects the process-wide log level and output format.
type Config struct {
	Level  string
	Format string
}

// FromEnv overlays ARTIO_LOG_LEVEL and ARTIO_LOG_FORMAT onto cfg and
// fills whatever is still empty with info/text. A nil cfg starts from an
// empty one.
func FromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = &Config{}
	}
	if v := os.Getenv("ARTIO_LOG_LEVEL"); v != "" {
		cfg.Level = v
	}
	if v := os.Getenv("ARTIO_LOG_FORMAT"); v != "" {
		cfg.Format = v
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	return cfg
}

// ApplyConfig builds a Logger from the given Config.
func ApplyConfig(cfg *Config) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var formatter Formatter
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	return NewLogger(WithLevel(level), WithFormatter(formatter)), nil
}

// RedirectStdLog routes standard library log output (used by Pebble) to the
// given logger at info level.
func RedirectStdLog(l Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdWriter{l})
}

type stdWriter struct{ l Logger }

func (w stdWriter) Write(p []byte) (int, error) {
	w.l.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
