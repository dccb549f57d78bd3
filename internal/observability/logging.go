package observability

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFile configures the optional rotating log file written next to stdout.
type LogFile struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NewLogger creates a structured JSON logger for one component.
// Level comes from TL_LOG_LEVEL, info by default.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, component, ParseLevel(os.Getenv("TL_LOG_LEVEL")))
}

// NewLoggerTo creates a component logger on an explicit writer and level.
func NewLoggerTo(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// Output returns stdout, or stdout plus a lumberjack rotated file when
// f.Path is set. The returned closer flushes the file.
func Output(f LogFile) (io.Writer, io.Closer, error) {
	if f.Path == "" {
		return os.Stdout, io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return nil, nil, err
	}
	fileLogger := &lumberjack.Logger{
		Filename:   f.Path,
		MaxSize:    orDefault(f.MaxSizeMB, 10),
		MaxBackups: orDefault(f.MaxBackups, 3),
		MaxAge:     orDefault(f.MaxAgeDays, 28),
		Compress:   f.Compress,
	}
	return io.MultiWriter(os.Stdout, fileLogger), fileLogger, nil
}

// ParseLevel maps a config string to a zerolog level. Unknown values
// fall back to info.
func ParseLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
