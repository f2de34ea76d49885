package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a new zerolog logger with console output
func NewLogger() zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(output).With().Timestamp().Logger()
}

// New builds the root logger at level. When path is set every entry is also
// written as JSON to a rotating file; the returned closer releases it.
func New(level, path string) (zerolog.Logger, io.Closer, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return zerolog.Nop(), nil, errors.Wrapf(err, "invalid log level %q", level)
		}
		lvl = parsed
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	if path == "" {
		return zerolog.New(console).Level(lvl).With().Timestamp().Logger(), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return zerolog.Nop(), nil, errors.Wrapf(err, "failed to create log directory for %s", path)
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	log := zerolog.New(zerolog.MultiLevelWriter(console, file)).Level(lvl).With().Timestamp().Logger()
	return log, file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
