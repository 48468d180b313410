package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLevel overrides the configured level.
const EnvLevel = "TECCTL_LOG_LEVEL"

var stdout io.Writer = os.Stdout

// Init builds the process logger: a console writer on stdout plus an
// uncoloured copy for every tee (the in-memory /api/logs buffer). It also
// replaces the zerolog global logger.
func Init(app, level string, tees ...io.Writer) (zerolog.Logger, error) {
	lvl, err := resolveLevel(level)

	writers := []io.Writer{zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339}}
	for _, w := range tees {
		if w == nil {
			continue
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true})
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger, err
}

// resolveLevel falls back to info and reports why when the level is unusable.
func resolveLevel(level string) (zerolog.Level, error) {
	if env := strings.TrimSpace(os.Getenv(EnvLevel)); env != "" {
		level = env
	}
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		return zerolog.InfoLevel, nil
	}
	return lvl, nil
}
