package internal

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger. Production logs JSON; everything else
// gets the human-readable console writer.
func NewLogger(w io.Writer, env string, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	if env != "prod" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
