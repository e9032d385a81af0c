package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global logger. Production writes JSON to stdout;
// anything else gets the console writer on stderr.
func Setup(appEnv, level string) {
	setup(appEnv, level, os.Stdout, os.Stderr)
}

func setup(appEnv, level string, stdout, stderr io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if appEnv == "production" {
		log.Logger = zerolog.New(stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
	}
}
