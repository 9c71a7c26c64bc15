package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger. Unknown levels fall back to info.
func Setup(level, format string) {
	SetupWriter(os.Stderr, level, format)
}

func SetupWriter(out io.Writer, level, format string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	if format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).
			With().
			Timestamp().
			Logger()
		return
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// ForResearch returns a logger carrying the research and run identifiers.
func ForResearch(researchID, runID string) zerolog.Logger {
	ctx := log.With().Str("research_id", researchID)
	if runID != "" {
		ctx = ctx.Str("run_id", runID)
	}
	return ctx.Logger()
}
