package main

import (
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"flowair/internal/config"
)

type cli struct {
	Serve serveCmd `cmd:"" default:"1" help:"Run the chat HTTP service."`
	Seal  sealCmd  `cmd:"" help:"Seal a provider credential read from stdin with the current master key."`
	Grant grantCmd `cmd:"" help:"Set a user's credit balance and optionally their tier."`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("flowair"),
		kong.Description("Persona chat backend with a per-user credit ledger."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.Log.Level)

	kctx.FatalIfErrorf(kctx.Run(cfg))
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
