// Command quotad serves hierarchical admission control in front of a demo gRPC
// health service and HTTP API.
//
// Usage:
//
//	quotad serve --config quota.yaml
//	quotad validate --config quota.yaml
package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the gRPC and HTTP servers."`
	Validate ValidateCmd `cmd:"" help:"Validate a limit configuration file."`

	Config    string `short:"c" help:"Path to the limit config file." type:"path" default:"quota.yaml"`
	LogLevel  string `help:"Log level (trace, debug, info, warn, error)." default:"info"`
	LogPretty bool   `help:"Human-readable console logs instead of JSON."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("quotad"),
		kong.Description("Hierarchical rate limiting for gRPC and HTTP services."),
		kong.UsageOnError(),
	)

	setupLogging(cli.LogLevel, cli.LogPretty)

	if err := kctx.Run(&cli); err != nil {
		log.Error().Err(err).Msg("quotad exited with error")
		os.Exit(1)
	}
}

func setupLogging(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
