// Entry point for pamqueryd, the query-execution core of the PAM database
// broker. Logging is bootstrapped here, before cobra ever runs a command,
// so that flag parsing errors and the serve command's own startup logging
// share one configured logger.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mateusfdl/infisical/cmd"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logLevel := os.Getenv("LOG_LEVEL")
	zeroLogLevel, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		zeroLogLevel = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(output).With().Timestamp().Str("service", "pamqueryd").Logger().Level(zeroLogLevel)

	if err := cmd.NewCmdPamQueryDaemon().Execute(); err != nil {
		log.Error().Err(err).Msg("pamqueryd exited with error")
		os.Exit(1)
	}
}
