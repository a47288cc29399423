package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SanteonNL/orca/gtoken/cmd"
	"github.com/SanteonNL/orca/gtoken/otel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	config, err := cmd.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	zerolog.SetGlobalLevel(config.LogLevel)
	if err := config.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	command := ""
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	tracerProvider, err := otel.Initialize(ctx, config.OpenTelemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize OpenTelemetry")
	}

	err = cmd.Run(ctx, *config, command, os.Stdout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down OpenTelemetry")
	}
	if err != nil {
		log.Fatal().Err(err).Msgf("Command failed: %s", command)
	}
	log.Info().Msg("Goodbye!")
}
