package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/Bookwise/internal/app"
	"github.com/markdave123-py/Bookwise/internal/config"
	"github.com/markdave123-py/Bookwise/internal/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.LoadConfig()
	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer application.Close()

	if err := application.Start(ctx); err != nil {
		log.Error().Err(err).Msg("start failed")
		return
	}
	log.Info().Msg("Bookwise is running")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := application.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
		os.Exit(1)
	}
}
