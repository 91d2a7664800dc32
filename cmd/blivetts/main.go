package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"bliveTTS/internal/app/runtime"
	"bliveTTS/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.GetDefaultLogger()

	run, err := runtime.Start(ctx, runtime.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}

	<-ctx.Done()

	logger.Info().Msg("shutting down")
	run.Stop()
}
