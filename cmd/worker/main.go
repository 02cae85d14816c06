package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/app"
	"github.com/dvloznov/statement-reconciler/internal/config"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// revalidateTimeout bounds one scheduled run.
const revalidateTimeout = 30 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}

	schedule := flag.String("schedule", cfg.RevalidateSchedule, "Cron schedule for revalidating pending records")
	once := flag.Bool("once", false, "Run one revalidation pass and exit")
	flag.Parse()

	// Initialize logger
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	services, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise services")
	}
	defer services.Close()

	if *once {
		revalidate(ctx, services, cfg.ValidatorID, log)
		return
	}

	c := cron.New(cron.WithLogger(cronLogger{log: log}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: log})))
	if _, err := c.AddFunc(*schedule, func() { revalidate(ctx, services, cfg.ValidatorID, log) }); err != nil {
		log.Fatal().Err(err).Str("schedule", *schedule).Msg("Invalid revalidation schedule")
	}

	c.Start()
	log.Info().Str("schedule", *schedule).Msg("Worker service started, waiting for schedule...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Let a running pass finish, then cancel anything still waiting.
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Revalidation still running, cancelling")
	}
	cancel()

	log.Info().Msg("Worker service stopped")
}

func revalidate(ctx context.Context, services *app.App, validatorID string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, revalidateTimeout)
	defer cancel()

	start := time.Now()
	n, err := services.Engine.RevalidatePending(ctx, validatorID)
	if err != nil {
		log.Error().Err(err).Msg("Revalidation failed")
		return
	}
	log.Info().Int("validated", n).Dur("took", time.Since(start)).Msg("Revalidated pending records")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
