package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"reviewq/internal/api"
	"reviewq/internal/config"
	"reviewq/internal/infra/redisq"
	"reviewq/internal/infra/sqlstore"
	"reviewq/internal/logging"
	"reviewq/internal/ports"
	"reviewq/internal/usecase"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func apiCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "api",
		Short: "Start API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := logging.Setup(cfg.LogLevel); err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTP.Port = port
			}
			return serve(cfg)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
	return command
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rc *redisq.Client
	if cfg.Store.Driver == config.DriverRedis || cfg.Redis.DLQStreamKey != "" {
		rc = redisq.New(cfg.Redis)
		if err := rc.Connect(ctx); err != nil {
			return err
		}
		defer rc.Close()
	}

	var store ports.ReviewStore
	switch cfg.Store.Driver {
	case config.DriverRedis:
		store = redisq.NewReviewStore(rc)
	default:
		s, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	q := usecase.NewQueue(store, usecase.Options{
		MaxAttempts:      cfg.Queue.MaxAttempts,
		BaseDelay:        cfg.Queue.BaseDelay,
		MaxDelay:         cfg.Queue.MaxDelay,
		MaxJitter:        cfg.Queue.MaxJitter,
		AttemptTimeout:   cfg.Queue.AttemptTimeout,
		SubscriberBuffer: cfg.Queue.SubscriberBuffer,
	})
	log.Info().Str("store", cfg.Store.Driver).Int("max_attempts", cfg.Queue.MaxAttempts).Msg("job queue started")

	if cfg.Queue.Retention > 0 {
		janitor := usecase.NewJanitor(q, cfg.Queue.Retention, cfg.Queue.SweepInterval)
		go func() {
			if err := janitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Ctx(ctx).Error().Err(err).Msg("janitor stopped with error")
			}
		}()
	}

	if cfg.Redis.DLQStreamKey != "" {
		dlq := redisq.NewDeadLetter(rc)
		sub := q.Subscribe()
		go func() {
			if err := dlq.Run(ctx, sub); err != nil && !errors.Is(err, context.Canceled) {
				log.Ctx(ctx).Error().Err(err).Msg("dead letter forwarder stopped with error")
			}
		}()
	}

	server := api.NewServer(q, cfg.HTTP)
	serveErr := server.Run(ctx, cfg.HTTP.Port)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.Close(closeCtx); err != nil {
		log.Warn().Err(err).Msg("job queue did not drain before shutdown")
	}
	return serveErr
}
