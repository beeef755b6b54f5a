package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/codechallenge/login-processing-service/internal/config"
	"github.com/codechallenge/login-processing-service/internal/db"
	"github.com/codechallenge/login-processing-service/internal/kafka"
	"github.com/codechallenge/login-processing-service/internal/logger"
	"github.com/codechallenge/login-processing-service/internal/metrics"
	"github.com/codechallenge/login-processing-service/internal/repository"
	"github.com/codechallenge/login-processing-service/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var publisherCmd = &cobra.Command{
	Use:   "publisher",
	Short: "Publish pending outbox records to the output stream",
	RunE:  runPublisher,
}

func runPublisher(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	pg, err := db.NewPostgresConnection(cfg.Postgres.DSN, db.PostgresOpts{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		PingTimeout:     cfg.Postgres.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer pg.Close()

	producer := kafka.NewProducerFromConfig(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	defer producer.Close()

	p := worker.NewPublisher(
		repository.NewTxRunner(pg),
		repository.NewOutboxRepository(pg),
		producer,
	)

	// tune knobs
	if cfg.Outbox.PollInterval > 0 {
		p.PollInterval = cfg.Outbox.PollInterval
	}
	if cfg.Outbox.BatchSize > 0 {
		p.BatchSize = cfg.Outbox.BatchSize
	}
	if cfg.Outbox.MaxRetries > 0 {
		p.MaxRetries = cfg.Outbox.MaxRetries
	}
	if cfg.Outbox.PublishTimeout > 0 {
		p.PublishTimeout = cfg.Outbox.PublishTimeout
	}
	if cfg.Outbox.MaxErrorLen > 0 {
		p.MaxErrorLen = cfg.Outbox.MaxErrorLen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Info(">> outbox publisher started",
		zap.Duration("poll_interval", p.PollInterval),
		zap.Int("batch_size", p.BatchSize),
		zap.Int("max_retries", p.MaxRetries),
	)

	return p.Run(ctx)
}
