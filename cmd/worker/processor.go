package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codechallenge/login-processing-service/internal/cache"
	"github.com/codechallenge/login-processing-service/internal/config"
	"github.com/codechallenge/login-processing-service/internal/db"
	"github.com/codechallenge/login-processing-service/internal/kafka"
	"github.com/codechallenge/login-processing-service/internal/logger"
	"github.com/codechallenge/login-processing-service/internal/metrics"
	"github.com/codechallenge/login-processing-service/internal/repository"
	"github.com/codechallenge/login-processing-service/internal/service/login"
	"github.com/codechallenge/login-processing-service/internal/tracking"
	"github.com/codechallenge/login-processing-service/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processorCmd = &cobra.Command{
	Use:   "processor",
	Short: "Consume customer-login events and record tracking results",
	RunE:  runProcessor,
}

func runProcessor(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) Postgres
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

	// 3) optional redis dedup cache
	var dedup *cache.Dedup
	if cfg.Redis.Enabled {
		rdb, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			// dedup is an optimization; the unique constraint still holds
			logger.Log.Warn("redis unavailable, continuing without dedup cache", zap.Error(err))
		} else {
			defer func() { _ = rdb.Close() }()
			dedup = cache.NewDedup(rdb, cfg.Redis.DedupTTL)
		}
	}

	// 4) optional clickhouse audit
	var audit repository.CHLoginsRepository
	chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
		DSN:             cfg.ClickHouse.DSN,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
		PingTimeout:     cfg.ClickHouse.PingTimeout,
	})
	if err != nil {
		logger.Log.Warn("clickhouse unavailable, continuing without login audit", zap.Error(err))
	} else {
		defer func() { _ = chDB.Close() }()
		audit = repository.NewCHLoginsRepository(chDB)
	}

	// 5) tracking client + retry policy
	tracker := tracking.NewHTTPClient(
		cfg.Tracking.BaseURL,
		cfg.Tracking.Username,
		cfg.Tracking.Password,
		cfg.Tracking.Timeout,
	)
	retry := tracking.NewRetryPolicy(cfg.Tracking.MaxAttempts, cfg.Tracking.Backoff)

	// 6) service
	svc := login.New(
		repository.NewTxRunner(pg),
		repository.NewResultsRepository(pg),
		repository.NewOutboxRepository(pg),
		tracker,
		retry,
		dedup,
		audit,
		cfg.Kafka.OutputTopic,
	)

	// 7) kafka
	consumer := kafka.NewConsumerFromConfig(kafka.ConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.InputTopic,
		GroupID:        cfg.Kafka.GroupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	producer := kafka.NewProducerFromConfig(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	defer producer.Close()

	w := worker.NewProcessor(consumer, producer, svc, cfg.Kafka.DeadLetterTopic)

	// 8) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Info(">> processor started",
		zap.String("topic", cfg.Kafka.InputTopic),
		zap.String("group", cfg.Kafka.GroupID),
		zap.Int("workers", w.Workers),
	)

	return w.Run(ctx)
}
