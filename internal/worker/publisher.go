package worker

import (
	"context"
	"time"

	"github.com/codechallenge/login-processing-service/internal/logger"
	"github.com/codechallenge/login-processing-service/internal/metrics"
	"github.com/codechallenge/login-processing-service/internal/model"
	"github.com/codechallenge/login-processing-service/internal/repository"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Publisher drains the outbox on a fixed interval. Each tick claims a batch
// of NEW records (locked with SKIP LOCKED so replicas never fight over a
// row), publishes them to Kafka, and records the disposition. One record's
// failure never aborts the rest of the batch.
type Publisher struct {
	Txr      repository.TxRunner
	Outbox   repository.OutboxRepository
	Producer Producer

	PollInterval   time.Duration // default 500ms
	BatchSize      int           // default 50
	MaxRetries     int           // default 10; after this many failed attempts a record turns FAILED
	PublishTimeout time.Duration // default 10s, per send
	MaxErrorLen    int           // default 2000, cap on stored error text
}

func NewPublisher(txr repository.TxRunner, outbox repository.OutboxRepository, producer Producer) *Publisher {
	return &Publisher{
		Txr:            txr,
		Outbox:         outbox,
		Producer:       producer,
		PollInterval:   500 * time.Millisecond,
		BatchSize:      50,
		MaxRetries:     10,
		PublishTimeout: 10 * time.Second,
		MaxErrorLen:    2000,
	}
}

// Run ticks until ctx is cancelled. Ticks never overlap: the next one waits
// for the previous batch to finish.
func (p *Publisher) Run(ctx context.Context) error {
	tick := time.NewTicker(p.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if err := p.PublishBatch(ctx); err != nil {
				logger.Log.Error("outbox batch failed", zap.Error(err))
			}
		}
	}
}

// PublishBatch claims and publishes one batch. Claimed rows stay locked for
// the duration of the transaction; their status updates commit together.
func (p *Publisher) PublishBatch(ctx context.Context) error {
	return p.Txr.RunInTx(ctx, func(tx *sqlx.Tx) error {
		batch, err := p.Outbox.ClaimBatch(ctx, tx, p.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		metrics.OutboxBatchSize.Observe(float64(len(batch)))
		logger.Log.Info("publishing outbox batch", zap.Int("size", len(batch)))

		for i := range batch {
			p.publishOne(ctx, tx, &batch[i])
		}
		return nil
	})
}

func (p *Publisher) publishOne(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) {
	sendCtx, cancel := context.WithTimeout(ctx, p.PublishTimeout)
	err := p.Producer.Publish(sendCtx, event.Topic, []byte(event.Key), event.Payload)
	cancel()

	now := time.Now()
	if err == nil {
		event.MarkSent(now)
		metrics.OutboxPublishTotal.WithLabelValues("sent").Inc()
	} else {
		msg := truncateError(err.Error(), p.MaxErrorLen)
		event.MarkAttemptFailed(now, msg)

		if event.RetryCount >= p.MaxRetries {
			event.MarkFailedPermanently(now, msg)
			metrics.OutboxPublishTotal.WithLabelValues("failed").Inc()
			logger.Log.Warn("outbox event permanently failed",
				zap.String("id", event.ID),
				zap.Int("retries", event.RetryCount),
				zap.Error(err),
			)
		} else {
			metrics.OutboxPublishTotal.WithLabelValues("retried").Inc()
			logger.Log.Warn("outbox publish failed",
				zap.String("id", event.ID),
				zap.Int("retry_count", event.RetryCount),
				zap.Error(err),
			)
		}
	}

	if err := p.Outbox.Update(ctx, tx, *event); err != nil {
		// a version conflict means another writer touched the row; the
		// claim lock makes that unexpected, so it is worth a loud log
		logger.Log.Error("outbox update failed",
			zap.String("id", event.ID),
			zap.Error(err),
		)
	}
}

func truncateError(msg string, max int) string {
	if max > 0 && len(msg) > max {
		return msg[:max]
	}
	return msg
}
