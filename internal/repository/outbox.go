package repository

import (
	"context"
	"errors"

	"github.com/codechallenge/login-processing-service/internal/model"
	"github.com/jmoiron/sqlx"
)

// ErrVersionConflict is returned when an optimistic-version update matched
// no row, meaning another writer got there first.
var ErrVersionConflict = errors.New("outbox event version conflict")

// OutboxRepository defines persistence for the outbox_event table.
type OutboxRepository interface {
	// InsertIgnore writes one outbox row; a conflict on
	// (aggregate_type, aggregate_id, event_type) makes it a no-op, which
	// deduplicates concurrent writers racing for the same aggregate.
	InsertIgnore(ctx context.Context, tx *sqlx.Tx, e model.OutboxEvent) error
	// ClaimBatch selects up to limit NEW records oldest-first with
	// FOR UPDATE SKIP LOCKED, so concurrent publisher replicas never claim
	// the same record. Must run inside the given transaction; claimed rows
	// stay locked until it ends.
	ClaimBatch(ctx context.Context, tx *sqlx.Tx, limit int) ([]model.OutboxEvent, error)
	// Update persists the record's mutable fields with a compare-and-swap
	// on version. Returns ErrVersionConflict on a lost race.
	Update(ctx context.Context, tx *sqlx.Tx, e model.OutboxEvent) error
}

type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

func (r *OutboxRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *OutboxRepositoryImpl) InsertIgnore(ctx context.Context, tx *sqlx.Tx, e model.OutboxEvent) error {
	const q = `
		INSERT INTO outbox_event
		    (id, aggregate_type, aggregate_id, event_type, topic, key, payload, status, retry_count, version, created_at)
		VALUES
		    ($1, $2, $3, $4, $5, $6, $7, 'NEW', 0, 0, now())
		ON CONFLICT (aggregate_type, aggregate_id, event_type) DO NOTHING
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			e.ID, e.AggregateType, e.AggregateID, e.EventType, e.Topic, e.Key, e.Payload,
		)
		return err
	})
}

func (r *OutboxRepositoryImpl) ClaimBatch(ctx context.Context, tx *sqlx.Tx, limit int) ([]model.OutboxEvent, error) {
	const q = `
		SELECT id, aggregate_type, aggregate_id, event_type, topic, key, payload,
		       status, retry_count, last_error, version, created_at, last_attempt_at, sent_at
		FROM outbox_event
		WHERE status = 'NEW'
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	var rows []model.OutboxEvent
	if err := tx.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, e model.OutboxEvent) error {
	const q = `
		UPDATE outbox_event
		SET status = $1, retry_count = $2, last_error = $3,
		    last_attempt_at = $4, sent_at = $5, version = version + 1
		WHERE id = $6 AND version = $7
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			e.Status.String(), e.RetryCount, e.LastError,
			e.LastAttemptAt, e.SentAt, e.ID, e.Version,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrVersionConflict
		}
		return nil
	})
}
