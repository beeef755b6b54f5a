package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/codechallenge/login-processing-service/internal/model"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrResultNotFound is returned when no row exists for a message ID.
var ErrResultNotFound = errors.New("login result not found")

// ResultsRepository defines persistence for the login_tracking_result table.
// The table has a unique constraint on message_id; a row, once inserted,
// is never updated.
type ResultsRepository interface {
	// InsertIgnore attempts to insert the result row. A conflicting
	// message_id makes the insert a no-op; it is not an error. If tx is nil
	// an internal transaction is used.
	InsertIgnore(ctx context.Context, tx *sqlx.Tx, r model.LoginResult) error
	// FindByMessageID returns the row for a message ID, or ErrResultNotFound.
	FindByMessageID(ctx context.Context, tx *sqlx.Tx, messageID uuid.UUID) (model.LoginResult, error)
}

type ResultsRepositoryImpl struct {
	db *sqlx.DB
}

func NewResultsRepository(db *sqlx.DB) *ResultsRepositoryImpl {
	return &ResultsRepositoryImpl{db: db}
}

func (r *ResultsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

// InsertIgnore relies on ON CONFLICT DO NOTHING so that N concurrent callers
// with the same message_id produce exactly one row. Callers re-read by
// message_id afterwards to observe the winning row.
func (r *ResultsRepositoryImpl) InsertIgnore(ctx context.Context, tx *sqlx.Tx, res model.LoginResult) error {
	const q = `
		INSERT INTO login_tracking_result
		    (id, message_id, customer_id, username, client, event_timestamp, customer_ip, request_result, created_at)
		VALUES
		    ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (message_id) DO NOTHING
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			res.ID, res.MessageID, res.CustomerID, res.Username,
			res.Client.String(), res.EventTimestamp, res.CustomerIP, res.RequestResult.String(),
		)
		return err
	})
}

func (r *ResultsRepositoryImpl) FindByMessageID(ctx context.Context, tx *sqlx.Tx, messageID uuid.UUID) (model.LoginResult, error) {
	const q = `
		SELECT id, message_id, customer_id, username, client, event_timestamp, customer_ip, request_result, created_at
		FROM login_tracking_result
		WHERE message_id = $1
	`
	var row model.LoginResult
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &row, q, messageID)
	} else {
		err = r.db.GetContext(ctx, &row, q, messageID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.LoginResult{}, ErrResultNotFound
	}
	if err != nil {
		return model.LoginResult{}, err
	}
	return row, nil
}
