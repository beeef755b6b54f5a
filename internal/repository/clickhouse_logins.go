package repository

import (
	"context"
	"time"

	"github.com/codechallenge/login-processing-service/internal/model"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// LoginAudit is the analytics row written to ClickHouse for every processed
// login event. Best-effort only; Postgres remains the system of record.
type LoginAudit struct {
	MessageID      uuid.UUID `db:"message_id"`
	CustomerID     uuid.UUID `db:"customer_id"`
	Username       string    `db:"username"`
	Client         string    `db:"client"`
	RequestResult  string    `db:"request_result"`
	EventTimestamp time.Time `db:"event_timestamp"`
	ProcessedAt    time.Time `db:"processed_at"`
}

// CHLoginsRepository writes and reads the logins audit table in ClickHouse.
type CHLoginsRepository interface {
	Insert(ctx context.Context, a LoginAudit) error
	ListByCustomer(ctx context.Context, customerID uuid.UUID, result model.RequestResult, limit, offset int) ([]LoginAudit, error)
}

type chLoginsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHLoginsRepository(ch *sqlx.DB) CHLoginsRepository {
	return &chLoginsRepository{ch: ch}
}

func (r *chLoginsRepository) Insert(ctx context.Context, a LoginAudit) error {
	const q = `
		INSERT INTO login_processing.logins
		    (message_id, customer_id, username, client, request_result, event_timestamp, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.ch.ExecContext(ctx, q,
		a.MessageID, a.CustomerID, a.Username, a.Client, a.RequestResult, a.EventTimestamp, a.ProcessedAt,
	)
	return err
}

func (r *chLoginsRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID, result model.RequestResult, limit, offset int) ([]LoginAudit, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT message_id, customer_id, username, client, request_result, event_timestamp, processed_at
		FROM login_processing.logins
		WHERE customer_id = ?
	`
	args := []any{customerID}

	if result != "" {
		q += " AND request_result = ?"
		args = append(args, result.String())
	}

	q += " ORDER BY event_timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []LoginAudit
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
