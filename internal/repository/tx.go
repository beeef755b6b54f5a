package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// TxRunner scopes a function to one database transaction. It exists so
// services can couple writes across repositories without holding the *sqlx.DB
// themselves.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type SqlxTxRunner struct {
	db *sqlx.DB
}

func NewTxRunner(db *sqlx.DB) *SqlxTxRunner {
	return &SqlxTxRunner{db: db}
}

func (r *SqlxTxRunner) RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
