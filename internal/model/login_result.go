package model

import (
	"time"

	"github.com/google/uuid"
)

// RequestResult is the recorded outcome of the tracking call.
type RequestResult string

const (
	ResultSuccessful   RequestResult = "SUCCESSFUL"
	ResultUnsuccessful RequestResult = "UNSUCCESSFUL"
)

func (r RequestResult) String() string {
	return string(r)
}

// LoginResult is the DB entity persisted in login_tracking_result.
// One row per inbound message; message_id carries a unique constraint and
// the row is never updated after insert.
type LoginResult struct {
	ID             uuid.UUID     `db:"id"`
	MessageID      uuid.UUID     `db:"message_id"`
	CustomerID     uuid.UUID     `db:"customer_id"`
	Username       string        `db:"username"`
	Client         Client        `db:"client"`
	EventTimestamp time.Time     `db:"event_timestamp"`
	CustomerIP     string        `db:"customer_ip"`
	RequestResult  RequestResult `db:"request_result"`
	CreatedAt      time.Time     `db:"created_at"`
}
