package model

import (
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxNew    OutboxStatus = "NEW"
	OutboxSent   OutboxStatus = "SENT"
	OutboxFailed OutboxStatus = "FAILED"
)

func (s OutboxStatus) String() string {
	return string(s)
}

const (
	AggregateLoginTrackingResult = "LOGIN_TRACKING_RESULT"
	EventLoginTrackingCreated    = "LOGIN_TRACKING_RESULT_CREATED"
)

// OutboxEvent is one intent-to-publish row in outbox_event. The triple
// (aggregate_type, aggregate_id, event_type) is unique, which deduplicates
// outbox writes for the same aggregate under concurrent processors.
// Status moves NEW -> SENT or NEW -> FAILED and never leaves a sink state.
type OutboxEvent struct {
	ID            string       `db:"id"` // ULID, time-sortable
	AggregateType string       `db:"aggregate_type"`
	AggregateID   uuid.UUID    `db:"aggregate_id"`
	EventType     string       `db:"event_type"`
	Topic         string       `db:"topic"`
	Key           string       `db:"key"`
	Payload       []byte       `db:"payload"`
	Status        OutboxStatus `db:"status"`
	RetryCount    int          `db:"retry_count"`
	LastError     *string      `db:"last_error"`
	Version       int64        `db:"version"`
	CreatedAt     time.Time    `db:"created_at"`
	LastAttemptAt *time.Time   `db:"last_attempt_at"`
	SentAt        *time.Time   `db:"sent_at"`
}

// MarkSent records a successful publish. lastAttemptAt and sentAt share the
// same instant; lastError is cleared.
func (e *OutboxEvent) MarkSent(now time.Time) {
	e.Status = OutboxSent
	e.SentAt = &now
	e.LastAttemptAt = &now
	e.LastError = nil
}

// MarkAttemptFailed records one failed publish attempt without changing
// status; the record stays NEW and is retried on a later tick.
func (e *OutboxEvent) MarkAttemptFailed(now time.Time, errMsg string) {
	e.RetryCount++
	e.LastAttemptAt = &now
	e.LastError = &errMsg
}

// MarkFailedPermanently moves the record into the terminal FAILED state.
// It is never selected for publishing again.
func (e *OutboxEvent) MarkFailedPermanently(now time.Time, errMsg string) {
	e.Status = OutboxFailed
	e.LastAttemptAt = &now
	e.LastError = &errMsg
}
