// Package login implements processing of customer-login events: duplicate
// suppression by message ID, the bounded-retry tracking call, and the
// atomic result + outbox write.
package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codechallenge/login-processing-service/internal/cache"
	"github.com/codechallenge/login-processing-service/internal/logger"
	"github.com/codechallenge/login-processing-service/internal/metrics"
	"github.com/codechallenge/login-processing-service/internal/model"
	"github.com/codechallenge/login-processing-service/internal/repository"
	"github.com/codechallenge/login-processing-service/internal/tracking"
	"github.com/codechallenge/login-processing-service/internal/util"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrInvalidEvent marks an event that can never be processed (unparseable
// client, missing fields). The consumer routes such messages to the
// dead-letter topic instead of retrying them forever.
var ErrInvalidEvent = errors.New("invalid login event")

// Service orchestrates one login event end to end.
type Service struct {
	txr     repository.TxRunner
	results repository.ResultsRepository
	outbox  repository.OutboxRepository
	tracker tracking.Client
	retry   tracking.RetryPolicy
	dedup   *cache.Dedup                  // optional
	audit   repository.CHLoginsRepository // optional

	outputTopic string
}

func New(
	txr repository.TxRunner,
	resultsRepo repository.ResultsRepository,
	outboxRepo repository.OutboxRepository,
	tracker tracking.Client,
	retry tracking.RetryPolicy,
	dedup *cache.Dedup,
	audit repository.CHLoginsRepository,
	outputTopic string,
) *Service {
	return &Service{
		txr:         txr,
		results:     resultsRepo,
		outbox:      outboxRepo,
		tracker:     tracker,
		retry:       retry,
		dedup:       dedup,
		audit:       audit,
		outputTopic: outputTopic,
	}
}

// Process handles one inbound event. It returns the persisted result and
// whether the event was a duplicate of an already-processed message.
//
// Re-running Process for the same messageId any number of times converges to
// exactly one result row and one outbox row; the tracking call may fire more
// than once only when concurrent first-attempts race ahead of the duplicate
// check, which the unique constraints then collapse.
func (s *Service) Process(ctx context.Context, event model.CustomerLoginEvent) (model.LoginResult, bool, error) {
	if err := event.Validate(); err != nil {
		return model.LoginResult{}, false, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	client, err := model.ParseClient(event.Client)
	if err != nil {
		return model.LoginResult{}, false, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	// Duplicate check. Redis is only a hint consulted ahead of the
	// authoritative table; the lookup itself runs exactly once.
	seen := s.dedup.Seen(ctx, event.MessageID)
	existing, err := s.results.FindByMessageID(ctx, nil, event.MessageID)
	if err == nil {
		if !seen {
			s.dedup.Mark(ctx, event.MessageID)
		}
		return existing, true, nil
	}
	if !errors.Is(err, repository.ErrResultNotFound) {
		return model.LoginResult{}, false, fmt.Errorf("duplicate lookup: %w", err)
	}

	requestResult := s.invokeTracking(ctx, event)

	saved, err := s.persist(ctx, event, client, requestResult)
	if err != nil {
		return model.LoginResult{}, false, err
	}

	s.dedup.Mark(ctx, event.MessageID)
	s.writeAudit(ctx, saved)

	return saved, false, nil
}

// invokeTracking runs the collaborator call under the retry policy. Both
// outcomes are valid business results: exhausted retries and fatal faults
// map to UNSUCCESSFUL, never to a processing error.
func (s *Service) invokeTracking(ctx context.Context, event model.CustomerLoginEvent) model.RequestResult {
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		callErr := s.tracker.NotifyLogin(ctx, event.CustomerID)
		switch {
		case callErr == nil:
			metrics.TrackingCallsTotal.WithLabelValues("ok").Inc()
		case s.retry.IsRetryable(callErr):
			metrics.TrackingCallsTotal.WithLabelValues("retryable").Inc()
		default:
			metrics.TrackingCallsTotal.WithLabelValues("fatal").Inc()
		}
		return callErr
	})
	if err != nil {
		logger.Log.Warn("tracking failed after retries",
			zap.String("customer_id", event.CustomerID.String()),
			zap.String("message_id", event.MessageID.String()),
			zap.Error(err),
		)
		metrics.TrackingOutcomesTotal.WithLabelValues("unsuccessful").Inc()
		return model.ResultUnsuccessful
	}

	metrics.TrackingOutcomesTotal.WithLabelValues("successful").Inc()
	return model.ResultSuccessful
}

// persist writes the result row and its outbox record in one transaction.
// Both inserts are insert-or-ignore on their unique constraints, so a
// concurrent writer winning the race is adopted, not treated as an error.
func (s *Service) persist(ctx context.Context, event model.CustomerLoginEvent, client model.Client, requestResult model.RequestResult) (model.LoginResult, error) {
	row := model.LoginResult{
		ID:             uuid.New(),
		MessageID:      event.MessageID,
		CustomerID:     event.CustomerID,
		Username:       event.Username,
		Client:         client,
		EventTimestamp: event.Timestamp,
		CustomerIP:     event.CustomerIP,
		RequestResult:  requestResult,
	}

	var saved model.LoginResult
	err := s.txr.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.results.InsertIgnore(ctx, tx, row); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}

		// Unconditional re-read: observe whichever writer won.
		var err error
		saved, err = s.results.FindByMessageID(ctx, tx, event.MessageID)
		if err != nil {
			return fmt.Errorf("re-read result: %w", err)
		}

		payload, err := json.Marshal(model.ResultEventFrom(saved))
		if err != nil {
			return fmt.Errorf("marshal result event: %w", err)
		}

		outEvent := model.OutboxEvent{
			ID:            util.NewULID(),
			AggregateType: model.AggregateLoginTrackingResult,
			AggregateID:   saved.ID,
			EventType:     model.EventLoginTrackingCreated,
			Topic:         s.outputTopic,
			Key:           saved.CustomerID.String(),
			Payload:       payload,
			Status:        model.OutboxNew,
		}
		if err := s.outbox.InsertIgnore(ctx, tx, outEvent); err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.LoginResult{}, err
	}
	return saved, nil
}

// writeAudit records the processed login in ClickHouse, best effort.
func (s *Service) writeAudit(ctx context.Context, saved model.LoginResult) {
	if s.audit == nil {
		return
	}
	err := s.audit.Insert(ctx, repository.LoginAudit{
		MessageID:      saved.MessageID,
		CustomerID:     saved.CustomerID,
		Username:       saved.Username,
		Client:         saved.Client.Wire(),
		RequestResult:  saved.RequestResult.String(),
		EventTimestamp: saved.EventTimestamp,
		ProcessedAt:    time.Now(),
	})
	if err != nil {
		logger.Log.Warn("clickhouse audit insert failed",
			zap.String("message_id", saved.MessageID.String()),
			zap.Error(err),
		)
	}
}
