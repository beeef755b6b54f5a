package login

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/codechallenge/login-processing-service/internal/logger"
	"github.com/codechallenge/login-processing-service/internal/model"
	"github.com/codechallenge/login-processing-service/internal/repository"
	"github.com/codechallenge/login-processing-service/internal/tracking"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	m.Run()
}

// ---- fakes ----

type fakeTxRunner struct{}

func (fakeTxRunner) RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

type fakeResults struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]model.LoginResult // keyed by message ID
	finds int

	// hidden rows are invisible to FindByMessageID until an InsertIgnore
	// happens, simulating a concurrent writer committing mid-flight.
	hidden map[uuid.UUID]model.LoginResult
}

func newFakeResults() *fakeResults {
	return &fakeResults{
		rows:   make(map[uuid.UUID]model.LoginResult),
		hidden: make(map[uuid.UUID]model.LoginResult),
	}
}

func (f *fakeResults) InsertIgnore(ctx context.Context, tx *sqlx.Tx, r model.LoginResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, row := range f.hidden {
		f.rows[id] = row
		delete(f.hidden, id)
	}
	if _, ok := f.rows[r.MessageID]; ok {
		return nil // conflict -> no-op
	}
	r.CreatedAt = time.Now()
	f.rows[r.MessageID] = r
	return nil
}

func (f *fakeResults) FindByMessageID(ctx context.Context, tx *sqlx.Tx, messageID uuid.UUID) (model.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	if row, ok := f.rows[messageID]; ok {
		return row, nil
	}
	return model.LoginResult{}, repository.ErrResultNotFound
}

type outboxKey struct {
	aggType, eventType string
	aggID              uuid.UUID
}

type fakeOutbox struct {
	mu   sync.Mutex
	rows map[outboxKey]model.OutboxEvent
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{rows: make(map[outboxKey]model.OutboxEvent)}
}

func (f *fakeOutbox) InsertIgnore(ctx context.Context, tx *sqlx.Tx, e model.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := outboxKey{aggType: e.AggregateType, eventType: e.EventType, aggID: e.AggregateID}
	if _, ok := f.rows[k]; ok {
		return nil
	}
	e.CreatedAt = time.Now()
	f.rows[k] = e
	return nil
}

func (f *fakeOutbox) ClaimBatch(ctx context.Context, tx *sqlx.Tx, limit int) ([]model.OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutbox) Update(ctx context.Context, tx *sqlx.Tx, e model.OutboxEvent) error {
	return nil
}

func (f *fakeOutbox) all() []model.OutboxEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.OutboxEvent, 0, len(f.rows))
	for _, e := range f.rows {
		out = append(out, e)
	}
	return out
}

type fakeTracker struct {
	mu    sync.Mutex
	calls int
	// errs are returned in order; once exhausted the call succeeds.
	errs []error
}

func (f *fakeTracker) NotifyLogin(ctx context.Context, customerID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakeTracker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---- helpers ----

type fixture struct {
	svc     *Service
	results *fakeResults
	outbox  *fakeOutbox
	tracker *fakeTracker
}

func newFixture(trackerErrs ...error) *fixture {
	results := newFakeResults()
	outbox := newFakeOutbox()
	tracker := &fakeTracker{errs: trackerErrs}

	svc := New(
		fakeTxRunner{},
		results,
		outbox,
		tracker,
		tracking.NewRetryPolicy(3, time.Millisecond),
		nil, // no redis in unit tests
		nil, // no clickhouse in unit tests
		"login.tracking.result",
	)
	return &fixture{svc: svc, results: results, outbox: outbox, tracker: tracker}
}

func loginEvent() model.CustomerLoginEvent {
	return model.CustomerLoginEvent{
		CustomerID: uuid.New(),
		Username:   "alice",
		Client:     "web",
		Timestamp:  time.Now().Add(-time.Minute),
		MessageID:  uuid.New(),
		CustomerIP: "203.0.113.7",
	}
}

// ---- tests ----

func TestProcessNewEvent(t *testing.T) {
	f := newFixture()
	event := loginEvent()

	saved, dup, err := f.svc.Process(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, dup)

	assert.Equal(t, event.MessageID, saved.MessageID)
	assert.Equal(t, model.ClientWeb, saved.Client)
	assert.Equal(t, model.ResultSuccessful, saved.RequestResult)
	assert.Equal(t, 1, f.tracker.callCount())

	rows := f.outbox.all()
	require.Len(t, rows, 1)
	rec := rows[0]
	assert.Equal(t, model.OutboxNew, rec.Status)
	assert.Equal(t, model.AggregateLoginTrackingResult, rec.AggregateType)
	assert.Equal(t, model.EventLoginTrackingCreated, rec.EventType)
	assert.Equal(t, saved.ID, rec.AggregateID)
	assert.Equal(t, "login.tracking.result", rec.Topic)
	assert.Equal(t, event.CustomerID.String(), rec.Key)

	var out model.LoginTrackingResultEvent
	require.NoError(t, json.Unmarshal(rec.Payload, &out))
	assert.Equal(t, event.CustomerID, out.CustomerID)
	assert.Equal(t, "web", out.Client)
	assert.Equal(t, model.ResultSuccessful, out.RequestResult)
}

func TestProcessDuplicateSkipsSideEffects(t *testing.T) {
	f := newFixture()
	event := loginEvent()

	first, dup, err := f.svc.Process(context.Background(), event)
	require.NoError(t, err)
	require.False(t, dup)

	second, dup, err := f.svc.Process(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first, second)

	assert.Equal(t, 1, f.tracker.callCount(), "duplicates never re-invoke the collaborator")
	assert.Len(t, f.outbox.all(), 1)
}

func TestProcessDuplicateLooksUpOnce(t *testing.T) {
	f := newFixture()
	event := loginEvent()

	_, _, err := f.svc.Process(context.Background(), event)
	require.NoError(t, err)

	f.results.mu.Lock()
	f.results.finds = 0
	f.results.mu.Unlock()

	_, dup, err := f.svc.Process(context.Background(), event)
	require.NoError(t, err)
	require.True(t, dup)
	assert.Equal(t, 1, f.results.finds, "the duplicate path queries the table exactly once")
}

func TestProcessTrackingRecoversWithinRetryBudget(t *testing.T) {
	f := newFixture(&tracking.StatusError{Code: 503}, &tracking.StatusError{Code: 503})
	event := loginEvent()

	saved, _, err := f.svc.Process(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, model.ResultSuccessful, saved.RequestResult)
	assert.Equal(t, 3, f.tracker.callCount(), "two failures then success is three attempts")
}

func TestProcessTrackingExhaustionIsUnsuccessfulNotError(t *testing.T) {
	f := newFixture(
		&tracking.StatusError{Code: 500},
		&tracking.StatusError{Code: 500},
		&tracking.StatusError{Code: 500},
	)
	event := loginEvent()

	saved, dup, err := f.svc.Process(context.Background(), event)
	require.NoError(t, err, "a business failure is not a processing failure")
	assert.False(t, dup)

	assert.Equal(t, model.ResultUnsuccessful, saved.RequestResult)
	assert.Equal(t, 3, f.tracker.callCount())
	assert.Len(t, f.outbox.all(), 1, "an outbox record is written for unsuccessful results too")
}

func TestProcessFatalTrackingFaultFailsFast(t *testing.T) {
	f := newFixture(&tracking.StatusError{Code: 400})
	event := loginEvent()

	saved, _, err := f.svc.Process(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, model.ResultUnsuccessful, saved.RequestResult)
	assert.Equal(t, 1, f.tracker.callCount(), "4xx is not retried")
}

func TestProcessInvalidClientRejected(t *testing.T) {
	f := newFixture()
	event := loginEvent()
	event.Client = "blackberry"

	_, _, err := f.svc.Process(context.Background(), event)
	require.ErrorIs(t, err, ErrInvalidEvent)

	assert.Equal(t, 0, f.tracker.callCount())
	assert.Empty(t, f.outbox.all())
	assert.Empty(t, f.results.rows)
}

func TestProcessMissingFieldsRejected(t *testing.T) {
	f := newFixture()
	event := loginEvent()
	event.MessageID = uuid.Nil

	_, _, err := f.svc.Process(context.Background(), event)
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestProcessAdoptsConcurrentWinner(t *testing.T) {
	f := newFixture()
	event := loginEvent()

	// A concurrent processor commits its row between our duplicate check and
	// our insert. The fake reveals it at insert time; our insert becomes a
	// no-op and the re-read adopts the winner.
	winner := model.LoginResult{
		ID:             uuid.New(),
		MessageID:      event.MessageID,
		CustomerID:     event.CustomerID,
		Username:       event.Username,
		Client:         model.ClientWeb,
		EventTimestamp: event.Timestamp,
		CustomerIP:     event.CustomerIP,
		RequestResult:  model.ResultUnsuccessful,
		CreatedAt:      time.Now(),
	}
	f.results.hidden[event.MessageID] = winner

	saved, dup, err := f.svc.Process(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, dup, "the race is resolved by adoption, not reported as duplicate")

	assert.Equal(t, winner.ID, saved.ID)
	assert.Equal(t, model.ResultUnsuccessful, saved.RequestResult, "winner's content is observed")

	rows := f.outbox.all()
	require.Len(t, rows, 1)
	assert.Equal(t, winner.ID, rows[0].AggregateID, "outbox references the winning row")
}

func TestProcessConcurrentSameMessageConverges(t *testing.T) {
	f := newFixture()
	event := loginEvent()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.svc.Process(context.Background(), event)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, f.results.rows, 1, "exactly one result row")
	assert.Len(t, f.outbox.all(), 1, "exactly one outbox row")
	assert.LessOrEqual(t, f.tracker.callCount(), n,
		"tracking may fire once per racing first-attempt, bounded by the number of callers")
}

func TestProcessStorageErrorPropagates(t *testing.T) {
	f := newFixture()
	event := loginEvent()

	boom := errors.New("connection reset")
	f.svc.results = &errResults{err: boom}

	_, _, err := f.svc.Process(context.Background(), event)
	require.ErrorIs(t, err, boom)
}

type errResults struct {
	err error
}

func (e *errResults) InsertIgnore(ctx context.Context, tx *sqlx.Tx, r model.LoginResult) error {
	return e.err
}

func (e *errResults) FindByMessageID(ctx context.Context, tx *sqlx.Tx, messageID uuid.UUID) (model.LoginResult, error) {
	return model.LoginResult{}, e.err
}
