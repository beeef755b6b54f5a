package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/codechallenge/login-processing-service/internal/kafka"
	"github.com/codechallenge/login-processing-service/internal/logger"
	"github.com/codechallenge/login-processing-service/internal/metrics"
	"github.com/codechallenge/login-processing-service/internal/model"
	"github.com/codechallenge/login-processing-service/internal/service/login"
	"go.uber.org/zap"
)

// Consumer is the slice of the Kafka reader the processor needs.
type Consumer interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Producer is the slice of the Kafka writer the workers need.
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error
}

// LoginService processes one decoded login event.
type LoginService interface {
	Process(ctx context.Context, event model.CustomerLoginEvent) (model.LoginResult, bool, error)
}

// Processor:
// - fetches customer-login events from Kafka,
// - runs them through the login service,
// - routes poison messages to the dead-letter topic,
// - commits only the contiguous handled prefix of each partition.
type Processor struct {
	Consumer Consumer
	Producer Producer
	Service  LoginService

	DeadLetterTopic string
	Workers         int // number of goroutines processing messages

	tracker *commitTracker
}

func NewProcessor(consumer Consumer, producer Producer, svc LoginService, dlqTopic string) *Processor {
	return &Processor{
		Consumer:        consumer,
		Producer:        producer,
		Service:         svc,
		DeadLetterTopic: dlqTopic,
		Workers:         16,
		tracker:         newCommitTracker(),
	}
}

type topicPartition struct {
	topic     string
	partition int
}

// commitTracker holds the per-partition delivery window so that offsets are
// committed only once every earlier offset of the same partition has been
// handled. With workers committing independently, a later offset would
// otherwise advance the group offset past a message whose ack was withheld
// and that message would never be redelivered.
type commitTracker struct {
	mu    sync.Mutex
	parts map[topicPartition]*partitionWindow
}

type partitionWindow struct {
	offsets []int64 // delivery order
	msgs    map[int64]kafka.Message
	done    map[int64]bool
}

func newCommitTracker() *commitTracker {
	return &commitTracker{parts: make(map[topicPartition]*partitionWindow)}
}

func (t *commitTracker) add(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tp := topicPartition{topic: m.Topic, partition: m.Partition}
	w := t.parts[tp]
	if w == nil {
		w = &partitionWindow{msgs: make(map[int64]kafka.Message), done: make(map[int64]bool)}
		t.parts[tp] = w
	}
	w.offsets = append(w.offsets, m.Offset)
	w.msgs[m.Offset] = m
}

// complete marks m handled and returns the newest message of its partition
// that is now safe to commit. ok is false while an earlier offset of the
// partition is still unresolved. A message that was never tracked commits
// as itself.
func (t *commitTracker) complete(m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.parts[topicPartition{topic: m.Topic, partition: m.Partition}]
	if w == nil {
		return m, true
	}
	if _, tracked := w.msgs[m.Offset]; !tracked {
		return m, true
	}
	w.done[m.Offset] = true

	var last kafka.Message
	ok := false
	for len(w.offsets) > 0 && w.done[w.offsets[0]] {
		off := w.offsets[0]
		w.offsets = w.offsets[1:]
		last = w.msgs[off]
		delete(w.msgs, off)
		delete(w.done, off)
		ok = true
	}
	return last, ok
}

// Run starts the processor and blocks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	if p.Workers <= 0 {
		p.Workers = 16
	}
	if p.tracker == nil {
		p.tracker = newCommitTracker()
	}

	msgCh := make(chan kafka.Message, p.Workers*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				m, err := p.Consumer.Fetch(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Log.Warn("kafka fetch failed", zap.Error(err))
					time.Sleep(200 * time.Millisecond)
					continue
				}
				p.tracker.add(m)
				msgCh <- m
			}
		}
	}()

	done := make(chan struct{}, p.Workers)
	for i := 0; i < p.Workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for m := range msgCh {
				p.processOne(ctx, m)
			}
		}()
	}

	for i := 0; i < p.Workers; i++ {
		<-done
	}
	return ctx.Err()
}

func (p *Processor) processOne(ctx context.Context, m kafka.Message) {
	var event model.CustomerLoginEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		p.deadLetter(ctx, m, err)
		return
	}

	result, duplicate, err := p.Service.Process(ctx, event)
	switch {
	case errors.Is(err, login.ErrInvalidEvent):
		p.deadLetter(ctx, m, err)
		return
	case err != nil:
		// storage or infrastructure fault: withhold the ack so the
		// transport redelivers; the idempotency guard absorbs the replay
		metrics.EventsTotal.WithLabelValues("error").Inc()
		logger.Log.Error("processing failed, message will be redelivered",
			zap.String("message_id", event.MessageID.String()),
			zap.Error(err),
		)
		return
	}

	if duplicate {
		metrics.EventsTotal.WithLabelValues("duplicate").Inc()
		logger.Log.Info("duplicate message skipped",
			zap.String("message_id", event.MessageID.String()),
		)
	} else {
		metrics.EventsTotal.WithLabelValues("processed").Inc()
		logger.Log.Info("login event processed",
			zap.String("message_id", event.MessageID.String()),
			zap.String("customer_id", result.CustomerID.String()),
			zap.String("request_result", result.RequestResult.String()),
		)
	}

	p.ack(ctx, m)
}

// ack records m as handled and commits its partition's contiguous handled
// prefix. Nothing is committed while an earlier offset is still unresolved,
// so a withheld message holds the group offset back until redelivery.
func (p *Processor) ack(ctx context.Context, m kafka.Message) {
	c, ok := m, true
	if p.tracker != nil {
		c, ok = p.tracker.complete(m)
	}
	if !ok {
		return
	}
	if err := p.Consumer.Commit(ctx, c); err != nil {
		logger.Log.Warn("commit failed", zap.Error(err))
	}
}

// deadLetter forwards a message that can never succeed to the DLQ topic and
// commits it. If the DLQ publish itself fails the offset is not committed,
// so the message comes back rather than being lost.
func (p *Processor) deadLetter(ctx context.Context, m kafka.Message, cause error) {
	metrics.EventsTotal.WithLabelValues("poison").Inc()
	logger.Log.Warn("poison message routed to dead-letter topic",
		zap.String("topic", p.DeadLetterTopic),
		zap.Error(cause),
	)

	err := p.Producer.Publish(ctx, p.DeadLetterTopic, m.Key, m.Value,
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
	)
	if err != nil {
		logger.Log.Error("dead-letter publish failed", zap.Error(err))
		return
	}

	p.ack(ctx, m)
}
