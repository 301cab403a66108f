package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
)

const gradingEventBufferSize = 32

// Grading lifecycle event types.
const (
	EventSessionStarted   = "session.started"
	EventEntryScored      = "entry.scored"
	EventSessionCompleted = "session.completed"
	EventSessionRegraded  = "session.regraded"
	EventEntryOverridden  = "entry.overridden"
)

// GradingEvent describes a committed change to a submission's grading state.
type GradingEvent struct {
	Type         string
	SubmissionID string
	SessionID    string
	EntryID      string
	Version      int
	Status       models.SessionStatus
	Data         map[string]interface{}
	OccurredAt   time.Time
}

// GradingEventPublisher fans committed grading changes out to listeners.
// Publishing is best effort and never fails the originating operation.
type GradingEventPublisher interface {
	Publish(ctx context.Context, event GradingEvent)
}

// GradingEventStream publishes events and lets clients follow a submission.
type GradingEventStream interface {
	GradingEventPublisher
	Subscribe(submissionID string) (<-chan dto.GradingEventResponse, func())
	Start(ctx context.Context)
}

type gradingEventBus struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	broker       *gradingEventBroker
	nodeID       string
	now          func() time.Time
}

type gradingEventEnvelope struct {
	Source string                   `json:"source"`
	Event  dto.GradingEventResponse `json:"event"`
	SentAt time.Time                `json:"sent_at"`
}

type gradingEventBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.GradingEventResponse]struct{}
}

// NewGradingEventBus constructs the event bus. The redis client and nats
// connection are optional; without them events stay local to this node.
func NewGradingEventBus(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) GradingEventStream {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":grading-events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".grading.events"
	}

	return &gradingEventBus{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "grading_event_bus").Logger(),
		broker: &gradingEventBroker{
			subscribers: make(map[string]map[chan dto.GradingEventResponse]struct{}),
		},
		nodeID: uuid.NewString(),
		now:    time.Now,
	}
}

func (b *gradingEventBus) Start(ctx context.Context) {
	if b.redis != nil && b.redisChannel != "" {
		go b.consumeRedis(ctx)
	}
	if b.nats != nil && b.natsSubject != "" {
		go b.consumeNATS(ctx)
	}
}

func (b *gradingEventBus) Publish(ctx context.Context, event GradingEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = b.now().UTC()
	}

	response := dto.GradingEventResponse{
		Type:         event.Type,
		SubmissionID: event.SubmissionID,
		SessionID:    event.SessionID,
		EntryID:      event.EntryID,
		Version:      event.Version,
		Status:       string(event.Status),
		Data:         event.Data,
		OccurredAt:   event.OccurredAt,
	}

	observability.GradingEventsTotal().WithLabelValues(response.Type, "local").Inc()
	b.broker.broadcast(response.SubmissionID, response)

	if err := b.forward(ctx, response); err != nil {
		b.logger.Warn().Err(err).Str("type", response.Type).Str("submission_id", response.SubmissionID).Msg("failed to forward grading event")
	}
}

func (b *gradingEventBus) Subscribe(submissionID string) (<-chan dto.GradingEventResponse, func()) {
	channel := make(chan dto.GradingEventResponse, gradingEventBufferSize)

	b.broker.subscribe(submissionID, channel)
	observability.EventStreamClientsActive().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.broker.unsubscribe(submissionID, channel)
			observability.EventStreamClientsActive().Dec()
		})
	}

	return channel, cleanup
}

func (b *gradingEventBus) forward(ctx context.Context, event dto.GradingEventResponse) error {
	if (b.redis == nil || b.redisChannel == "") && (b.nats == nil || b.natsSubject == "") {
		return nil
	}

	payload, err := json.Marshal(gradingEventEnvelope{
		Source: b.nodeID,
		Event:  event,
		SentAt: b.now().UTC(),
	})
	if err != nil {
		return err
	}

	if b.redis != nil && b.redisChannel != "" {
		if err := b.redis.Publish(ctx, b.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if b.nats != nil && b.natsSubject != "" {
		if err := b.nats.Publish(b.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (b *gradingEventBus) consumeRedis(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, b.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			b.logger.Error().Err(err).Msg("grading event redis subscription closed")
			return
		}
		b.handleRemote([]byte(msg.Payload), "redis")
	}
}

func (b *gradingEventBus) consumeNATS(ctx context.Context) {
	// Every node needs every event for its own websocket clients, so this is a
	// plain subscription rather than a queue group.
	sub, err := b.nats.Subscribe(b.natsSubject, func(msg *nats.Msg) {
		b.handleRemote(msg.Data, "nats")
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to subscribe to nats grading events subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to drain grading event nats subscription")
		}
	}()
}

func (b *gradingEventBus) handleRemote(payload []byte, transport string) {
	var envelope gradingEventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		b.logger.Warn().Err(err).Str("transport", transport).Msg("invalid grading event payload")
		return
	}

	if envelope.Source == b.nodeID {
		return
	}

	if envelope.Event.SubmissionID == "" || envelope.Event.Type == "" {
		b.logger.Warn().Str("transport", transport).Msg("grading event missing submission or type")
		return
	}

	observability.GradingEventsTotal().WithLabelValues(envelope.Event.Type, transport).Inc()
	b.broker.broadcast(envelope.Event.SubmissionID, envelope.Event)
}

func (b *gradingEventBroker) subscribe(submissionID string, ch chan dto.GradingEventResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[submissionID]; !exists {
		b.subscribers[submissionID] = make(map[chan dto.GradingEventResponse]struct{})
	}
	b.subscribers[submissionID][ch] = struct{}{}
}

func (b *gradingEventBroker) unsubscribe(submissionID string, ch chan dto.GradingEventResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[submissionID]; ok {
		if _, present := subscribers[ch]; !present {
			return
		}
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, submissionID)
		}
	}
}

func (b *gradingEventBroker) broadcast(submissionID string, event dto.GradingEventResponse) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[submissionID] {
		select {
		case ch <- event:
		default:
		}
	}
}
