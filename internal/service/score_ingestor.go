package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "embed"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/observability"
)

const autoScoreSchemaURL = "mem://schemas/auto_score.schema.json"

//go:embed schemas/auto_score.schema.json
var autoScoreSchema string

// ScoreIngestor consumes externally produced scoring results from the
// message brokers and feeds them into the ledger.
type ScoreIngestor interface {
	Start(ctx context.Context)
	Handle(ctx context.Context, payload []byte, transport string) error
}

type scoreIngestor struct {
	ledger       QuestionResultLedger
	schema       *jsonschema.Schema
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
}

// NewScoreIngestor constructs the ingestor. Either broker may be nil.
func NewScoreIngestor(ledger QuestionResultLedger, redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) (ScoreIngestor, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(autoScoreSchemaURL, strings.NewReader(autoScoreSchema)); err != nil {
		return nil, fmt.Errorf("load auto score schema: %w", err)
	}
	schema, err := compiler.Compile(autoScoreSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile auto score schema: %w", err)
	}

	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":auto-scores"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".grading.scores"
	}

	return &scoreIngestor{
		ledger:       ledger,
		schema:       schema,
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "score_ingestor").Logger(),
	}, nil
}

func (i *scoreIngestor) Start(ctx context.Context) {
	if i.redis != nil && i.redisChannel != "" {
		go i.consumeRedis(ctx)
	}
	if i.nats != nil && i.natsSubject != "" {
		i.consumeNATS(ctx)
	}
}

// Handle validates one message and records it. Rejections are returned so
// callers can decide whether to acknowledge the message.
func (i *scoreIngestor) Handle(ctx context.Context, payload []byte, transport string) error {
	var document interface{}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&document); err != nil {
		observability.IngestedScoresTotal().WithLabelValues(transport, "malformed").Inc()
		return fmt.Errorf("%w: decode auto score: %v", ErrValidation, err)
	}
	if err := i.schema.Validate(document); err != nil {
		observability.IngestedScoresTotal().WithLabelValues(transport, "malformed").Inc()
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var message dto.AutoScoreRequest
	if err := json.Unmarshal(payload, &message); err != nil {
		observability.IngestedScoresTotal().WithLabelValues(transport, "malformed").Inc()
		return fmt.Errorf("%w: decode auto score: %v", ErrValidation, err)
	}

	_, err := i.ledger.RecordAutoScore(ctx, message.EntryID, AutoScore{
		IsCorrect:  *message.IsCorrect,
		Score:      *message.Score,
		Confidence: *message.Confidence,
		Feedback:   message.Feedback,
		Analysis:   message.Analysis,
		Details:    message.Details,
	})
	if err != nil {
		observability.IngestedScoresTotal().WithLabelValues(transport, "rejected").Inc()
		return err
	}

	observability.IngestedScoresTotal().WithLabelValues(transport, "recorded").Inc()
	return nil
}

func (i *scoreIngestor) consumeRedis(ctx context.Context) {
	pubsub := i.redis.Subscribe(ctx, i.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			i.logger.Error().Err(err).Msg("auto score redis subscription closed")
			return
		}
		i.dispatch(ctx, []byte(msg.Payload), "redis")
	}
}

func (i *scoreIngestor) consumeNATS(ctx context.Context) {
	sub, err := i.nats.QueueSubscribe(i.natsSubject, "gema-grading-scores", func(msg *nats.Msg) {
		i.dispatch(ctx, msg.Data, "nats")
	})
	if err != nil {
		i.logger.Error().Err(err).Msg("failed to subscribe to nats auto score subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			i.logger.Warn().Err(err).Msg("failed to drain auto score nats subscription")
		}
	}()
}

func (i *scoreIngestor) dispatch(ctx context.Context, payload []byte, transport string) {
	if err := i.Handle(ctx, payload, transport); err != nil {
		i.logger.Warn().Err(err).Str("transport", transport).Msg("auto score rejected")
	}
}
