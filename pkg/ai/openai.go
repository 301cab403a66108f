package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "scoring_duration_seconds",
		Help:      "Duration of AI question scoring requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "scoring_failures_total",
		Help:      "Number of AI question scoring failures",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the OpenAI scorer.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIScorer implements QuestionScorer against the OpenAI chat completion API.
type OpenAIScorer struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIScorer builds a new scorer using the provided configuration.
func NewOpenAIScorer(cfg OpenAIConfig) (*OpenAIScorer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}

	tracer := otel.Tracer("github.com/noah-isme/gema-grading-api/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(config)

	return &OpenAIScorer{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}, nil
}

// Score sends the answer to OpenAI and parses the verdict.
func (s *OpenAIScorer) Score(parent context.Context, input QuestionScoringInput) (QuestionScoringResult, error) {
	ctx, span := s.tracer.Start(parent, "openai.score_question", trace.WithAttributes(
		attribute.String("model", s.cfg.Model),
		attribute.String("question_id", input.QuestionID),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: scorerSystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildUserPrompt(input),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := s.client.CreateChatCompletion(ctx, request)
	duration := time.Since(start)
	aiDuration.WithLabelValues(s.cfg.Model).Observe(duration.Seconds())
	if err != nil {
		aiFailures.WithLabelValues(s.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return QuestionScoringResult{}, fmt.Errorf("openai score: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		aiFailures.WithLabelValues(s.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return QuestionScoringResult{}, err
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	result, err := parseScoringResponse(content, input.MaxScore)
	if err != nil {
		aiFailures.WithLabelValues(s.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return QuestionScoringResult{}, err
	}

	if result.Details == nil {
		result.Details = map[string]interface{}{}
	}
	result.Details["model"] = s.cfg.Model
	result.Details["total_tokens"] = resp.Usage.TotalTokens

	s.logger.Debug().
		Str("question_id", input.QuestionID).
		Int("score", result.Score).
		Float64("confidence", result.Confidence).
		Dur("duration", duration).
		Msg("question scored")

	return result, nil
}

func scorerSystemPrompt() string {
	return "You are an exam grader. Compare the student answer with the reference answer and respond with a JSON object " +
		"containing is_correct (boolean), score (integer between 0 and max_score), confidence (0-1), feedback for the " +
		"student, analysis for the grader, and an optional details object."
}

func buildUserPrompt(input QuestionScoringInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Question\n")
	builder.WriteString(input.QuestionText)
	builder.WriteString("\n\n## Reference Answer\n")
	builder.WriteString(input.ReferenceAnswer)
	builder.WriteString("\n\n## Student Answer\n")
	builder.WriteString(input.StudentAnswer)
	builder.WriteString("\n\n## Max Score\n")
	builder.WriteString(strconv.Itoa(input.MaxScore))
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

// parseScoringResponse decodes the model output and clamps it into range.
func parseScoringResponse(content string, maxScore int) (QuestionScoringResult, error) {
	type payload struct {
		IsCorrect  bool                   `json:"is_correct"`
		Score      float64                `json:"score"`
		Confidence float64                `json:"confidence"`
		Feedback   string                 `json:"feedback"`
		Analysis   string                 `json:"analysis"`
		Details    map[string]interface{} `json:"details"`
	}

	var data payload
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return QuestionScoringResult{}, fmt.Errorf("parse scoring json: %w", err)
	}

	score := int(math.Round(data.Score))
	if score < 0 {
		score = 0
	}
	if score > maxScore {
		score = maxScore
	}

	confidence := data.Confidence
	if math.IsNaN(confidence) || confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return QuestionScoringResult{
		IsCorrect:  data.IsCorrect,
		Score:      score,
		Confidence: confidence,
		Feedback:   strings.TrimSpace(data.Feedback),
		Analysis:   strings.TrimSpace(data.Analysis),
		Details:    data.Details,
	}, nil
}
