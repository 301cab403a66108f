package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/service"
)

const streamPingInterval = 30 * time.Second

// GradingStreamHandler pushes grading events of one submission over a websocket.
type GradingStreamHandler struct {
	events service.GradingEventStream
	logger zerolog.Logger
}

// NewGradingStreamHandler creates a stream handler instance.
func NewGradingStreamHandler(events service.GradingEventStream, logger zerolog.Logger) *GradingStreamHandler {
	return &GradingStreamHandler{
		events: events,
		logger: logger.With().Str("component", "grading_stream_handler").Logger(),
	}
}

// Register binds the websocket route under the provided router group.
func (h *GradingStreamHandler) Register(router fiber.Router) {
	router.Get("/submissions/:submissionID/stream", h.upgrade, websocket.New(h.handleConnection))
}

func (h *GradingStreamHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if userIDStringFromContext(c) == "" {
		return fiber.ErrUnauthorized
	}
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	c.Locals("request_ctx", middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c)))
	return c.Next()
}

func (h *GradingStreamHandler) handleConnection(conn *websocket.Conn) {
	submissionID := strings.TrimSpace(conn.Params("submissionID"))
	if submissionID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "submission id required"))
		_ = conn.Close()
		return
	}

	ctx, _ := conn.Locals("request_ctx").(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := h.events.Subscribe(submissionID)
	defer unsubscribe()

	h.logger.Info().Str("submission_id", submissionID).Msg("grading stream connected")

	// Reader loop only detects the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("submission_id", submissionID).Msg("grading stream disconnected")
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Warn().Err(err).Str("submission_id", submissionID).Msg("failed to write grading event")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
