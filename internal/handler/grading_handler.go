package handler

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// GradingHandlerDependencies groups the services behind the grading endpoints.
type GradingHandlerDependencies struct {
	Sessions         service.GradingSessionManager
	Overrides        service.ManualOverrideProcessor
	Results          service.GradingResultService
	Ledger           service.QuestionResultLedger
	AutoScoreLimiter fiber.Handler
	StaleAfter       time.Duration
}

// GradingHandler wires grading session, scoring and result endpoints.
type GradingHandler struct {
	deps      GradingHandlerDependencies
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(deps GradingHandlerDependencies, validate *validator.Validate, logger zerolog.Logger) *GradingHandler {
	if deps.AutoScoreLimiter == nil {
		deps.AutoScoreLimiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	if deps.StaleAfter <= 0 {
		deps.StaleAfter = 24 * time.Hour
	}
	return &GradingHandler{
		deps:      deps,
		validator: validate,
		logger:    logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches grading endpoints to the router group.
func (h *GradingHandler) Register(router fiber.Router) {
	grader := middleware.AuthOptions{Role: middleware.AuthRoleGrader}
	reader := middleware.AuthOptions{Role: middleware.AuthRoleAny, RequireUser: true}
	scorer := middleware.AuthOptions{Role: middleware.AuthRoleScorer}
	admin := middleware.AuthOptions{Role: middleware.AuthRoleAdmin}

	router.Post("/submissions/latest", middleware.WithAuth(h.latestSummaries, reader))
	router.Post("/submissions/:submissionID/sessions", middleware.WithAuth(h.startGrading, grader))
	router.Post("/submissions/:submissionID/regrade", middleware.WithAuth(h.startRegrading, grader))
	router.Get("/submissions/:submissionID/latest", middleware.WithAuth(h.latestResult, reader))
	router.Get("/submissions/:submissionID/history", middleware.WithAuth(h.resultHistory, reader))

	router.Get("/sessions/stale", middleware.WithAuth(h.staleSessions, admin))
	router.Get("/sessions/:sessionID", middleware.WithAuth(h.sessionDetail, reader))
	router.Post("/sessions/:sessionID/complete", middleware.WithAuth(h.completeGrading, grader))

	router.Patch("/entries/:entryID/override", middleware.WithAuth(h.applyOverride, grader))
	router.Post("/entries/:entryID/auto-score", h.deps.AutoScoreLimiter, middleware.WithAuth(h.recordAutoScore, scorer))
}

func (h *GradingHandler) startGrading(c *fiber.Ctx) error {
	var payload dto.StartGradingRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return respondGradingError(c, h.logger, err, "failed to start grading")
	}

	summary, err := h.deps.Sessions.StartGrading(requestContext(c), c.Params("submissionID"), models.GradingMode(payload.Mode), payload.GraderID)
	if err != nil {
		return respondGradingError(c, h.logger, err, "failed to start grading")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "grading session started", summary)
}

func (h *GradingHandler) completeGrading(c *fiber.Ctx) error {
	var payload dto.CompleteGradingRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}
	if err := h.validator.Struct(payload); err != nil {
		return respondGradingError(c, h.logger, err, "failed to complete grading")
	}

	summary, err := h.deps.Sessions.CompleteGrading(requestContext(c), c.Params("sessionID"), payload.Comment)
	if err != nil {
		return respondGradingError(c, h.logger, err, "failed to complete grading")
	}

	return utils.SendSuccess(c, "grading session completed", summary)
}

func (h *GradingHandler) startRegrading(c *fiber.Ctx) error {
	summary, err := h.deps.Sessions.StartRegrading(requestContext(c), c.Params("submissionID"))
	if err != nil {
		return respondGradingError(c, h.logger, err, "failed to start regrading")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "regrading started", summary)
}

func (h *GradingHandler) applyOverride(c *fiber.Ctx) error {
	var payload dto.ManualOverrideRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return respondGradingError(c, h.logger, err, "failed to apply override")
	}

	graderID := strings.TrimSpace(payload.GraderID)
	if graderID == "" {
		graderID = userIDStringFromContext(c)
	}

	response, err := h.deps.Overrides.ApplyOverride(requestContext(c), service.ManualOverride{
		EntryID:   c.Params("entryID"),
		GraderID:  graderID,
		Score:     *payload.Score,
		IsCorrect: *payload.IsCorrect,
		Feedback:  payload.Feedback,
	})
	if err != nil {
		return respondGradingError(c, h.logger, err, "failed to apply override")
	}

	return utils.SendSuccess(c, "override applied", response)
}

func (h *GradingHandler) recordAutoScore(c *fiber.Ctx) error {
	var payload dto.AutoScoreRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return respondGradingError(c, h.logger, err, "failed to record score")
	}

	entry, err := h.deps.Ledger.RecordAutoScore(requestContext(c), c.Params("entryID"), service.AutoScore{
		IsCorrect:  *payload.IsCorrect,
		Score:      *payload.Score,
		Confidence: *payload.Confidence,
		Feedback:   payload.Feedback,
		Analysis:   payload.Analysis,
		Details:    payload.Details,
	})
	if err != nil {
		return respondGradingError(c, h.logger, err, "failed to record score")
	}

	return utils.SendSuccess(c, "score recorded", dto.NewEntrySummary(entry))
}

func (h *GradingHandler) latestResult(c *fiber.Ctx) error {
	result, err := h.deps.Results.LatestResult(requestContext(c), c.Params("submissionID"))
	if err != nil {
		return respondGradingError(c, h.logger, err, "failed to load grading result")
	}

	return utils.SendSuccess(c, "latest grading result", result)
}

func (h *GradingHandler) resultHistory(c *fiber.Ctx) error {
	history, err := h.deps.Results.ResultHistory(requestContext(c), c.Params("submissionID"))
	if err != nil {
		return respondGradingError(c, h.logger, err, "failed to load grading history")
	}

	return utils.SendSuccess(c, "grading history", history)
}

func (h *GradingHandler) sessionDetail(c *fiber.Ctx) error {
	result, err := h.deps.Results.SessionDetail(requestContext(c), c.Params("sessionID"))
	if err != nil {
		return respondGradingError(c, h.logger, err, "failed to load grading session")
	}

	return utils.SendSuccess(c, "grading session", result)
}

func (h *GradingHandler) latestSummaries(c *fiber.Ctx) error {
	var payload dto.LatestSummariesRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return respondGradingError(c, h.logger, err, "failed to load summaries")
	}

	summaries, err := h.deps.Results.LatestSummaries(requestContext(c), payload.SubmissionIDs)
	if err != nil {
		return respondGradingError(c, h.logger, err, "failed to load summaries")
	}

	return utils.SendSuccess(c, "latest grading summaries", summaries)
}

func (h *GradingHandler) staleSessions(c *fiber.Ctx) error {
	olderThan := h.deps.StaleAfter
	if raw := strings.TrimSpace(c.Query("older_than")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid older_than duration")
		}
		olderThan = parsed
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil || limit < 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	stale, err := h.deps.Results.StaleSessions(requestContext(c), olderThan, limit)
	if err != nil {
		return respondGradingError(c, h.logger, err, "failed to list stale sessions")
	}

	return utils.SendSuccess(c, "stale grading sessions", stale)
}
