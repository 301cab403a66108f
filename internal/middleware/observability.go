package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/observability"
)

// GradingAPIPrefix is the route prefix instrumented by Observability.
const GradingAPIPrefix = "/api/v2/grading"

// Observability records request metrics and one structured log line per
// grading request. Websocket stream upgrades are counted but kept out of the
// latency histogram since the connection outlives the request.
func Observability(logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()

	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(c.Path(), GradingAPIPrefix) {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		route := routeTemplate(c)
		method := c.Method()
		status := c.Response().StatusCode()
		if err != nil {
			if fiberErr, ok := err.(*fiber.Error); ok {
				status = fiberErr.Code
			} else if status < fiber.StatusBadRequest {
				status = fiber.StatusInternalServerError
			}
		}
		statusLabel := strconv.Itoa(status)
		streaming := strings.HasSuffix(route, "/stream")

		observability.GradingRequests().WithLabelValues(method, route, statusLabel).Inc()
		if !streaming {
			observability.GradingLatency().WithLabelValues(method, route).Observe(duration.Seconds())
		}
		if status >= fiber.StatusBadRequest {
			observability.GradingErrors().WithLabelValues(method, route, statusLabel).Inc()
		}

		event := requestEvent(logger, status)
		event.
			Str("correlation_id", GetCorrelationID(c)).
			Str("route", route).
			Str("method", method).
			Int("status", status).
			Str("actor_role", RoleFromContext(c)).
			Float64("latency_ms", float64(duration)/float64(time.Millisecond)).
			Str("latency_bucket", latencyBucket(duration)).
			Bool("stream", streaming).
			Msg(requestMessage(status))

		return err
	}
}

func requestEvent(logger zerolog.Logger, status int) *zerolog.Event {
	switch {
	case status >= fiber.StatusInternalServerError:
		return logger.Error()
	case status >= fiber.StatusBadRequest:
		return logger.Warn()
	default:
		return logger.Info()
	}
}

func requestMessage(status int) string {
	switch {
	case status >= fiber.StatusInternalServerError:
		return "grading request failed"
	case status >= fiber.StatusBadRequest:
		return "grading request completed with client error"
	default:
		return "grading request completed"
	}
}

func routeTemplate(c *fiber.Ctx) string {
	if c.Route() != nil && c.Route().Path != "" {
		return c.Route().Path
	}
	return c.Path()
}

func latencyBucket(duration time.Duration) string {
	switch {
	case duration <= 25*time.Millisecond:
		return "<=25ms"
	case duration <= 100*time.Millisecond:
		return "<=100ms"
	case duration <= 500*time.Millisecond:
		return "<=500ms"
	case duration <= 2*time.Second:
		return "<=2s"
	default:
		return ">2s"
	}
}
