package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestObservabilityLogsGradingRequests(t *testing.T) {
	var buf bytes.Buffer
	app := fiber.New()
	app.Use(Observability(zerolog.New(&buf)))
	app.Post(GradingAPIPrefix+"/sessions/:sessionID/complete", func(c *fiber.Ctx) error {
		c.Locals("user_role", "teacher")
		return c.SendStatus(fiber.StatusConflict)
	})
	app.Get("/api/v1/health", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, GradingAPIPrefix+"/sessions/s-1/complete", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "warn", line["level"])
	require.Equal(t, GradingAPIPrefix+"/sessions/:sessionID/complete", line["route"])
	require.Equal(t, "teacher", line["actor_role"])
	require.Equal(t, float64(fiber.StatusConflict), line["status"])

	buf.Reset()
	_, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.NoError(t, err)
	require.Zero(t, buf.Len())
}

func TestLatencyBucket(t *testing.T) {
	require.Equal(t, "<=25ms", latencyBucket(10*time.Millisecond))
	require.Equal(t, "<=100ms", latencyBucket(80*time.Millisecond))
	require.Equal(t, "<=500ms", latencyBucket(300*time.Millisecond))
	require.Equal(t, "<=2s", latencyBucket(time.Second))
	require.Equal(t, ">2s", latencyBucket(3*time.Second))
}
