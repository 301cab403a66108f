package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRegisterRecoversPanicsWithCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	app := fiber.New()
	Register(app, Config{Logger: &logger})
	app.Get(GradingAPIPrefix+"/boom", func(c *fiber.Ctx) error {
		panic("scorer exploded")
	})

	req := httptest.NewRequest(http.MethodGet, GradingAPIPrefix+"/boom", nil)
	req.Header.Set(CorrelationHeader, "panic-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	require.Contains(t, buf.String(), "recovered from panic in grading request")
	require.Contains(t, buf.String(), `"correlation_id":"panic-1"`)
}

func TestRegisterAppliesCORSOrigins(t *testing.T) {
	app := fiber.New()
	Register(app, Config{AllowOrigins: "https://grading.example.com"})
	app.Get(GradingAPIPrefix+"/ping", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, GradingAPIPrefix+"/ping", nil)
	req.Header.Set(fiber.HeaderOrigin, "https://grading.example.com")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "https://grading.example.com", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
	require.Equal(t, CorrelationHeader, resp.Header.Get(fiber.HeaderAccessControlExposeHeaders))
	require.NotEmpty(t, resp.Header.Get(CorrelationHeader))
}
