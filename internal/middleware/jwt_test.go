package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTProtectedSetsStringSubjectAndRole(t *testing.T) {
	app := fiber.New()
	app.Use(JWTProtected(JWTConfig{Secret: "secret"}))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user_id":   c.Locals("user_id"),
			"user_role": c.Locals("user_role"),
		})
	})

	token := signToken(t, "secret", jwt.MapClaims{
		"sub":  "0192a3b4-grader",
		"role": "Teacher",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJWTProtectedRejectsWrongSecret(t *testing.T) {
	app := fiber.New()
	app.Use(JWTProtected(JWTConfig{Secret: "secret"}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	token := signToken(t, "other", jwt.MapClaims{"sub": "user", "exp": time.Now().Add(time.Hour).Unix()})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJWTProtectedRequiresHeader(t *testing.T) {
	app := fiber.New()
	app.Use(JWTProtected(JWTConfig{Secret: "secret"}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNormalizeUserID(t *testing.T) {
	id, err := normalizeUserID(float64(42))
	require.NoError(t, err)
	require.Equal(t, "42", id)

	id, err = normalizeUserID(" grader-7 ")
	require.NoError(t, err)
	require.Equal(t, "grader-7", id)

	_, err = normalizeUserID(1.5)
	require.Error(t, err)

	_, err = normalizeUserID(true)
	require.Error(t, err)
}

func jwtApp(cfg JWTConfig) *fiber.App {
	app := fiber.New()
	app.Use(JWTProtected(cfg))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user_id":   c.Locals("user_id"),
			"user_role": c.Locals("user_role"),
		})
	})
	return app
}

func callWithToken(t *testing.T, app *fiber.App, token string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	body := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestJWTProtectedPrefersGraderClaimAndHighestRole(t *testing.T) {
	app := jwtApp(JWTConfig{Secret: "secret"})
	token := signToken(t, "secret", jwt.MapClaims{
		"sub":       "idp|123",
		"grader_id": "grader-9",
		"roles":     []interface{}{"student", "teacher", "service"},
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	status, body := callWithToken(t, app, token)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "grader-9", body["user_id"])
	require.Equal(t, "teacher", body["user_role"])
}

func TestJWTProtectedValidatesIssuerAndExpiry(t *testing.T) {
	app := jwtApp(JWTConfig{Secret: "secret", Issuer: "gema-auth"})

	wrongIssuer := signToken(t, "secret", jwt.MapClaims{"sub": "grader-1", "iss": "elsewhere", "exp": time.Now().Add(time.Hour).Unix()})
	status, _ := callWithToken(t, app, wrongIssuer)
	require.Equal(t, http.StatusUnauthorized, status)

	expired := signToken(t, "secret", jwt.MapClaims{"sub": "grader-1", "iss": "gema-auth", "exp": time.Now().Add(-time.Hour).Unix()})
	status, _ = callWithToken(t, app, expired)
	require.Equal(t, http.StatusUnauthorized, status)

	valid := signToken(t, "secret", jwt.MapClaims{"sub": "grader-1", "iss": "gema-auth", "exp": time.Now().Add(time.Hour).Unix()})
	status, _ = callWithToken(t, app, valid)
	require.Equal(t, http.StatusOK, status)
}

func TestJWTProtectedRejectsMissingSubject(t *testing.T) {
	app := jwtApp(JWTConfig{Secret: "secret"})
	token := signToken(t, "secret", jwt.MapClaims{"role": "teacher", "exp": time.Now().Add(time.Hour).Unix()})

	status, _ := callWithToken(t, app, token)
	require.Equal(t, http.StatusUnauthorized, status)
}
