package middleware

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// JWTConfig configures bearer token validation.
type JWTConfig struct {
	Secret string
	// Issuer, when set, must match the iss claim.
	Issuer string
	Leeway time.Duration
}

// JWTProtected validates HS256/HS384/HS512 bearer tokens and exposes the
// caller as the user_id and user_role locals. Scoring providers authenticate
// with a role of "service".
func JWTProtected(cfg JWTConfig) fiber.Handler {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(options...)
	key := []byte(cfg.Secret)

	return func(c *fiber.Ctx) error {
		authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		scheme, tokenString, found := strings.Cut(authorization, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}
		tokenString = strings.TrimSpace(tokenString)
		if tokenString == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		userID := extractUserIDFromClaims(claims)
		if userID == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "token subject missing")
		}
		c.Locals("user_id", userID)
		if role := extractUserRoleFromClaims(claims); role != "" {
			c.Locals("user_role", role)
		}

		return c.Next()
	}
}

// extractUserIDFromClaims prefers grader_id so a shared identity provider can
// map its subject onto the grader registry.
func extractUserIDFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"grader_id", "sub", "user_id"} {
		if value, ok := claims[key]; ok {
			if normalized, err := normalizeUserID(value); err == nil {
				return normalized
			}
		}
	}
	return ""
}

func normalizeUserID(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return "", fmt.Errorf("empty subject")
		}
		return trimmed, nil
	case float64:
		if v < 0 || v != float64(int64(v)) {
			return "", fmt.Errorf("invalid subject")
		}
		return strconv.FormatInt(int64(v), 10), nil
	default:
		return "", fmt.Errorf("unsupported subject type")
	}
}

func extractUserRoleFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"role", "roles"} {
		value, ok := claims[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if role := normalizeRoleValue(v); role != "" {
				return role
			}
		case []interface{}:
			if role := highestRole(v); role != "" {
				return role
			}
		}
	}
	return ""
}

var rolePrecedence = map[string]int{"admin": 3, "teacher": 2, "service": 1}

// highestRole picks the most privileged known role from a roles array,
// falling back to the first non-empty entry.
func highestRole(values []interface{}) string {
	best, fallback := "", ""
	for _, item := range values {
		str, ok := item.(string)
		if !ok {
			continue
		}
		role := normalizeRoleValue(str)
		if role == "" {
			continue
		}
		if fallback == "" {
			fallback = role
		}
		if rolePrecedence[role] > rolePrecedence[best] {
			best = role
		}
	}
	if best != "" {
		return best
	}
	return fallback
}
