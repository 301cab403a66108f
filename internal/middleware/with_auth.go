package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// Auth role groups understood by WithAuth and RequireRole.
const (
	AuthRoleAny    = "any"
	AuthRoleGrader = "grader"
	AuthRoleScorer = "scorer"
	AuthRoleAdmin  = "admin"
)

// authRoleMembers maps each group onto token roles. Graders start and
// override sessions, scorers post automatic results, admins do both.
var authRoleMembers = map[string][]string{
	AuthRoleGrader: {"teacher", "admin"},
	AuthRoleScorer: {"service", "admin"},
	AuthRoleAdmin:  {"admin"},
}

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// WithAuth wraps a single handler with the authentication and role guards.
// Any role other than AuthRoleAny implies RequireUser.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}
	requireUser := opts.RequireUser || role != AuthRoleAny

	var allowed map[string]struct{}
	if role != AuthRoleAny {
		allowed = expandRoles(role)
	}

	return func(c *fiber.Ctx) error {
		if requireUser && c.Locals("user_id") == nil {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}
		if allowed == nil {
			return handler(c)
		}
		if _, ok := allowed[RoleFromContext(c)]; !ok {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
		}
		return handler(c)
	}
}
