package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// RequireRole guards a route group. Arguments are either auth role groups
// (AuthRoleGrader, AuthRoleScorer, AuthRoleAdmin) or raw token roles.
func RequireRole(groups ...string) fiber.Handler {
	allowed := expandRoles(groups...)

	return func(c *fiber.Ctx) error {
		if _, ok := allowed[RoleFromContext(c)]; !ok {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
		}
		return c.Next()
	}
}

// RoleFromContext returns the normalized token role of the caller.
func RoleFromContext(c *fiber.Ctx) string {
	return normalizeRoleValue(c.Locals("user_role"))
}

func expandRoles(groups ...string) map[string]struct{} {
	allowed := make(map[string]struct{}, len(groups))
	for _, group := range groups {
		normalized := strings.ToLower(strings.TrimSpace(group))
		if normalized == "" {
			continue
		}
		members, known := authRoleMembers[normalized]
		if !known {
			members = []string{normalized}
		}
		for _, member := range members {
			allowed[member] = struct{}{}
		}
	}
	return allowed
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
