package rbac

import (
	"context"
	"net/http"

	"invoice-engine/internal/auth"
	"invoice-engine/internal/invoice"
	"invoice-engine/internal/lifecycle"

	"github.com/gin-gonic/gin"
)

// RequireBranch enforces branch scoping: every non-admin caller must carry a
// known branch claim.
func RequireBranch() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsAdmin(role) {
			c.Next()
			return
		}
		if _, err := invoice.ParseBranch(auth.Branch(c.Request.Context())); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "branch required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - admin bypasses all checks
// - unknown roles are always denied
// - branch isolation is enforced via RequireBranch (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsAdmin(role) {
			c.Next()
			return
		}

		if !IsKnownRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// Actor builds the lifecycle caller from the identity in ctx.
func Actor(ctx context.Context) (lifecycle.Actor, error) {
	userID, err := auth.UserID(ctx)
	if err != nil {
		return lifecycle.Actor{}, err
	}
	role, err := auth.Role(ctx)
	if err != nil {
		return lifecycle.Actor{}, err
	}
	a := lifecycle.Actor{ID: userID, Admin: IsAdmin(role)}
	if raw := auth.Branch(ctx); raw != "" {
		b, err := invoice.ParseBranch(raw)
		if err != nil {
			return lifecycle.Actor{}, err
		}
		a.Branch = &b
	}
	return a, nil
}
