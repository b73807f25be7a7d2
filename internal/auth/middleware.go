package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vitalsync/internal/vital"
)

const principalContextKey = "principal"

// PrincipalFromContext returns the principal set by RequireAuth.
func PrincipalFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(principalContextKey)
	if !ok {
		return "", false
	}
	principal, ok := v.(string)
	return principal, ok && principal != ""
}

// RequireAuth rejects requests without a valid bearer token with 401.
func RequireAuth(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			abortUnauthenticated(c, "missing bearer token")
			return
		}

		principal, err := verifier.VerifyToken(parts[1])
		if err != nil {
			abortUnauthenticated(c, "invalid authentication token")
			return
		}

		c.Set(principalContextKey, principal)
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, vital.ErrorResponse{
		Error:  vital.CodeUnauthenticated,
		Detail: detail,
	})
}
