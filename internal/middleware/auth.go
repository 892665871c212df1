package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/activity-records-go/internal/auth"
	"github.com/jengzang/activity-records-go/pkg/response"
)

// SubjectKey is the gin context key holding the authenticated token subject
const SubjectKey = "auth.subject"

// Auth requires a valid bearer token. A nil service disables the check.
func Auth(svc *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			response.Unauthorized(c, "Missing bearer token", nil)
			return
		}

		claims, err := svc.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "Token expired"
			}
			response.Unauthorized(c, msg, err)
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Next()
	}
}
