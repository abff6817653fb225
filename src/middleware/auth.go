// Package middleware holds the gateway's request filters: bearer auth,
// per-client rate limiting and request identification.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/FractalBrew/file-store/src/services"
)

// SubjectKey is the gin context key under which the authenticated subject is
// stored for downstream handlers.
const SubjectKey = "auth_subject"

// Auth validates the Authorization bearer token and aborts with 401 when it
// is missing or invalid.
func Auth(tokens *services.JWTService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing bearer token",
			})
			return
		}

		subject, err := tokens.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			logger.WithError(err).Debug("Rejected bearer token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		c.Set(SubjectKey, subject)
		c.Next()
	}
}
