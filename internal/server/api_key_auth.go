package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const contextSubjectKey = "auth_subject"

// APIKeyRequired authenticates requests with a bearer API key from config.
// It is a no-op when authorization is disabled.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.auth.Enabled() {
			c.Next()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		subject, err := s.auth.Subject(parts[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextSubjectKey, subject)
		c.Next()
	}
}

// Authorize checks the authenticated subject against the casbin policy.
func (s *Server) Authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.auth.Enabled() {
			c.Next()
			return
		}
		if err := s.auth.Authorize(c.Request.Context(), c.GetString(contextSubjectKey), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
