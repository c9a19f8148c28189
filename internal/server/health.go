package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports ready once the database answers and the schema is active.
func (s *Server) Readyz(c *gin.Context) {
	ctx := c.Request.Context()

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		s.log.Warn("readiness: database unreachable", zap.Error(err))
		AbortWithError(c, ErrNotReady)
		return
	}

	if s.schemaGate != nil {
		if err := s.schemaGate.MustBeActive(ctx); err != nil {
			s.log.Warn("readiness: schema not active", zap.Error(err))
			AbortWithError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
