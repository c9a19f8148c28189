package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type invalidateCacheRequest struct {
	Tags []string `json:"tags" binding:"required,min=1,dive,required"`
}

// InvalidateCache bumps the given tags (for example market:123 after the
// market's defaults changed upstream) so dependent resolutions recompute.
func (s *Server) InvalidateCache(c *gin.Context) {
	var req invalidateCacheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tags := make([]string, 0, len(req.Tags))
	for _, tag := range req.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.cache.Invalidate(c.Request.Context(), tags...); err != nil {
		AbortWithError(c, err)
		return
	}
	s.log.Info("cache tags invalidated",
		zap.Strings("tags", tags),
		zap.String("request_id", requestIDFrom(c)),
	)
	respondData(c, gin.H{"invalidated": tags})
}
