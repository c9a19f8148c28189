package server

import "github.com/gin-gonic/gin"

func (s *Server) ListMarkets(c *gin.Context) {
	markets, err := s.scopes.Markets(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, markets, nil)
}
