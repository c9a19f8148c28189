package server

import (
	"github.com/gin-gonic/gin"
	ruledomain "github.com/railzwaylabs/pricing/internal/pricerule/domain"
)

func (s *Server) CreatePriceRule(c *gin.Context) {
	var req ruledomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rule, err := s.rules.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, rule)
}

func (s *Server) ListPriceRules(c *gin.Context) {
	var req ruledomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.rules.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, resp.Items, &resp.PageInfo)
}

func (s *Server) GetPriceRule(c *gin.Context) {
	rule, err := s.rules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, rule)
}

func (s *Server) DeactivatePriceRule(c *gin.Context) {
	rule, err := s.rules.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, rule)
}
