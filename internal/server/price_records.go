package server

import (
	"github.com/gin-gonic/gin"
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
)

// @Summary      Create Price Record
// @Tags         price_records
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body recorddomain.CreateRequest true "Create Price Record Request"
// @Router       /price_records [post]
func (s *Server) CreatePriceRecord(c *gin.Context) {
	var req recorddomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.records.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, record)
}

// @Summary      List Price Records
// @Tags         price_records
// @Produce      json
// @Security     ApiKeyAuth
// @Param        variant_id   query  string  false  "Variant ID"
// @Param        market_id    query  string  false  "Market ID"
// @Param        currency     query  string  false  "Currency"
// @Param        active_only  query  bool    false  "Only active records"
// @Param        page_token   query  string  false  "Page Token"
// @Param        page_size    query  int     false  "Page Size"
// @Router       /price_records [get]
func (s *Server) ListPriceRecords(c *gin.Context) {
	var req recorddomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.records.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, resp.Items, &resp.PageInfo)
}

// @Summary      Get Price Record
// @Tags         price_records
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id   path      string  true  "Price Record ID"
// @Router       /price_records/{id} [get]
func (s *Server) GetPriceRecord(c *gin.Context) {
	record, err := s.records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, record)
}

// @Summary      Retire Price Record
// @Tags         price_records
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id   path      string  true  "Price Record ID"
// @Router       /price_records/{id}/retire [post]
func (s *Server) RetirePriceRecord(c *gin.Context) {
	record, err := s.records.Retire(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, record)
}
