package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
	ruledomain "github.com/railzwaylabs/pricing/internal/pricerule/domain"
	quotedomain "github.com/railzwaylabs/pricing/internal/quote/domain"
)

type resolveRequest struct {
	contextRequest
	VariantID string `json:"variant_id" binding:"required"`
}

type resolveBulkRequest struct {
	contextRequest
	VariantIDs []string `json:"variant_ids" binding:"required,min=1"`
}

type resolveBulkResponse struct {
	Prices  map[string]*recorddomain.PriceRecord `json:"prices"`
	Missing []string                             `json:"missing"`
}

type quoteRequest struct {
	resolveRequest
	CustomerID    string `json:"customer_id"`
	CustomerGroup string `json:"customer_group"`
	EntityType    string `json:"entity_type"`
}

type quoteBulkRequest struct {
	resolveBulkRequest
	CustomerID    string `json:"customer_id"`
	CustomerGroup string `json:"customer_group"`
	EntityType    string `json:"entity_type"`
}

type quoteBulkResponse struct {
	Quotes  map[string]*quotedomain.Quote `json:"quotes"`
	Missing []string                      `json:"missing"`
}

// ResolvePrice returns the winning price record for one variant.
func (s *Server) ResolvePrice(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	variantID, err := parseID(req.VariantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ctx, pc, err := s.pricingContext(c.Request.Context(), req.contextRequest)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	record, err := s.resolver.Resolve(ctx, variantID, pc)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if record == nil {
		AbortWithError(c, quotedomain.ErrPriceNotFound)
		return
	}
	respondData(c, record)
}

// ResolvePricesBulk resolves many variants against one context. Variants
// without an eligible record are listed under missing.
func (s *Server) ResolvePricesBulk(c *gin.Context) {
	var req resolveBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	ids, err := parseIDs(req.VariantIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ctx, pc, err := s.pricingContext(c.Request.Context(), req.contextRequest)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	records, err := s.resolver.ResolveBulk(ctx, ids, pc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := resolveBulkResponse{Prices: make(map[string]*recorddomain.PriceRecord, len(records)), Missing: []string{}}
	for _, id := range ids {
		if record := records[id]; record != nil {
			resp.Prices[id.String()] = record
			continue
		}
		resp.Missing = append(resp.Missing, id.String())
	}
	respondData(c, resp)
}

// QuotePrice resolves a variant and folds the applicable price rules over it.
func (s *Server) QuotePrice(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	variantID, err := parseID(req.VariantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	customerID, err := parseOptionalCustomer(req.CustomerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ctx, pc, err := s.pricingContext(c.Request.Context(), req.contextRequest)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	quote, err := s.quotes.Quote(ctx, quotedomain.Request{
		VariantID:  variantID,
		Context:    pc,
		CustomerID: customerID,
		EntityType: strings.TrimSpace(req.EntityType),
		Facts:      ruledomain.Facts{CustomerGroup: strings.TrimSpace(req.CustomerGroup)},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, quote)
}

func (s *Server) QuotePricesBulk(c *gin.Context) {
	var req quoteBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	ids, err := parseIDs(req.VariantIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	customerID, err := parseOptionalCustomer(req.CustomerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ctx, pc, err := s.pricingContext(c.Request.Context(), req.contextRequest)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	quotes, err := s.quotes.QuoteBulk(ctx, quotedomain.BulkRequest{
		VariantIDs: ids,
		Context:    pc,
		CustomerID: customerID,
		EntityType: strings.TrimSpace(req.EntityType),
		Facts:      ruledomain.Facts{CustomerGroup: strings.TrimSpace(req.CustomerGroup)},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := quoteBulkResponse{Quotes: make(map[string]*quotedomain.Quote, len(quotes)), Missing: []string{}}
	for _, id := range ids {
		if q := quotes[id]; q != nil {
			resp.Quotes[id.String()] = q
			continue
		}
		resp.Missing = append(resp.Missing, id.String())
	}
	respondData(c, resp)
}

func parseIDs(values []string) ([]snowflake.ID, error) {
	ids := make([]snowflake.ID, 0, len(values))
	for _, v := range values {
		id, err := parseID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseOptionalCustomer(value string) (*snowflake.ID, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	id, err := parseID(value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
