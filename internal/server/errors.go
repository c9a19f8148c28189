package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/railzwaylabs/pricing/internal/authorization"
	"github.com/railzwaylabs/pricing/internal/bootstrap"
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
	ruledomain "github.com/railzwaylabs/pricing/internal/pricerule/domain"
	quotedomain "github.com/railzwaylabs/pricing/internal/quote/domain"
	resolutiondomain "github.com/railzwaylabs/pricing/internal/resolution/domain"
	"github.com/railzwaylabs/pricing/pkg/db/pagination"
	"github.com/railzwaylabs/pricing/pkg/validation"
)

var (
	ErrUnauthorized   = authorization.ErrUnauthorized
	ErrForbidden      = authorization.ErrForbidden
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotReady       = errors.New("not_ready")
)

type errorBody struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func invalidRequestError() error {
	return ErrInvalidRequest
}

var badRequest = []error{
	ErrInvalidRequest,
	resolutiondomain.ErrInvalidContext,
	pagination.ErrInvalidPageToken,
	recorddomain.ErrInvalidRequest,
	recorddomain.ErrInvalidVariant,
	recorddomain.ErrInvalidCurrency,
	recorddomain.ErrInvalidAmount,
	recorddomain.ErrInvalidQuantity,
	recorddomain.ErrInvalidWindow,
	recorddomain.ErrInvalidTaxRate,
	recorddomain.ErrInvalidScope,
	ruledomain.ErrInvalidRequest,
	ruledomain.ErrInvalidName,
	ruledomain.ErrInvalidEntityType,
	ruledomain.ErrInvalidDiscountType,
	ruledomain.ErrInvalidDiscountValue,
	ruledomain.ErrInvalidCondition,
	ruledomain.ErrInvalidWindow,
	ruledomain.ErrInvalidUsageLimit,
	ruledomain.ErrInvalidOrderID,
}

var notFound = []error{
	recorddomain.ErrNotFound,
	ruledomain.ErrNotFound,
	quotedomain.ErrPriceNotFound,
}

var conflict = []error{
	recorddomain.ErrAlreadyRetired,
	ruledomain.ErrAlreadyInactive,
	ruledomain.ErrUsageLimitReached,
}

var unavailable = []error{
	resolutiondomain.ErrStoreUnavailable,
	ErrNotReady,
	bootstrap.ErrBootstrapStateInactive,
	bootstrap.ErrBootstrapStateNotFound,
	bootstrap.ErrSchemaVersionMismatch,
	bootstrap.ErrSchemaChecksumMismatch,
}

// AbortWithError writes the error envelope for err and stops the chain.
func AbortWithError(c *gin.Context, err error) {
	status, typ := classify(err)
	body := errorBody{Type: typ, Message: err.Error()}
	if status == http.StatusInternalServerError {
		body.Message = "internal error"
		_ = c.Error(err)
	}
	if details, ok := validation.Details(err); ok {
		body.Details = details
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, ErrUnauthorized.Error()
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, ErrForbidden.Error()
	}
	if target, ok := firstMatch(err, badRequest); ok {
		return http.StatusBadRequest, target.Error()
	}
	if target, ok := firstMatch(err, notFound); ok {
		return http.StatusNotFound, target.Error()
	}
	if target, ok := firstMatch(err, conflict); ok {
		return http.StatusConflict, target.Error()
	}
	if target, ok := firstMatch(err, unavailable); ok {
		return http.StatusServiceUnavailable, target.Error()
	}
	return http.StatusInternalServerError, "internal_error"
}

func firstMatch(err error, targets []error) (error, bool) {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target, true
		}
	}
	return nil, false
}
