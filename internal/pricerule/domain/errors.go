package domain

import "errors"

var (
	ErrNotFound             = errors.New("price_rule_not_found")
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidEntityType    = errors.New("invalid_entity_type")
	ErrInvalidDiscountType  = errors.New("invalid_discount_type")
	ErrInvalidDiscountValue = errors.New("invalid_discount_value")
	ErrInvalidCondition     = errors.New("invalid_condition")
	ErrInvalidWindow        = errors.New("invalid_validity_window")
	ErrInvalidUsageLimit    = errors.New("invalid_usage_limit")
	ErrInvalidOrderID       = errors.New("invalid_order_id")
	ErrUsageLimitReached    = errors.New("usage_limit_reached")
	ErrAlreadyInactive      = errors.New("price_rule_already_inactive")
)
