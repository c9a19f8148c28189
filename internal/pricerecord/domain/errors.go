package domain

import "errors"

var (
	ErrNotFound        = errors.New("price_record_not_found")
	ErrInvalidVariant  = errors.New("invalid_variant")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidQuantity = errors.New("invalid_quantity_range")
	ErrInvalidWindow   = errors.New("invalid_validity_window")
	ErrInvalidTaxRate  = errors.New("invalid_tax_rate")
	ErrInvalidScope    = errors.New("invalid_scope")
	ErrAlreadyRetired  = errors.New("price_record_already_retired")
	ErrInvalidRequest  = errors.New("invalid_request")
)
