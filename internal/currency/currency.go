// Package currency validates ISO 4217 codes against the set the deployment
// sells in.
package currency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/railzwaylabs/pricing/internal/config"
	"go.uber.org/fx"
	"golang.org/x/text/currency"
)

var (
	ErrUnknownCurrency     = errors.New("unknown_currency")
	ErrUnsupportedCurrency = errors.New("unsupported_currency")
)

var Module = fx.Module("currency",
	fx.Provide(NewRegistryFromConfig),
)

type Registry struct {
	supported map[string]currency.Unit
}

func NewRegistryFromConfig(cfg config.Config) (*Registry, error) {
	return NewRegistry(cfg.Pricing.SupportedCurrencies...)
}

// NewRegistry fails when any code is not a valid ISO 4217 code.
func NewRegistry(codes ...string) (*Registry, error) {
	r := &Registry{supported: make(map[string]currency.Unit, len(codes))}
	for _, code := range codes {
		unit, err := parse(code)
		if err != nil {
			return nil, err
		}
		r.supported[unit.String()] = unit
	}
	return r, nil
}

// Canonical returns the upper-case ISO 4217 form of code, regardless of
// whether a registry supports it.
func Canonical(code string) (string, error) {
	unit, err := parse(code)
	if err != nil {
		return "", err
	}
	return unit.String(), nil
}

func parse(code string) (currency.Unit, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return currency.Unit{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return unit, nil
}

// Normalize upper-cases code and checks it is both a real ISO code and one the
// registry supports.
func (r *Registry) Normalize(code string) (string, error) {
	unit, err := parse(code)
	if err != nil {
		return "", err
	}
	if _, ok := r.supported[unit.String()]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedCurrency, unit.String())
	}
	return unit.String(), nil
}

func (r *Registry) Supported(code string) bool {
	_, err := r.Normalize(code)
	return err == nil
}

// MinorUnits returns the number of decimal places used by code (2 for USD,
// 0 for JPY).
func MinorUnits(code string) int {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}
