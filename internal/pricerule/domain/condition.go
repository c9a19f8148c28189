package domain

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Op string

const (
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpNot Op = "not"
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
)

type Field string

const (
	FieldQuantity      Field = "quantity"
	FieldSubtotal      Field = "subtotal"
	FieldCurrency      Field = "currency"
	FieldCustomerGroup Field = "customer_group"
	FieldMarketID      Field = "market_id"
	FieldSiteID        Field = "site_id"
	FieldChannelID     Field = "channel_id"
)

const maxConditionDepth = 8

func (f Field) numeric() bool {
	return f == FieldQuantity || f == FieldSubtotal
}

func (f Field) known() bool {
	switch f {
	case FieldQuantity, FieldSubtotal, FieldCurrency, FieldCustomerGroup, FieldMarketID, FieldSiteID, FieldChannelID:
		return true
	}
	return false
}

// Condition is a node of a rule's predicate tree. Logical nodes (and, or,
// not) carry Children; comparison nodes carry Field and Value, or Values for
// "in". The zero Condition matches everything.
type Condition struct {
	Op       Op          `json:"op,omitempty"`
	Field    Field       `json:"field,omitempty"`
	Value    string      `json:"value,omitempty"`
	Values   []string    `json:"values,omitempty"`
	Children []Condition `json:"children,omitempty"`
}

func (c Condition) IsZero() bool {
	return c.Op == "" && c.Field == "" && c.Value == "" && len(c.Values) == 0 && len(c.Children) == 0
}

// Facts are the request attributes conditions are evaluated against.
// Subtotal is in currency units.
type Facts struct {
	Quantity      int64
	Subtotal      decimal.Decimal
	Currency      string
	CustomerGroup string
	MarketID      *snowflake.ID
	SiteID        *snowflake.ID
	ChannelID     *snowflake.ID
}

func (f Facts) lookup(field Field) (string, bool) {
	switch field {
	case FieldQuantity:
		return fmt.Sprint(f.Quantity), true
	case FieldSubtotal:
		return f.Subtotal.String(), true
	case FieldCurrency:
		return f.Currency, f.Currency != ""
	case FieldCustomerGroup:
		return f.CustomerGroup, f.CustomerGroup != ""
	case FieldMarketID:
		return idString(f.MarketID)
	case FieldSiteID:
		return idString(f.SiteID)
	case FieldChannelID:
		return idString(f.ChannelID)
	}
	return "", false
}

func idString(id *snowflake.ID) (string, bool) {
	if id == nil {
		return "", false
	}
	return id.String(), true
}

// Validate rejects unknown operators and fields, malformed operands and
// trees deeper than maxConditionDepth.
func (c Condition) Validate() error {
	if c.IsZero() {
		return nil
	}
	return c.validate(1)
}

func (c Condition) validate(depth int) error {
	if depth > maxConditionDepth {
		return fmt.Errorf("%w: nested deeper than %d", ErrInvalidCondition, maxConditionDepth)
	}

	switch c.Op {
	case OpAnd, OpOr:
		if len(c.Children) == 0 {
			return fmt.Errorf("%w: %s needs at least one child", ErrInvalidCondition, c.Op)
		}
		if c.Field != "" {
			return fmt.Errorf("%w: %s does not take a field", ErrInvalidCondition, c.Op)
		}
		for _, child := range c.Children {
			if err := child.validate(depth + 1); err != nil {
				return err
			}
		}
		return nil
	case OpNot:
		if len(c.Children) != 1 || c.Field != "" {
			return fmt.Errorf("%w: not takes exactly one child", ErrInvalidCondition)
		}
		return c.Children[0].validate(depth + 1)
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn:
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, c.Op)
	}

	if !c.Field.known() {
		return fmt.Errorf("%w: unknown field %q", ErrInvalidCondition, c.Field)
	}
	if len(c.Children) > 0 {
		return fmt.Errorf("%w: %s does not take children", ErrInvalidCondition, c.Op)
	}

	operands := []string{c.Value}
	switch c.Op {
	case OpIn:
		if len(c.Values) == 0 {
			return fmt.Errorf("%w: in needs values", ErrInvalidCondition)
		}
		operands = c.Values
	case OpGt, OpGte, OpLt, OpLte:
		if !c.Field.numeric() {
			return fmt.Errorf("%w: %s is not comparable with %s", ErrInvalidCondition, c.Field, c.Op)
		}
	}
	for _, operand := range operands {
		if strings.TrimSpace(operand) == "" {
			return fmt.Errorf("%w: %s on %s needs a value", ErrInvalidCondition, c.Op, c.Field)
		}
		if c.Field.numeric() {
			if _, err := decimal.NewFromString(operand); err != nil {
				return fmt.Errorf("%w: %q is not a number", ErrInvalidCondition, operand)
			}
		}
	}
	return nil
}

// Evaluate reports whether facts satisfy the tree. A comparison on a fact
// that is absent from the request only matches through neq.
func (c Condition) Evaluate(facts Facts) bool {
	if c.IsZero() {
		return true
	}

	switch c.Op {
	case OpAnd:
		for _, child := range c.Children {
			if !child.Evaluate(facts) {
				return false
			}
		}
		return true
	case OpOr:
		for _, child := range c.Children {
			if child.Evaluate(facts) {
				return true
			}
		}
		return false
	case OpNot:
		return len(c.Children) == 1 && !c.Children[0].Evaluate(facts)
	}

	actual, ok := facts.lookup(c.Field)
	if !ok {
		return c.Op == OpNeq
	}

	if c.Field.numeric() {
		return compareNumeric(c, actual)
	}

	switch c.Op {
	case OpEq:
		return strings.EqualFold(actual, c.Value)
	case OpNeq:
		return !strings.EqualFold(actual, c.Value)
	case OpIn:
		return slices.ContainsFunc(c.Values, func(v string) bool { return strings.EqualFold(actual, v) })
	case OpGt, OpGte, OpLt, OpLte:
		return false
	}
	return false
}

func compareNumeric(c Condition, actual string) bool {
	left, err := decimal.NewFromString(actual)
	if err != nil {
		return false
	}
	if c.Op == OpIn {
		return slices.ContainsFunc(c.Values, func(v string) bool {
			right, err := decimal.NewFromString(v)
			return err == nil && left.Equal(right)
		})
	}

	right, err := decimal.NewFromString(c.Value)
	if err != nil {
		return false
	}
	switch c.Op {
	case OpEq:
		return left.Equal(right)
	case OpNeq:
		return !left.Equal(right)
	case OpGt:
		return left.GreaterThan(right)
	case OpGte:
		return left.GreaterThanOrEqual(right)
	case OpLt:
		return left.LessThan(right)
	case OpLte:
		return left.LessThanOrEqual(right)
	}
	return false
}
