package domain

import (
	"time"

	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
)

// Outranks reports whether a should win over b. Higher specificity wins;
// among equally specific records the narrower quantity window wins (an
// unbounded window is the widest), then the newer record, then the larger id.
func Outranks(a, b *recorddomain.PriceRecord) bool {
	if sa, sb := a.Specificity(), b.Specificity(); sa != sb {
		return sa > sb
	}

	spanA, boundedA := a.QuantitySpan()
	spanB, boundedB := b.QuantitySpan()
	switch {
	case boundedA && !boundedB:
		return true
	case !boundedA && boundedB:
		return false
	case boundedA && boundedB && spanA != spanB:
		return spanA < spanB
	}

	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Pick filters candidates down to records eligible at now for the requested
// quantity and scope, and returns the best ranked one.
func Pick(candidates []recorddomain.PriceRecord, scope recorddomain.Scope, currency string, qty int64, now time.Time) *recorddomain.PriceRecord {
	var best *recorddomain.PriceRecord
	for i := range candidates {
		c := &candidates[i]
		if c.Currency != currency || !c.EligibleAt(now, qty) || !c.Matches(scope) {
			continue
		}
		if best == nil || Outranks(c, best) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	winner := *best
	return &winner
}
