package clock

import (
	"context"
	"time"
)

type Clock interface {
	Now(ctx context.Context) time.Time
}

type key string

const asOfKey key = "pricing_as_of"

// WithTime pins the evaluation time carried by ctx. Resolution and rule
// evaluation then behave as if run at t, which is how scheduled prices are
// previewed.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, asOfKey, t.UTC())
}

// FromContext returns the pinned evaluation time, if any.
func FromContext(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(asOfKey).(time.Time)
	return t, ok
}
