package clock

import (
	"context"
	"time"

	"go.uber.org/fx"
)

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)

type SystemClock struct{}

func (SystemClock) Now(ctx context.Context) time.Time {
	if t, ok := FromContext(ctx); ok {
		return t
	}
	return time.Now().UTC()
}

// Fixed always reports the same instant unless ctx pins another one.
type Fixed struct {
	At time.Time
}

func (f Fixed) Now(ctx context.Context) time.Time {
	if t, ok := FromContext(ctx); ok {
		return t
	}
	return f.At
}
