package scope

import (
	"github.com/railzwaylabs/pricing/internal/scope/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("scope.lookup",
	fx.Provide(repository.Provide),
	fx.Provide(NewLookup),
)
