package pricerecord

import (
	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
	"github.com/railzwaylabs/pricing/internal/pricerecord/repository"
	"github.com/railzwaylabs/pricing/internal/pricerecord/service"
	"github.com/railzwaylabs/pricing/internal/resolutioncache"
	"go.uber.org/fx"
)

var Module = fx.Module("pricerecord.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(c *resolutioncache.Cache) recorddomain.Invalidator { return c }),
	fx.Provide(service.New),
)
