package tier

import (
	"github.com/smallbiznis/tiergate/internal/tier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tier.catalog",
	fx.Provide(service.NewService),
)
