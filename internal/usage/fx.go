package usage

import (
	"github.com/smallbiznis/tiergate/internal/usage/repository"
	"github.com/smallbiznis/tiergate/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
