package usage

import (
	"github.com/smallbiznis/meterbill/internal/usage/lock"
	"github.com/smallbiznis/meterbill/internal/usage/repository"
	"github.com/smallbiznis/meterbill/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	lock.Module,
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
