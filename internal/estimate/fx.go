package estimate

import (
	"github.com/smallbiznis/crmjobs/internal/estimate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("estimate.service",
	fx.Provide(service.NewService),
)
