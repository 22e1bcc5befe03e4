package signature

import (
	"github.com/smallbiznis/crmjobs/internal/signature/service"
	"go.uber.org/fx"
)

var Module = fx.Module("signature.service",
	fx.Provide(service.NewService),
)
