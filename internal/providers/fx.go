package providers

import (
	"github.com/smallbiznis/crmjobs/internal/providers/email"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
)
