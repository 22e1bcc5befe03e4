package scheduler

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Provide(NewTrigger),
)

// StartTrigger hooks the cron trigger into the application lifecycle.
func StartTrigger(lc fx.Lifecycle, trigger *Trigger) {
	var handle *Handle
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			h, err := trigger.Start(ctx)
			if err != nil {
				return err
			}
			handle = h
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return handle.Stop(ctx)
		},
	})
}
