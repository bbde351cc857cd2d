package orchestrator

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("orchestrator",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, o *Orchestrator) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				o.Shutdown()
				return nil
			},
		})
	}),
)
