package workerpool

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("workerpool",
	fx.Provide(NewManager),
	fx.Invoke(func(lc fx.Lifecycle, m *Manager) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				m.Shutdown()
				return nil
			},
		})
	}),
)
