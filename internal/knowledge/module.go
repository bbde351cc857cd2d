package knowledge

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("knowledge",
	fx.Provide(NewManager),
	fx.Invoke(func(lc fx.Lifecycle, m *Manager) {
		watchCtx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				return m.Watch(watchCtx)
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
	}),
)
