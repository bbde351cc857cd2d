package service

import (
	"go.uber.org/fx"
)

var Module = fx.Module("service",
	fx.Provide(
		NewSessions,
		NewApp,
		fx.Annotate(
			NewDeliveryService,
			fx.As(new(Deliverer)),
		),
	),
)
