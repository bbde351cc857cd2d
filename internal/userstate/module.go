package userstate

import "go.uber.org/fx"

var Module = fx.Module("userstate",
	fx.Provide(NewManager),
)
