package mailbox

import "go.uber.org/fx"

var Module = fx.Module("mailbox",
	fx.Provide(NewFactory),
)
