package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/fx"
)

// NewGoChannel builds the in-process bus. The output buffer keeps worker
// publishes from blocking while the bridge drains into the hub.
func NewGoChannel() *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 1024},
		watermill.NopLogger{},
	)
}

var Module = fx.Module("pubsub",
	fx.Provide(
		NewGoChannel,
		func(ch *gochannel.GoChannel) message.Publisher { return ch },
		func(ch *gochannel.GoChannel) message.Subscriber { return ch },
		NewEventDispatcher,
		NewBridge,
	),
	fx.Invoke(func(lc fx.Lifecycle, b *Bridge, ch *gochannel.GoChannel, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				logger.Info("event bus started")
				return b.Start(ctx)
			},
			OnStop: func(ctx context.Context) error {
				if err := ch.Close(); err != nil {
					return err
				}
				return b.Stop(ctx)
			},
		})
	}),
)
