package cmd

import (
	"log/slog"
	"os"

	"github.com/agentia/replyflow/config"
	"github.com/agentia/replyflow/internal/adapter/llm"
	"github.com/agentia/replyflow/internal/adapter/mailbox"
	"github.com/agentia/replyflow/internal/adapter/pubsub"
	"github.com/agentia/replyflow/internal/domain/registry"
	httphandler "github.com/agentia/replyflow/internal/handler/http"
	"github.com/agentia/replyflow/internal/identity"
	"github.com/agentia/replyflow/internal/knowledge"
	"github.com/agentia/replyflow/internal/orchestrator"
	"github.com/agentia/replyflow/internal/pipeline"
	"github.com/agentia/replyflow/internal/ratelimit"
	"github.com/agentia/replyflow/internal/service"
	"github.com/agentia/replyflow/internal/summary"
	"github.com/agentia/replyflow/internal/userstate"
	"github.com/agentia/replyflow/internal/workerpool"
	"go.uber.org/fx"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		identity.Module,
		userstate.Module,
		ratelimit.Module,
		workerpool.Module,
		registry.Module,
		pubsub.Module,
		mailbox.Module,
		llm.Module,
		knowledge.Module,
		pipeline.Module,
		summary.Module,
		orchestrator.Module,
		service.Module,
		httphandler.Module,
	)
}

func ProvideLogger() *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}
