package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/agentia/replyflow/config"
	"github.com/agentia/replyflow/internal/handler/lp"
	"github.com/agentia/replyflow/internal/handler/ws"
	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
)

var Module = fx.Module("http",
	fx.Provide(
		NewHandler,
		ws.NewWSHandler,
		lp.NewLPHandler,
		Router,
	),
	fx.Invoke(RunServer),
)

// RunServer binds the HTTP server to the fx lifecycle.
func RunServer(lc fx.Lifecycle, cfg *config.Config, router chi.Router, logger *slog.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("http server listening", "addr", srv.Addr)
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server exited", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
