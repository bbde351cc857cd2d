package llm

import (
	"log/slog"
	"sync"

	"github.com/agentia/replyflow/config"
	"github.com/agentia/replyflow/internal/domain/model"
)

// Factory resolves per-user model bindings into ready clients. Clients are
// cached per endpoint so every user call shares one breaker and transport.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	clients map[Endpoint]*Client
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	return &Factory{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[Endpoint]*Client),
	}
}

func (f *Factory) client(ep Endpoint) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[ep]; ok {
		return c
	}
	c := NewClient(ep, f.logger)
	f.clients[ep] = c
	return c
}

// AgentFor builds the reply-model agent with the user's templates.
func (f *Factory) AgentFor(u *model.User) (Agent, error) {
	ep, err := ResolveReply(f.cfg, u)
	if err != nil {
		return nil, err
	}
	return NewAgent(f.client(ep), u.Settings, f.logger), nil
}

// EmbedderFor builds the embedding client and reports the resolved model
// name, which drives dimension detection.
func (f *Factory) EmbedderFor(u *model.User) (Embedder, string, error) {
	ep, err := ResolveEmbedding(f.cfg, u)
	if err != nil {
		return nil, "", err
	}
	return f.client(ep), ep.Model, nil
}
