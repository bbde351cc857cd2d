package pipeline

import (
	"github.com/agentia/replyflow/internal/adapter/llm"
	"github.com/agentia/replyflow/internal/knowledge"
	"go.uber.org/fx"
)

var Module = fx.Module("pipeline",
	fx.Provide(
		NewEngine,
		func(f *llm.Factory) AgentFactory { return f },
		func(m *knowledge.Manager) Retriever { return m },
	),
)
