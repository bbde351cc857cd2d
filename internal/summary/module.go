package summary

import (
	"github.com/agentia/replyflow/internal/adapter/llm"
	"github.com/agentia/replyflow/internal/pipeline"
	"go.uber.org/fx"
)

var Module = fx.Module("summary",
	fx.Provide(
		NewSummariser,
		func(f *llm.Factory) AgentSource { return f },
	),
	// The engine triggers summaries after terminal states; the binding is
	// late because both sides share the same adapters.
	fx.Invoke(func(e *pipeline.Engine, s *Summariser) {
		e.SetSummariser(s)
	}),
)
