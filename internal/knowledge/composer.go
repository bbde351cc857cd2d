package knowledge

import (
	"context"
	"time"

	"github.com/agentia/replyflow/internal/adapter/llm"
	"github.com/agentia/replyflow/internal/domain/model"
)

// ComposeAnswer retrieves context for the queries and asks the reply model
// for an answer. Only the first query is answered: additional round-trips per
// message blow the latency budget, and the first query carries the customer's
// primary intent.
func (m *Manager) ComposeAnswer(ctx context.Context, agent llm.Agent, embedder llm.Embedder, embeddingModel string, queries []string, category model.Category) (string, error) {
	if len(queries) == 0 {
		return "未生成查询", nil
	}
	query := queries[0]

	docs, err := m.retrieveWithRetry(ctx, query, CategoryK(string(category)), embeddingModel, embedder)
	if err != nil {
		return "", err
	}
	if docs == "" {
		return "未找到相关信息", nil
	}

	answer, err := agent.Answer(ctx, query, category, docs)
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "未找到相关信息", nil
	}
	return answer, nil
}

// retrieveWithRetry retries a failed retrieval once after a short backoff
// before surfacing the error. Every error is retried, whatever its cause.
func (m *Manager) retrieveWithRetry(ctx context.Context, query string, k int, embeddingModel string, embedder llm.Embedder) (string, error) {
	docs, err := m.Retrieve(ctx, query, k, embeddingModel, embedder)
	if err == nil {
		return docs, nil
	}
	m.logger.Warn("retrieval failed, retrying once", "error", err)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(2 * time.Second):
	}
	return m.Retrieve(ctx, query, k, embeddingModel, embedder)
}
