package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentia/replyflow/internal/domain/event"
	"github.com/agentia/replyflow/internal/domain/model"
	"github.com/agentia/replyflow/internal/userstate"
)

// RetryWithQueries re-runs retrieval and drafting for a message using
// operator-edited queries in place of synthesis. The message may be pending
// or already terminal; it is pulled back through processing.
func (e *Engine) RetryWithQueries(ctx context.Context, st *userstate.State, u *model.User, emailID string, queries []string) (res *Result, err error) {
	if len(queries) == 0 {
		return nil, errors.New("pipeline: no queries supplied")
	}

	var em model.Email
	claimed := false
	st.WithLock(func() {
		cached := st.FindLocked(emailID)
		if cached == nil {
			return
		}
		cached.Status = model.StatusProcessing
		cached.RAGQueries = queries
		em = *cached
		claimed = true
	})
	if !claimed {
		return nil, fmt.Errorf("pipeline: message %s not in cache", emailID)
	}
	e.emit(event.EmailProcessStarted, st, map[string]any{"email_id": emailID, "subject": em.Subject})

	defer func() {
		if err != nil && !errors.Is(err, ErrStopped) {
			e.fail(st, emailID, err)
		}
	}()

	agent, err := e.agents.AgentFor(u)
	if err != nil {
		return nil, err
	}
	embedder, embeddingModel, err := e.agents.EmbedderFor(u)
	if err != nil {
		return nil, err
	}

	category := em.Category
	if category == "" || category == model.CategoryUnrelated {
		category = model.CategoryProductEnquiry
	}
	e.emit(event.RAGQueriesGenerated, st, map[string]any{"email_id": emailID, "queries": queries})

	retrieved, err := e.retriever.ComposeAnswer(ctx, agent, embedder, embeddingModel, queries, category)
	if err != nil {
		return nil, err
	}
	if e.checkpoint(st, emailID) {
		return nil, ErrStopped
	}

	draft, sendable, err := e.draftLoop(ctx, st, agent, &em, category, retrieved)
	if err != nil {
		return nil, err
	}
	return e.finishDrafted(ctx, st, u, emailID, category, draft, sendable, false)
}
