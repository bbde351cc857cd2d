// Package summary produces short body/reply summaries out-of-band from the
// pipeline. Failures are silent; a partial result is still worth saving.
package summary

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentia/replyflow/internal/adapter/llm"
	"github.com/agentia/replyflow/internal/adapter/pubsub"
	"github.com/agentia/replyflow/internal/domain/event"
	"github.com/agentia/replyflow/internal/domain/model"
	"github.com/agentia/replyflow/internal/identity"
	"github.com/agentia/replyflow/internal/userstate"
	"github.com/agentia/replyflow/internal/workerpool"
	"golang.org/x/sync/errgroup"
)

// AgentSource resolves the reply agent used for summarisation.
type AgentSource interface {
	AgentFor(u *model.User) (llm.Agent, error)
}

type Summariser struct {
	logger     *slog.Logger
	identity   *identity.Service
	agents     AgentSource
	dispatcher pubsub.EventDispatcher
	pools      *workerpool.Manager
}

func NewSummariser(
	logger *slog.Logger,
	ids *identity.Service,
	agents AgentSource,
	dispatcher pubsub.EventDispatcher,
	pools *workerpool.Manager,
) *Summariser {
	return &Summariser{
		logger:     logger,
		identity:   ids,
		agents:     agents,
		dispatcher: dispatcher,
		pools:      pools,
	}
}

// Summarise schedules summaries for a message's body and, when present,
// reply. When persist is false the caller owns the next save (monitor
// ingestion coalesces them).
func (s *Summariser) Summarise(st *userstate.State, emailID string, persist bool) {
	go s.run(st, emailID, persist)
}

func (s *Summariser) run(st *userstate.State, emailID string, persist bool) {
	sem := s.pools.SummarySem()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer sem.Release(1)

	var body, reply string
	var needBody, needReply bool
	st.WithLock(func() {
		em := st.FindLocked(emailID)
		if em == nil {
			for i := range st.History {
				if st.History[i].ID == emailID {
					em = &st.History[i].Email
					break
				}
			}
		}
		if em == nil {
			return
		}
		body, reply = em.Body, em.Reply
		needBody = em.BodySummary == "" && body != ""
		needReply = em.ReplySummary == "" && reply != ""
	})
	if !needBody && !needReply {
		return
	}

	user, err := s.identity.Get(st.Username)
	if err != nil {
		return
	}
	agent, err := s.agents.AgentFor(user)
	if err != nil {
		return
	}

	var bodySummary, replySummary string
	g, gctx := errgroup.WithContext(ctx)
	if needBody {
		g.Go(func() error {
			out, err := agent.Summarise(gctx, body)
			if err == nil {
				bodySummary = out
			}
			return nil
		})
	}
	if needReply {
		g.Go(func() error {
			out, err := agent.Summarise(gctx, reply)
			if err == nil {
				replySummary = out
			}
			return nil
		})
	}
	_ = g.Wait()

	if bodySummary == "" && replySummary == "" {
		return
	}

	st.WithLock(func() {
		apply := func(em *model.Email) {
			if bodySummary != "" {
				em.BodySummary = bodySummary
			}
			if replySummary != "" {
				em.ReplySummary = replySummary
			}
		}
		if em := st.FindLocked(emailID); em != nil {
			apply(em)
		}
		for i := range st.History {
			if st.History[i].ID == emailID {
				apply(&st.History[i].Email)
			}
		}
		if persist {
			if err := st.SaveLocked(s.identity); err != nil {
				s.logger.Warn("summary save failed", "user", st.Username, "error", err)
			}
		}
	})

	if err := s.dispatcher.Publish(event.New(event.SummarySaved, st.UserID, map[string]any{
		"email_id":      emailID,
		"body_summary":  bodySummary,
		"reply_summary": replySummary,
	})); err != nil {
		s.logger.Warn("summary event publish failed", "error", err)
	}
}
