// Package pipeline implements the per-message state machine: classify,
// synthesise queries, retrieve, draft, verify, optionally send. Cancellation
// is cooperative: fixed checkpoints consult the user's stop flags and revert
// the message to pending when one is armed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agentia/replyflow/internal/adapter/llm"
	"github.com/agentia/replyflow/internal/adapter/mailbox"
	"github.com/agentia/replyflow/internal/adapter/pubsub"
	"github.com/agentia/replyflow/internal/domain/event"
	"github.com/agentia/replyflow/internal/domain/model"
	"github.com/agentia/replyflow/internal/identity"
	"github.com/agentia/replyflow/internal/ratelimit"
	"github.com/agentia/replyflow/internal/urgency"
	"github.com/agentia/replyflow/internal/userstate"
)

// ErrStopped is the sentinel a caller receives when a checkpoint honoured a
// stop request. The message is already back to pending when it surfaces.
var ErrStopped = errors.New("pipeline: stopped by request")

// SkippedReply is the canned reply text recorded for unrelated messages.
const SkippedReply = "无关邮件，已跳过"

const maxDraftTrials = 3

// AgentFactory builds the per-user model bindings.
type AgentFactory interface {
	AgentFor(u *model.User) (llm.Agent, error)
	EmbedderFor(u *model.User) (llm.Embedder, string, error)
}

// Retriever composes a grounded answer for the synthesised queries.
type Retriever interface {
	ComposeAnswer(ctx context.Context, agent llm.Agent, embedder llm.Embedder, embeddingModel string, queries []string, category model.Category) (string, error)
}

// Summariser is notified after a message reaches a terminal state.
type Summariser interface {
	Summarise(st *userstate.State, emailID string, persist bool)
}

// Engine runs pipelines. One engine serves every user; per-user state and
// model bindings arrive per call.
type Engine struct {
	logger     *slog.Logger
	identity   *identity.Service
	agents     AgentFactory
	retriever  Retriever
	limiter    *ratelimit.Limiter
	dispatcher pubsub.EventDispatcher
	mailboxes  mailbox.Factory
	summariser Summariser
}

func NewEngine(
	logger *slog.Logger,
	ids *identity.Service,
	agents AgentFactory,
	retriever Retriever,
	limiter *ratelimit.Limiter,
	dispatcher pubsub.EventDispatcher,
	mailboxes mailbox.Factory,
) *Engine {
	return &Engine{
		logger:     logger,
		identity:   ids,
		agents:     agents,
		retriever:  retriever,
		limiter:    limiter,
		dispatcher: dispatcher,
		mailboxes:  mailboxes,
	}
}

// SetSummariser attaches the out-of-band summariser. Optional; wiring is
// late-bound because the summariser publishes through the same engine deps.
func (e *Engine) SetSummariser(s Summariser) { e.summariser = s }

// SummariseOutOfBand forwards to the attached summariser, if any. The
// monitor uses it with persist=false so ingestion coalesces saves.
func (e *Engine) SummariseOutOfBand(st *userstate.State, emailID string, persist bool) {
	if e.summariser != nil {
		e.summariser.Summarise(st, emailID, persist)
	}
}

// Result describes a finished pipeline run.
type Result struct {
	EmailID  string         `json:"email_id"`
	Status   model.Status   `json:"status"`
	Category model.Category `json:"category,omitempty"`
	Reply    string         `json:"reply,omitempty"`
}

func (e *Engine) emit(kind event.Kind, st *userstate.State, payload any) {
	if err := e.dispatcher.Publish(event.New(kind, st.UserID, payload)); err != nil {
		e.logger.Warn("event publish failed", "kind", kind, "user", st.Username, "error", err)
	}
}

// checkpoint inspects the stop flags; when armed it reverts the message and
// reports true so the caller unwinds with ErrStopped.
func (e *Engine) checkpoint(st *userstate.State, id string) bool {
	if !st.ShouldStop(id) {
		return false
	}
	st.WithLock(func() {
		if em := st.FindLocked(id); em != nil {
			em.Status = model.StatusPending
		}
		st.ReleaseLocked(id)
		st.ClearStopEmailLocked(id)
		if err := st.SaveLocked(e.identity); err != nil {
			e.logger.Warn("state save failed after stop", "user", st.Username, "error", err)
		}
	})
	e.emit(event.EmailProcessStopped, st, map[string]any{"email_id": id})
	e.logger.Info("pipeline stopped at checkpoint", "user", st.Username, "email", id)
	return true
}

// ProcessEmail runs the full state machine for one cached message.
func (e *Engine) ProcessEmail(ctx context.Context, st *userstate.State, u *model.User, emailID string, autoSend bool) (res *Result, err error) {
	// Checkpoint before anything is claimed: a stop raised between scheduling
	// and execution costs nothing.
	if e.checkpoint(st, emailID) {
		return nil, ErrStopped
	}

	em, ok := st.Claim(emailID)
	if !ok {
		return nil, fmt.Errorf("pipeline: message %s not claimable", emailID)
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

	// Urgency is local and cheap; run it before the first model call.
	level, keywords := urgency.Analyze(em.Subject, em.Body)
	st.WithLock(func() {
		if cached := st.FindLocked(emailID); cached != nil {
			cached.UrgencyLevel = level
			cached.UrgencyKeywords = keywords
		}
	})

	if e.checkpoint(st, emailID) {
		return nil, ErrStopped
	}
	category, err := agent.Classify(ctx, em.Body)
	if err != nil {
		return nil, err
	}
	st.WithLock(func() {
		if cached := st.FindLocked(emailID); cached != nil {
			cached.Category = category
		}
	})
	if e.checkpoint(st, emailID) {
		return nil, ErrStopped
	}

	if category == model.CategoryUnrelated {
		return e.finishSkipped(ctx, st, u, emailID)
	}

	// Query synthesis.
	if e.checkpoint(st, emailID) {
		return nil, ErrStopped
	}
	queries, err := agent.SynthesiseQueries(ctx, em.Body)
	if err != nil {
		return nil, err
	}
	st.WithLock(func() {
		if cached := st.FindLocked(emailID); cached != nil {
			cached.RAGQueries = queries
		}
	})
	e.emit(event.RAGQueriesGenerated, st, map[string]any{"email_id": emailID, "queries": queries})

	// Retrieval.
	embedder, embeddingModel, err := e.agents.EmbedderFor(u)
	if err != nil {
		return nil, err
	}
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

	return e.finishDrafted(ctx, st, u, emailID, category, draft, sendable, autoSend)
}

// draftLoop writes up to maxDraftTrials drafts, feeding proofreader feedback
// back through the writer conversation. The history resets per message.
func (e *Engine) draftLoop(ctx context.Context, st *userstate.State, agent llm.Agent, em *model.Email, category model.Category, retrieved string) (string, bool, error) {
	var history []string
	var draft string
	for trial := 1; trial <= maxDraftTrials; trial++ {
		if e.checkpoint(st, em.ID) {
			return "", false, ErrStopped
		}
		d, err := agent.Draft(ctx, category, em.Body, retrieved, history)
		if err != nil {
			return "", false, err
		}
		draft = d
		history = append(history, fmt.Sprintf("**Draft %d:**\n%s", trial, d))

		if e.checkpoint(st, em.ID) {
			return "", false, ErrStopped
		}
		sendable, feedback, err := agent.Proofread(ctx, em.Body, d)
		if err != nil {
			return "", false, err
		}
		if e.checkpoint(st, em.ID) {
			return "", false, ErrStopped
		}
		if sendable {
			return draft, true, nil
		}
		history = append(history, fmt.Sprintf("**Proofreader Feedback:**\n%s", feedback))
		e.logger.Info("draft rejected by proofreader", "user", st.Username, "email", em.ID, "trial", trial)
	}
	// Out of trials: keep the last draft but never auto-send it.
	return draft, false, nil
}

// finishSkipped closes out an unrelated message: mark read, record the
// canned reply, move to skipped.
func (e *Engine) finishSkipped(ctx context.Context, st *userstate.State, u *model.User, emailID string) (*Result, error) {
	e.markRead(ctx, st, u, emailID)

	st.WithLock(func() {
		em := st.FindLocked(emailID)
		if em == nil {
			return
		}
		em.Status = model.StatusSkipped
		em.Reply = SkippedReply
		st.ReleaseLocked(emailID)
		st.AppendHistoryLocked(*em)
		st.AddActivityLocked("info", "skip", "跳过无关邮件: "+em.Subject)
		if err := st.SaveLocked(e.identity); err != nil {
			e.logger.Warn("state save failed", "user", st.Username, "error", err)
		}
	})

	e.emit(event.EmailProcessComplete, st, &Result{
		EmailID: emailID, Status: model.StatusSkipped, Category: model.CategoryUnrelated,
	})
	if e.summariser != nil {
		e.summariser.Summarise(st, emailID, true)
	}
	return &Result{EmailID: emailID, Status: model.StatusSkipped, Category: model.CategoryUnrelated}, nil
}

// finishDrafted lands a drafted reply: optional rate-limited send, mark
// read, persist, history, events.
func (e *Engine) finishDrafted(ctx context.Context, st *userstate.State, u *model.User, emailID string, category model.Category, draft string, sendable, autoSend bool) (*Result, error) {
	status := model.StatusProcessed

	if autoSend && sendable && draft != "" {
		decision := e.limiter.Admit(st.UserID)
		if decision.Allowed {
			var original model.Email
			st.WithLock(func() {
				if em := st.FindLocked(emailID); em != nil {
					original = *em
				}
			})
			box := e.mailboxes.ForAccount(u.Email, u.EmailAuthCode)
			if err := box.SendReply(ctx, &original, draft); err != nil {
				e.logger.Warn("auto-send failed, reply kept as processed", "user", st.Username, "email", emailID, "error", err)
			} else {
				e.limiter.Commit(st.UserID)
				status = model.StatusSent
			}
		} else {
			e.logger.Info("auto-send denied by rate limiter", "user", st.Username, "reason", decision.Reason, "message", decision.Message)
		}
	}

	e.markRead(ctx, st, u, emailID)

	// Checkpoint before save: the final chance for a stop to win.
	if e.checkpoint(st, emailID) {
		return nil, ErrStopped
	}

	st.WithLock(func() {
		em := st.FindLocked(emailID)
		if em == nil {
			return
		}
		em.Status = status
		em.Reply = draft
		st.ReleaseLocked(emailID)
		st.AppendHistoryLocked(*em)
		if status == model.StatusSent {
			st.SentCount++
			st.AddActivityLocked("success", "send", "已自动回复: "+em.Subject)
		} else {
			st.AddActivityLocked("success", "draft", "已生成回复: "+em.Subject)
		}
		if err := st.SaveLocked(e.identity); err != nil {
			e.logger.Warn("state save failed", "user", st.Username, "error", err)
		}
	})

	res := &Result{EmailID: emailID, Status: status, Category: category, Reply: draft}
	e.emit(event.EmailProcessComplete, st, res)
	if e.summariser != nil {
		e.summariser.Summarise(st, emailID, true)
	}
	return res, nil
}

// markRead is best-effort: a flagging failure never fails the pipeline.
func (e *Engine) markRead(ctx context.Context, st *userstate.State, u *model.User, emailID string) {
	var seq string
	st.WithLock(func() {
		if em := st.FindLocked(emailID); em != nil {
			seq = em.SeqNum
		}
	})
	if seq == "" {
		return
	}
	box := e.mailboxes.ForAccount(u.Email, u.EmailAuthCode)
	if err := box.MarkRead(ctx, seq); err != nil {
		e.logger.Warn("mark read failed", "user", st.Username, "email", emailID, "error", err)
	}
}

// fail lands an uncaught pipeline error: status failed, history, event. The
// draft, if any, is not saved.
func (e *Engine) fail(st *userstate.State, emailID string, cause error) {
	st.WithLock(func() {
		em := st.FindLocked(emailID)
		if em == nil {
			st.ReleaseLocked(emailID)
			return
		}
		em.Status = model.StatusFailed
		em.Reply = ""
		st.ReleaseLocked(emailID)
		st.AppendHistoryLocked(*em)
		st.AddActivityLocked("error", "fail", "处理失败: "+em.Subject)
		if err := st.SaveLocked(e.identity); err != nil {
			e.logger.Warn("state save failed", "user", st.Username, "error", err)
		}
	})
	e.emit(event.EmailProcessFailed, st, map[string]any{"email_id": emailID, "error": cause.Error()})
	e.logger.Error("pipeline failed", "user", st.Username, "email", emailID, "error", cause)
}
