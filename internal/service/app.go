// Package service is the application facade behind the HTTP/WS handlers. It
// resolves usernames, loads per-user state and delegates to the
// orchestrator, pipeline and knowledge subsystems.
package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agentia/replyflow/config"
	"github.com/agentia/replyflow/internal/adapter/llm"
	"github.com/agentia/replyflow/internal/adapter/mailbox"
	"github.com/agentia/replyflow/internal/adapter/pubsub"
	"github.com/agentia/replyflow/internal/domain/event"
	"github.com/agentia/replyflow/internal/domain/model"
	"github.com/agentia/replyflow/internal/identity"
	"github.com/agentia/replyflow/internal/knowledge"
	"github.com/agentia/replyflow/internal/orchestrator"
	"github.com/agentia/replyflow/internal/pipeline"
	"github.com/agentia/replyflow/internal/ratelimit"
	"github.com/agentia/replyflow/internal/userstate"
	"github.com/agentia/replyflow/internal/workerpool"
)

type App struct {
	logger     *slog.Logger
	cfg        *config.Config
	identity   *identity.Service
	states     *userstate.Manager
	orch       *orchestrator.Orchestrator
	engine     *pipeline.Engine
	knowledge  *knowledge.Manager
	agents     *llm.Factory
	limiter    *ratelimit.Limiter
	dispatcher pubsub.EventDispatcher
	mailboxes  mailbox.Factory
	pools      *workerpool.Manager
	sessions   *Sessions
}

func NewApp(
	logger *slog.Logger,
	cfg *config.Config,
	ids *identity.Service,
	states *userstate.Manager,
	orch *orchestrator.Orchestrator,
	engine *pipeline.Engine,
	kb *knowledge.Manager,
	agents *llm.Factory,
	limiter *ratelimit.Limiter,
	dispatcher pubsub.EventDispatcher,
	mailboxes mailbox.Factory,
	pools *workerpool.Manager,
	sessions *Sessions,
) *App {
	return &App{
		logger:     logger,
		cfg:        cfg,
		identity:   ids,
		states:     states,
		orch:       orch,
		engine:     engine,
		knowledge:  kb,
		agents:     agents,
		limiter:    limiter,
		dispatcher: dispatcher,
		mailboxes:  mailboxes,
		pools:      pools,
		sessions:   sessions,
	}
}

// state loads the user's record and working state together.
func (a *App) state(username string) (*model.User, *userstate.State, error) {
	user, err := a.identity.Get(username)
	if err != nil {
		return nil, nil, err
	}
	st, err := a.states.Get(username, user.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, st, nil
}

// --- auth ---

type LoginResult struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	UserID   string `json:"user_id"`
	Settings any    `json:"settings"`
}

func (a *App) Login(username, password, userAgent, ip string) (*LoginResult, error) {
	user, err := a.identity.Authenticate(username, password)
	if err != nil {
		return nil, err
	}
	if err := a.identity.RecordLogin(username, userAgent, ip); err != nil {
		a.logger.Warn("device record failed", "user", username, "error", err)
	}
	return &LoginResult{
		Token:    a.sessions.Create(username),
		Username: username,
		UserID:   user.UserID,
		Settings: user.Settings,
	}, nil
}

func (a *App) Register(username, password string) (*LoginResult, error) {
	user, err := a.identity.Register(username, password)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Token:    a.sessions.Create(username),
		Username: username,
		UserID:   user.UserID,
		Settings: user.Settings,
	}, nil
}

func (a *App) Logout(token string) { a.sessions.Revoke(token) }

func (a *App) Auth(token string) (string, error) { return a.sessions.Lookup(token) }

func (a *App) ChangePassword(username, oldPassword, newPassword string) error {
	return a.identity.UpdatePassword(username, oldPassword, newPassword)
}

// ResetPassword verifies the bound mailbox address before rehashing.
func (a *App) ResetPassword(username, email, newPassword string) error {
	user, err := a.identity.Get(username)
	if err != nil {
		return err
	}
	if user.Email == "" || user.Email != email {
		return errors.New("邮箱验证失败，无法重置密码")
	}
	return a.identity.UpdatePassword(username, "", newPassword)
}

func (a *App) Rename(username, newUsername string) error {
	if err := a.identity.Rename(username, newUsername); err != nil {
		return err
	}
	a.sessions.Rekey(username, newUsername)
	return nil
}

// --- monitor & processing commands ---

func (a *App) StartMonitor(username string) error { return a.orch.StartMonitor(username) }
func (a *App) StopMonitor(username string) error  { return a.orch.StopMonitor(username) }

func (a *App) ProcessOne(username, emailID string) error {
	return a.orch.ProcessOne(username, emailID)
}

func (a *App) ProcessAll(username string) error { return a.orch.ProcessAll(username) }

func (a *App) StopOne(username, emailID string) error { return a.orch.StopOne(username, emailID) }
func (a *App) StopAll(username string) error          { return a.orch.StopAll(username) }

func (a *App) ToggleAutoProcess(username string, enabled bool) error {
	return a.identity.Update(username, func(u *model.User) error {
		u.Settings.AutoProcess = enabled
		return nil
	})
}

// Refresh polls the mailbox immediately.
func (a *App) Refresh(ctx context.Context, username string) (int, error) {
	user, st, err := a.state(username)
	if err != nil {
		return 0, err
	}
	return a.orch.Poll(ctx, st, user)
}

// --- message commands ---

func (a *App) Emails(username string) ([]model.Email, error) {
	_, st, err := a.state(username)
	if err != nil {
		return nil, err
	}
	var out []model.Email
	st.WithLock(func() {
		out = append(out, st.Cache...)
	})
	return out, nil
}

func (a *App) DeleteEmail(username, emailID string) error {
	_, st, err := a.state(username)
	if err != nil {
		return err
	}
	st.WithLock(func() {
		kept := st.Cache[:0]
		for i := range st.Cache {
			if st.Cache[i].ID != emailID {
				kept = append(kept, st.Cache[i])
			}
		}
		st.Cache = kept
		if err := st.SaveLocked(a.identity); err != nil {
			a.logger.Warn("state save failed", "user", username, "error", err)
		}
	})
	return nil
}

// MarkRead flags the message read both in the cache and, best-effort, at the
// mailbox.
func (a *App) MarkRead(ctx context.Context, username, emailID string) error {
	user, st, err := a.state(username)
	if err != nil {
		return err
	}
	var seq string
	st.WithLock(func() {
		if em := st.FindLocked(emailID); em != nil {
			em.Status = model.StatusRead
			seq = em.SeqNum
			if err := st.SaveLocked(a.identity); err != nil {
				a.logger.Warn("state save failed", "user", username, "error", err)
			}
		}
	})
	if seq != "" {
		box := a.mailboxes.ForAccount(user.Email, user.EmailAuthCode)
		if err := box.MarkRead(ctx, seq); err != nil {
			a.logger.Warn("mailbox flag failed", "user", username, "email", emailID, "error", err)
		}
	}
	return nil
}

func (a *App) UpdateReply(username, emailID, reply string) error {
	_, st, err := a.state(username)
	if err != nil {
		return err
	}
	found := false
	st.WithLock(func() {
		if em := st.FindLocked(emailID); em != nil {
			em.Reply = reply
			found = true
		}
		for i := range st.History {
			if st.History[i].ID == emailID {
				st.History[i].Reply = reply
				found = true
			}
		}
		if found {
			if err := st.SaveLocked(a.identity); err != nil {
				a.logger.Warn("state save failed", "user", username, "error", err)
			}
		}
	})
	if !found {
		return fmt.Errorf("邮件 %s 不存在", emailID)
	}
	return nil
}

// SendReply is the manual send path: admission first, then send+commit.
func (a *App) SendReply(ctx context.Context, username, emailID, replyOverride string) error {
	user, st, err := a.state(username)
	if err != nil {
		return err
	}
	decision := a.limiter.Admit(st.UserID)
	if !decision.Allowed {
		return errors.New(decision.Message)
	}
	return a.orch.SendReply(ctx, st, user, emailID, replyOverride)
}

// RetryRAG reprocesses a message with operator-edited queries on the
// single-item pool.
func (a *App) RetryRAG(username, emailID string, queries []string) error {
	user, st, err := a.state(username)
	if err != nil {
		return err
	}
	a.pools.Single(user.Settings.SingleConcurrency).Submit(func() {
		if _, err := a.engine.RetryWithQueries(context.Background(), st, user, emailID, queries); err != nil &&
			!errors.Is(err, pipeline.ErrStopped) {
			a.logger.Warn("rag retry failed", "user", username, "email", emailID, "error", err)
		}
	})
	return nil
}

// SummariseText runs the summary prompt over arbitrary text synchronously.
func (a *App) SummariseText(ctx context.Context, username, text string) (string, error) {
	user, err := a.identity.Get(username)
	if err != nil {
		return "", err
	}
	agent, err := a.agents.AgentFor(user)
	if err != nil {
		return "", err
	}
	return agent.Summarise(ctx, text)
}

// --- knowledge base ---

func (a *App) RebuildIndex(ctx context.Context, username, specificFile string) (*knowledge.BuildResult, error) {
	user, err := a.identity.Get(username)
	if err != nil {
		return nil, err
	}
	embedder, embeddingModel, err := a.agents.EmbedderFor(user)
	if err != nil {
		return nil, err
	}
	return a.knowledge.Rebuild(ctx, embeddingModel, embedder, specificFile)
}

func (a *App) ListDocuments() ([]knowledge.DocumentInfo, error) { return a.knowledge.ListDocuments() }

func (a *App) PreviewDocument(name string) (string, error) {
	return a.knowledge.PreviewDocument(name, 2000)
}

func (a *App) DeleteDocument(name string) error { return a.knowledge.DeleteDocument(name) }

// TestRAG runs retrieval + answer composition for a probe question and emits
// rag_test_complete.
func (a *App) TestRAG(ctx context.Context, username, question string) (string, error) {
	user, st, err := a.state(username)
	if err != nil {
		return "", err
	}
	agent, err := a.agents.AgentFor(user)
	if err != nil {
		return "", err
	}
	embedder, embeddingModel, err := a.agents.EmbedderFor(user)
	if err != nil {
		return "", err
	}
	// The RAG test reuses the broad product retriever strategy.
	answer, err := a.knowledge.ComposeAnswer(ctx, agent, embedder, embeddingModel, []string{question}, model.CategoryUnrelated)
	if err != nil {
		return "", err
	}
	if pubErr := a.dispatcher.Publish(event.New(event.RAGTestComplete, st.UserID, map[string]any{
		"question": question,
		"answer":   answer,
	})); pubErr != nil {
		a.logger.Warn("rag test event publish failed", "error", pubErr)
	}
	return answer, nil
}

// --- diagnostics ---

func (a *App) TestMailbox(ctx context.Context, username string) error {
	user, err := a.identity.Get(username)
	if err != nil {
		return err
	}
	if user.Email == "" || user.EmailAuthCode == "" {
		return errors.New("邮箱未配置")
	}
	return a.mailboxes.ForAccount(user.Email, user.EmailAuthCode).Test(ctx)
}

func (a *App) TestAI(ctx context.Context, username string) error {
	user, err := a.identity.Get(username)
	if err != nil {
		return err
	}
	agent, err := a.agents.AgentFor(user)
	if err != nil {
		return err
	}
	_, err = agent.Summarise(ctx, "连接测试")
	return err
}

// --- settings ---

type SettingsUpdate struct {
	Email         *string              `json:"email"`
	EmailAuthCode *string              `json:"emailAuthCode"`
	Settings      *model.Settings      `json:"settings"`
	CustomModels  *[]model.CustomModel `json:"customModels"`
}

func (a *App) SaveSettings(username string, upd SettingsUpdate) error {
	return a.identity.Update(username, func(u *model.User) error {
		if upd.Email != nil {
			u.Email = strings.TrimSpace(*upd.Email)
		}
		if upd.EmailAuthCode != nil {
			u.EmailAuthCode = strings.TrimSpace(*upd.EmailAuthCode)
		}
		if upd.Settings != nil {
			st := *upd.Settings
			if st.CheckInterval < 1 {
				st.CheckInterval = 1
			}
			st.BatchSize = model.ClampBatchSize(st.BatchSize)
			st.SingleConcurrency = model.ClampSingleConcurrency(st.SingleConcurrency)
			u.Settings = st
		}
		if upd.CustomModels != nil {
			u.CustomModels = *upd.CustomModels
		}
		return nil
	})
}

func (a *App) Settings(username string) (*model.User, error) {
	return a.identity.Get(username)
}

// --- stats, activities, history ---

func (a *App) Stats(username string) (model.Stats, error) {
	_, st, err := a.state(username)
	if err != nil {
		return model.Stats{}, err
	}
	return st.Stats(), nil
}

func (a *App) CategoryStats(username string) (model.CategoryStats, error) {
	_, st, err := a.state(username)
	if err != nil {
		return model.CategoryStats{}, err
	}
	return st.CategoryStats(), nil
}

func (a *App) Trend(username string, days int) ([]model.TrendPoint, error) {
	if days < 1 || days > 90 {
		days = 7
	}
	_, st, err := a.state(username)
	if err != nil {
		return nil, err
	}
	return st.Trend(days), nil
}

func (a *App) Activities(username string) ([]model.Activity, error) {
	_, st, err := a.state(username)
	if err != nil {
		return nil, err
	}
	var out []model.Activity
	st.WithLock(func() {
		out = append(out, st.Activities...)
	})
	return out, nil
}

func (a *App) History(username string) ([]model.HistoryRecord, error) {
	_, st, err := a.state(username)
	if err != nil {
		return nil, err
	}
	var out []model.HistoryRecord
	st.WithLock(func() {
		out = append(out, st.History...)
	})
	return out, nil
}

func (a *App) ClearHistory(username string) error {
	_, st, err := a.state(username)
	if err != nil {
		return err
	}
	st.WithLock(func() {
		st.History = nil
		st.AddActivityLocked("info", "clear", "历史记录已清空")
		if err := st.SaveLocked(a.identity); err != nil {
			a.logger.Warn("state save failed", "user", username, "error", err)
		}
	})
	return nil
}

// ExportHistoryCSV writes the history list as CSV into w.
func (a *App) ExportHistoryCSV(username string, w *csv.Writer) error {
	records, err := a.History(username)
	if err != nil {
		return err
	}
	header := []string{"时间", "发件人", "主题", "类别", "紧急程度", "状态", "回复摘要"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.ProcessedTime, r.Sender, r.Subject,
			string(r.Category), string(r.UrgencyLevel), string(r.Status),
			r.ReplySummary,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
