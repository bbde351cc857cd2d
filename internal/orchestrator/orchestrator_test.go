package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/agentia/replyflow/config"
	"github.com/agentia/replyflow/internal/adapter/llm"
	"github.com/agentia/replyflow/internal/adapter/mailbox"
	"github.com/agentia/replyflow/internal/domain/event"
	"github.com/agentia/replyflow/internal/domain/model"
	"github.com/agentia/replyflow/internal/identity"
	"github.com/agentia/replyflow/internal/pipeline"
	"github.com/agentia/replyflow/internal/ratelimit"
	"github.com/agentia/replyflow/internal/userstate"
	"github.com/agentia/replyflow/internal/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type stubAgent struct {
	classifyDelay time.Duration
}

func (s *stubAgent) Classify(ctx context.Context, body string) (model.Category, error) {
	if s.classifyDelay > 0 {
		time.Sleep(s.classifyDelay)
	}
	return model.CategoryUnrelated, nil
}

func (s *stubAgent) SynthesiseQueries(ctx context.Context, body string) ([]string, error) {
	return []string{"q"}, nil
}

func (s *stubAgent) Answer(ctx context.Context, q string, c model.Category, d string) (string, error) {
	return "a", nil
}

func (s *stubAgent) Draft(ctx context.Context, c model.Category, b, r string, h []string) (string, error) {
	return "draft", nil
}

func (s *stubAgent) Proofread(ctx context.Context, o, d string) (bool, string, error) {
	return true, "", nil
}

func (s *stubAgent) Summarise(ctx context.Context, t string) (string, error) { return "s", nil }

type stubAgents struct{ agent llm.Agent }

func (s *stubAgents) AgentFor(u *model.User) (llm.Agent, error) { return s.agent, nil }
func (s *stubAgents) EmbedderFor(u *model.User) (llm.Embedder, string, error) {
	return nil, "Qwen/Qwen3-Embedding-4B", nil
}

type stubRetriever struct{}

func (stubRetriever) ComposeAnswer(ctx context.Context, a llm.Agent, e llm.Embedder, m string, q []string, c model.Category) (string, error) {
	return "docs", nil
}

type stubMailbox struct {
	mu      sync.Mutex
	unread  []model.Email
	sent    []string
	fetches int
}

func (s *stubMailbox) FetchUnread(ctx context.Context, max int) ([]model.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if len(s.unread) > max {
		return append([]model.Email(nil), s.unread[len(s.unread)-max:]...), nil
	}
	return append([]model.Email(nil), s.unread...), nil
}

func (s *stubMailbox) MarkRead(ctx context.Context, seq string) error { return nil }

func (s *stubMailbox) SendReply(ctx context.Context, o *model.Email, reply string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, reply)
	return nil
}

func (s *stubMailbox) Test(ctx context.Context) error { return nil }

type stubFactory struct{ box *stubMailbox }

func (s *stubFactory) ForAccount(a, c string) mailbox.Mailbox { return s.box }

type collectDispatcher struct {
	mu     sync.Mutex
	events []event.Eventer
}

func (c *collectDispatcher) Publish(ev event.Eventer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collectDispatcher) find(kind event.Kind) event.Eventer {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.GetKind() == kind {
			return ev
		}
	}
	return nil
}

// --- harness ---

type orchHarness struct {
	orch       *Orchestrator
	ids        *identity.Service
	state      *userstate.State
	user       *model.User
	box        *stubMailbox
	dispatcher *collectDispatcher
	limiter    *ratelimit.Limiter
}

func newOrchHarness(t *testing.T, agent llm.Agent) *orchHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := &config.Config{}
	cfg.Data.UsersDir = t.TempDir()
	cfg.RateLimit.SendIntervalSeconds = 30
	cfg.RateLimit.PerHalfHour = 10
	cfg.RateLimit.PerHour = 20

	ids, err := identity.NewService(cfg, logger)
	require.NoError(t, err)
	_, err = ids.Register("alice", "pw123456")
	require.NoError(t, err)
	require.NoError(t, ids.Update("alice", func(u *model.User) error {
		u.Email = "alice@example.com"
		u.EmailAuthCode = "code"
		u.Settings.BatchSize = 4
		u.Settings.SingleConcurrency = 4
		return nil
	}))
	user, err := ids.Get("alice")
	require.NoError(t, err)

	box := &stubMailbox{}
	dispatcher := &collectDispatcher{}
	limiter := ratelimit.NewLimiter(cfg)
	pools := workerpool.NewManager(logger)
	t.Cleanup(pools.Shutdown)

	engine := pipeline.NewEngine(logger, ids,
		&stubAgents{agent: agent}, stubRetriever{},
		limiter, dispatcher, &stubFactory{box: box})

	states := userstate.NewManager(ids, logger)
	st, err := states.Get("alice", user.UserID)
	require.NoError(t, err)

	orch := New(logger, cfg, ids, states, pools, engine, &stubFactory{box: box}, dispatcher, limiter)
	t.Cleanup(orch.Shutdown)

	return &orchHarness{
		orch: orch, ids: ids, state: st, user: user,
		box: box, dispatcher: dispatcher, limiter: limiter,
	}
}

func (h *orchHarness) seedPending(n int) {
	h.state.WithLock(func() {
		for i := range n {
			h.state.Cache = append(h.state.Cache, model.Email{
				ID:         fmt.Sprintf("m%d", i),
				Subject:    fmt.Sprintf("subject %d", i),
				Body:       "body",
				Sender:     "c@example.com",
				Status:     model.StatusPending,
				ReceivedAt: model.Now(),
			})
		}
	})
}

// --- tests ---

func TestPollAddsNewAndKeepsTerminal(t *testing.T) {
	h := newOrchHarness(t, &stubAgent{})
	h.state.WithLock(func() {
		h.state.Cache = []model.Email{
			{ID: "old-pending", Status: model.StatusPending},
			{ID: "old-done", Status: model.StatusProcessed},
		}
	})
	h.box.unread = []model.Email{
		{ID: "old-pending", Status: model.StatusPending, Subject: "still here", Sender: "a@b.c", Body: "x"},
		{ID: "fresh", Status: model.StatusPending, Subject: "新邮件 紧急", Body: "系统宕机", Sender: "a@b.c"},
	}

	n, err := h.orch.Poll(context.Background(), h.state, h.user)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h.state.WithLock(func() {
		assert.NotNil(t, h.state.FindLocked("old-pending"))
		assert.NotNil(t, h.state.FindLocked("old-done"), "terminal entries survive reconciliation")
		fresh := h.state.FindLocked("fresh")
		require.NotNil(t, fresh)
		assert.Equal(t, model.UrgencyUrgent, fresh.UrgencyLevel)
	})

	ev := h.dispatcher.find(event.NewEmails)
	require.NotNil(t, ev)
}

func TestPollCullsReadPendingEntries(t *testing.T) {
	h := newOrchHarness(t, &stubAgent{})
	h.state.WithLock(func() {
		h.state.Cache = []model.Email{{ID: "gone", Status: model.StatusPending}}
	})
	h.box.unread = nil

	_, err := h.orch.Poll(context.Background(), h.state, h.user)
	require.NoError(t, err)
	h.state.WithLock(func() {
		assert.Nil(t, h.state.FindLocked("gone"))
	})
}

func TestPollDeduplicatesByID(t *testing.T) {
	h := newOrchHarness(t, &stubAgent{})
	h.box.unread = []model.Email{
		{ID: "m1", Subject: "a", Body: "x", Sender: "a@b.c", Status: model.StatusPending},
	}
	_, err := h.orch.Poll(context.Background(), h.state, h.user)
	require.NoError(t, err)
	n, err := h.orch.Poll(context.Background(), h.state, h.user)
	require.NoError(t, err)
	assert.Zero(t, n)

	count := 0
	h.state.WithLock(func() {
		for _, em := range h.state.Cache {
			if em.ID == "m1" {
				count++
			}
		}
	})
	assert.Equal(t, 1, count)
}

func TestProcessAllCompletesEveryMessage(t *testing.T) {
	h := newOrchHarness(t, &stubAgent{})
	h.seedPending(10)

	require.NoError(t, h.orch.ProcessAll("alice"))

	require.Eventually(t, func() bool {
		return h.dispatcher.find(event.ProcessAllComplete) != nil
	}, 5*time.Second, 10*time.Millisecond)

	ev := h.dispatcher.find(event.ProcessAllComplete)
	counts, ok := ev.GetPayload().(SweepCounts)
	require.True(t, ok)
	assert.Equal(t, 10, counts.Total)
	assert.Equal(t, 10, counts.Processed)
	assert.Zero(t, counts.Cancelled)
	assert.Zero(t, counts.Failed)
}

func TestProcessAllStopMidStream(t *testing.T) {
	h := newOrchHarness(t, &stubAgent{classifyDelay: 200 * time.Millisecond})
	h.seedPending(10)

	require.NoError(t, h.orch.ProcessAll("alice"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.orch.StopAll("alice"))

	assert.NotNil(t, h.dispatcher.find(event.ProcessAllStopping))

	require.Eventually(t, func() bool {
		return h.dispatcher.find(event.ProcessAllStopped) != nil ||
			h.dispatcher.find(event.ProcessAllComplete) != nil
	}, 10*time.Second, 10*time.Millisecond)

	ev := h.dispatcher.find(event.ProcessAllStopped)
	require.NotNil(t, ev, "a mid-stream stop must end in process_all_stopped")
	counts := ev.GetPayload().(SweepCounts)
	assert.Equal(t, 10, counts.Processed+counts.Cancelled+counts.Failed)
	assert.Positive(t, counts.Cancelled)

	// Every cancelled message reverted to pending.
	h.state.WithLock(func() {
		for _, em := range h.state.Cache {
			assert.Contains(t,
				[]model.Status{model.StatusPending, model.StatusSkipped},
				em.Status)
		}
	})
}

func TestSendReplyCommitsAndRecordsHistory(t *testing.T) {
	h := newOrchHarness(t, &stubAgent{})
	h.state.WithLock(func() {
		h.state.Cache = []model.Email{{
			ID: "m1", Subject: "s", Sender: "c@example.com",
			Status: model.StatusProcessed, Reply: "回复内容",
		}}
	})

	require.NoError(t, h.orch.SendReply(context.Background(), h.state, h.user, "m1", ""))

	assert.Equal(t, []string{"回复内容"}, h.box.sent)
	half, hour, _ := h.limiter.Snapshot(h.state.UserID)
	assert.Equal(t, 1, half)
	assert.Equal(t, 1, hour)

	h.state.WithLock(func() {
		assert.Equal(t, model.StatusSent, h.state.FindLocked("m1").Status)
	})
	require.Len(t, h.state.History, 1)
	assert.Equal(t, model.StatusSent, h.state.History[0].Status)
}

func TestSendReplyRejectsEmptyReply(t *testing.T) {
	h := newOrchHarness(t, &stubAgent{})
	h.state.WithLock(func() {
		h.state.Cache = []model.Email{{ID: "m1", Status: model.StatusProcessed}}
	})
	err := h.orch.SendReply(context.Background(), h.state, h.user, "m1", "")
	assert.Error(t, err)
	assert.Empty(t, h.box.sent)
}

func TestStartMonitorRequiresMailbox(t *testing.T) {
	h := newOrchHarness(t, &stubAgent{})
	require.NoError(t, h.ids.Update("alice", func(u *model.User) error {
		u.Email = ""
		return nil
	}))
	err := h.orch.StartMonitor("alice")
	assert.Error(t, err)
}

func TestStartAndStopMonitor(t *testing.T) {
	h := newOrchHarness(t, &stubAgent{})
	require.NoError(t, h.orch.StartMonitor("alice"))
	// Idempotent start.
	require.NoError(t, h.orch.StartMonitor("alice"))

	h.state.WithLock(func() {
		assert.True(t, h.state.MonitorRunning)
	})

	require.NoError(t, h.orch.StopMonitor("alice"))
	h.state.WithLock(func() {
		assert.False(t, h.state.MonitorRunning)
	})
}
