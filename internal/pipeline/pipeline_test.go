package pipeline

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/agentia/replyflow/config"
	"github.com/agentia/replyflow/internal/adapter/llm"
	"github.com/agentia/replyflow/internal/adapter/mailbox"
	"github.com/agentia/replyflow/internal/domain/event"
	"github.com/agentia/replyflow/internal/domain/model"
	"github.com/agentia/replyflow/internal/identity"
	"github.com/agentia/replyflow/internal/ratelimit"
	"github.com/agentia/replyflow/internal/userstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeAgent struct {
	category      model.Category
	classifyErr   error
	queries       []string
	draft         string
	sendableAfter int // proofreader approves from this trial on (1-based)
	onClassify    func()

	mu     sync.Mutex
	trials int
}

func (f *fakeAgent) Classify(ctx context.Context, body string) (model.Category, error) {
	if f.onClassify != nil {
		f.onClassify()
	}
	if f.classifyErr != nil {
		return "", f.classifyErr
	}
	return f.category, nil
}

func (f *fakeAgent) SynthesiseQueries(ctx context.Context, body string) ([]string, error) {
	return f.queries, nil
}

func (f *fakeAgent) Answer(ctx context.Context, query string, category model.Category, docs string) (string, error) {
	return "answer for " + query, nil
}

func (f *fakeAgent) Draft(ctx context.Context, category model.Category, body, retrieved string, history []string) (string, error) {
	f.mu.Lock()
	f.trials++
	f.mu.Unlock()
	return f.draft, nil
}

func (f *fakeAgent) Proofread(ctx context.Context, original, draft string) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendableAfter > 0 && f.trials >= f.sendableAfter {
		return true, "", nil
	}
	return false, "语气需要调整", nil
}

func (f *fakeAgent) Summarise(ctx context.Context, text string) (string, error) {
	return "摘要", nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type fakeAgents struct{ agent *fakeAgent }

func (f *fakeAgents) AgentFor(u *model.User) (llm.Agent, error) { return f.agent, nil }
func (f *fakeAgents) EmbedderFor(u *model.User) (llm.Embedder, string, error) {
	return fakeEmbedder{}, "Qwen/Qwen3-Embedding-4B", nil
}

type fakeRetriever struct{ docs string }

func (f *fakeRetriever) ComposeAnswer(ctx context.Context, agent llm.Agent, embedder llm.Embedder, embeddingModel string, queries []string, category model.Category) (string, error) {
	return f.docs, nil
}

type fakeMailbox struct {
	mu        sync.Mutex
	sent      []string
	marked    []string
	sendErr   error
	markedErr error
}

func (f *fakeMailbox) FetchUnread(ctx context.Context, max int) ([]model.Email, error) {
	return nil, nil
}

func (f *fakeMailbox) MarkRead(ctx context.Context, seq string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markedErr != nil {
		return f.markedErr
	}
	f.marked = append(f.marked, seq)
	return nil
}

func (f *fakeMailbox) SendReply(ctx context.Context, original *model.Email, reply string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, reply)
	return nil
}

func (f *fakeMailbox) Test(ctx context.Context) error { return nil }

type fakeMailboxFactory struct{ box *fakeMailbox }

func (f *fakeMailboxFactory) ForAccount(address, authCode string) mailbox.Mailbox { return f.box }

type fakeDispatcher struct {
	mu     sync.Mutex
	events []event.Eventer
}

func (f *fakeDispatcher) Publish(ev event.Eventer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeDispatcher) kinds() []event.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Kind, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.GetKind())
	}
	return out
}

type fakeSummariser struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSummariser) Summarise(st *userstate.State, emailID string, persist bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, emailID)
}

// --- harness ---

type harness struct {
	engine     *Engine
	state      *userstate.State
	user       *model.User
	agent      *fakeAgent
	box        *fakeMailbox
	dispatcher *fakeDispatcher
	summariser *fakeSummariser
	limiter    *ratelimit.Limiter
}

func newHarness(t *testing.T, agent *fakeAgent) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := &config.Config{}
	cfg.Data.UsersDir = t.TempDir()
	cfg.RateLimit.SendIntervalSeconds = 30
	cfg.RateLimit.PerHalfHour = 10
	cfg.RateLimit.PerHour = 20

	ids, err := identity.NewService(cfg, logger)
	require.NoError(t, err)
	user, err := ids.Register("alice", "pw123456")
	require.NoError(t, err)
	require.NoError(t, ids.Update("alice", func(u *model.User) error {
		u.Email = "alice@example.com"
		u.EmailAuthCode = "authcode"
		return nil
	}))
	user, err = ids.Get("alice")
	require.NoError(t, err)

	box := &fakeMailbox{}
	dispatcher := &fakeDispatcher{}
	summariser := &fakeSummariser{}
	limiter := ratelimit.NewLimiter(cfg)

	engine := NewEngine(
		logger, ids,
		&fakeAgents{agent: agent},
		&fakeRetriever{docs: "知识库检索结果"},
		limiter, dispatcher,
		&fakeMailboxFactory{box: box},
	)
	engine.SetSummariser(summariser)

	st := userstate.New("alice", user.UserID)
	return &harness{
		engine: engine, state: st, user: user,
		agent: agent, box: box, dispatcher: dispatcher,
		summariser: summariser, limiter: limiter,
	}
}

func (h *harness) seed(emails ...model.Email) {
	h.state.WithLock(func() {
		h.state.Cache = append(h.state.Cache, emails...)
	})
}

func pendingCoupon() model.Email {
	return model.Email{
		ID: "m1", Subject: "超级优惠券大放送", Body: "广告 中奖",
		Sender: "spam@example.com", SeqNum: "7",
		Status: model.StatusPending, ReceivedAt: model.Now(),
	}
}

func pendingComplaint() model.Email {
	return model.Email{
		ID: "m2", Subject: "客户投诉：服务响应慢", Body: "你们的服务响应太慢了，我要投诉",
		Sender: "customer@example.com", SeqNum: "8",
		Status: model.StatusPending, ReceivedAt: model.Now(),
	}
}

// --- scenarios ---

func TestUnrelatedFastPath(t *testing.T) {
	agent := &fakeAgent{category: model.CategoryUnrelated}
	h := newHarness(t, agent)
	h.seed(pendingCoupon())

	before := h.state.Stats()
	res, err := h.engine.ProcessEmail(context.Background(), h.state, h.user, "m1", false)
	require.NoError(t, err)

	assert.Equal(t, model.StatusSkipped, res.Status)
	assert.Equal(t, model.CategoryUnrelated, res.Category)

	h.state.WithLock(func() {
		em := h.state.FindLocked("m1")
		require.NotNil(t, em)
		assert.Equal(t, model.StatusSkipped, em.Status)
		assert.Equal(t, SkippedReply, em.Reply)
	})

	// History gains one record; stats move.
	history := h.state.History
	require.Len(t, history, 1)
	after := h.state.Stats()
	assert.Equal(t, before.Processed+1, after.Processed)
	assert.Equal(t, before.Pending-1, after.Pending)

	// Mark read attempted, summariser notified, rate limiter untouched.
	assert.Equal(t, []string{"7"}, h.box.marked)
	assert.Equal(t, []string{"m1"}, h.summariser.calls)
	half, hour, _ := h.limiter.Snapshot(h.state.UserID)
	assert.Zero(t, half)
	assert.Zero(t, hour)

	kinds := h.dispatcher.kinds()
	assert.Contains(t, kinds, event.EmailProcessStarted)
	assert.Contains(t, kinds, event.EmailProcessComplete)
	assert.NotContains(t, kinds, event.RAGQueriesGenerated)
}

func TestComplaintDraftWithoutAutoSend(t *testing.T) {
	agent := &fakeAgent{
		category:      model.CategoryCustomerComplaint,
		queries:       []string{"投诉处理流程", "补偿政策"},
		draft:         "尊敬的客户，您好！非常抱歉给您带来不便……祝好！",
		sendableAfter: 1,
	}
	h := newHarness(t, agent)
	h.seed(pendingComplaint())

	res, err := h.engine.ProcessEmail(context.Background(), h.state, h.user, "m2", false)
	require.NoError(t, err)

	assert.Equal(t, model.StatusProcessed, res.Status)
	assert.Equal(t, model.CategoryCustomerComplaint, res.Category)
	assert.NotEmpty(t, res.Reply)

	// No send, no commit; mark read attempted.
	assert.Empty(t, h.box.sent)
	half, hour, _ := h.limiter.Snapshot(h.state.UserID)
	assert.Zero(t, half)
	assert.Zero(t, hour)
	assert.Equal(t, []string{"8"}, h.box.marked)

	kinds := h.dispatcher.kinds()
	assert.Contains(t, kinds, event.RAGQueriesGenerated)
	assert.Contains(t, kinds, event.EmailProcessComplete)
}

func TestAutoSendCommitsBudget(t *testing.T) {
	agent := &fakeAgent{
		category:      model.CategoryProductEnquiry,
		queries:       []string{"套餐价格"},
		draft:         "您好，套餐详情如下。",
		sendableAfter: 1,
	}
	h := newHarness(t, agent)
	h.seed(pendingComplaint())

	res, err := h.engine.ProcessEmail(context.Background(), h.state, h.user, "m2", true)
	require.NoError(t, err)

	assert.Equal(t, model.StatusSent, res.Status)
	assert.Equal(t, []string{"您好，套餐详情如下。"}, h.box.sent)
	half, hour, _ := h.limiter.Snapshot(h.state.UserID)
	assert.Equal(t, 1, half)
	assert.Equal(t, 1, hour)
}

func TestDraftRetriesUpToThreeTrials(t *testing.T) {
	agent := &fakeAgent{
		category:      model.CategoryCustomerFeedback,
		queries:       []string{"功能反馈"},
		draft:         "感谢您的反馈。",
		sendableAfter: 3,
	}
	h := newHarness(t, agent)
	h.seed(pendingComplaint())

	res, err := h.engine.ProcessEmail(context.Background(), h.state, h.user, "m2", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, res.Status)
	assert.Equal(t, 3, agent.trials)
}

func TestUnsendableDraftNeverAutoSends(t *testing.T) {
	agent := &fakeAgent{
		category:      model.CategoryProductEnquiry,
		queries:       []string{"q"},
		draft:         "draft",
		sendableAfter: 0, // proofreader never approves
	}
	h := newHarness(t, agent)
	h.seed(pendingComplaint())

	res, err := h.engine.ProcessEmail(context.Background(), h.state, h.user, "m2", true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, res.Status)
	assert.Equal(t, 3, agent.trials)
	assert.Empty(t, h.box.sent)
}

func TestStopBeforeClaimRevertsQuietly(t *testing.T) {
	agent := &fakeAgent{category: model.CategoryProductEnquiry}
	h := newHarness(t, agent)
	h.seed(pendingComplaint())

	h.state.RequestStopAll()
	_, err := h.engine.ProcessEmail(context.Background(), h.state, h.user, "m2", false)
	assert.ErrorIs(t, err, ErrStopped)

	h.state.WithLock(func() {
		assert.Equal(t, model.StatusPending, h.state.FindLocked("m2").Status)
	})
	assert.Contains(t, h.dispatcher.kinds(), event.EmailProcessStopped)
}

func TestStopDuringClassifyHonouredAtNextCheckpoint(t *testing.T) {
	var h *harness
	agent := &fakeAgent{category: model.CategoryProductEnquiry, queries: []string{"q"}}
	agent.onClassify = func() {
		h.state.RequestStopEmail("m2")
	}
	h = newHarness(t, agent)
	h.seed(pendingComplaint())

	_, err := h.engine.ProcessEmail(context.Background(), h.state, h.user, "m2", false)
	assert.ErrorIs(t, err, ErrStopped)

	h.state.WithLock(func() {
		assert.Equal(t, model.StatusPending, h.state.FindLocked("m2").Status)
	})
	// The per-message stop flag was consumed by the checkpoint.
	assert.False(t, h.state.EmailStopRequested("m2"))
	// The message can be claimed again afterwards.
	_, ok := h.state.Claim("m2")
	assert.True(t, ok)
}

func TestClassifyErrorLandsFailed(t *testing.T) {
	agent := &fakeAgent{classifyErr: context.DeadlineExceeded}
	h := newHarness(t, agent)
	h.seed(pendingComplaint())

	_, err := h.engine.ProcessEmail(context.Background(), h.state, h.user, "m2", false)
	require.Error(t, err)

	h.state.WithLock(func() {
		em := h.state.FindLocked("m2")
		assert.Equal(t, model.StatusFailed, em.Status)
		assert.Empty(t, em.Reply)
	})
	require.Len(t, h.state.History, 1)
	assert.Equal(t, model.StatusFailed, h.state.History[0].Status)
	assert.Contains(t, h.dispatcher.kinds(), event.EmailProcessFailed)
}

func TestMarkReadFailureDoesNotFailPipeline(t *testing.T) {
	agent := &fakeAgent{category: model.CategoryUnrelated}
	h := newHarness(t, agent)
	h.box.markedErr = context.DeadlineExceeded
	h.seed(pendingCoupon())

	res, err := h.engine.ProcessEmail(context.Background(), h.state, h.user, "m1", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, res.Status)
}

func TestSendFailureKeepsProcessedAndBudget(t *testing.T) {
	agent := &fakeAgent{
		category:      model.CategoryProductEnquiry,
		queries:       []string{"q"},
		draft:         "回复",
		sendableAfter: 1,
	}
	h := newHarness(t, agent)
	h.box.sendErr = context.DeadlineExceeded
	h.seed(pendingComplaint())

	res, err := h.engine.ProcessEmail(context.Background(), h.state, h.user, "m2", true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, res.Status)

	// A failed send must not consume budget.
	half, hour, _ := h.limiter.Snapshot(h.state.UserID)
	assert.Zero(t, half)
	assert.Zero(t, hour)
}

func TestRetryWithQueries(t *testing.T) {
	agent := &fakeAgent{
		category:      model.CategoryProductEnquiry,
		draft:         "更新后的回复",
		sendableAfter: 1,
	}
	h := newHarness(t, agent)
	em := pendingComplaint()
	em.Status = model.StatusProcessed
	em.Category = model.CategoryProductEnquiry
	h.seed(em)

	res, err := h.engine.RetryWithQueries(context.Background(), h.state, h.user, "m2", []string{"新查询"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, res.Status)
	assert.Equal(t, "更新后的回复", res.Reply)

	h.state.WithLock(func() {
		assert.Equal(t, []string{"新查询"}, h.state.FindLocked("m2").RAGQueries)
	})
}
