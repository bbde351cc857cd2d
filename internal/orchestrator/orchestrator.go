// Package orchestrator runs the long-lived per-user activities: the monitor
// loop, the auto-send loop and the sweep/process-one entrypoints feeding the
// worker pools.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentia/replyflow/config"
	"github.com/agentia/replyflow/internal/adapter/mailbox"
	"github.com/agentia/replyflow/internal/adapter/pubsub"
	"github.com/agentia/replyflow/internal/domain/event"
	"github.com/agentia/replyflow/internal/domain/model"
	"github.com/agentia/replyflow/internal/identity"
	"github.com/agentia/replyflow/internal/pipeline"
	"github.com/agentia/replyflow/internal/ratelimit"
	"github.com/agentia/replyflow/internal/urgency"
	"github.com/agentia/replyflow/internal/userstate"
	"github.com/agentia/replyflow/internal/workerpool"
)

// MaxFetchPerCycle bounds one monitor poll.
const MaxFetchPerCycle = 100

const autoSendInterval = 30 * time.Second

type Orchestrator struct {
	logger     *slog.Logger
	cfg        *config.Config
	identity   *identity.Service
	states     *userstate.Manager
	pools      *workerpool.Manager
	engine     *pipeline.Engine
	mailboxes  mailbox.Factory
	dispatcher pubsub.EventDispatcher
	limiter    *ratelimit.Limiter

	mu      sync.Mutex
	runners map[string]*runner // user_id -> supervisor
}

// runner supervises the two background loops of one user.
type runner struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(
	logger *slog.Logger,
	cfg *config.Config,
	ids *identity.Service,
	states *userstate.Manager,
	pools *workerpool.Manager,
	engine *pipeline.Engine,
	mailboxes mailbox.Factory,
	dispatcher pubsub.EventDispatcher,
	limiter *ratelimit.Limiter,
) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		cfg:        cfg,
		identity:   ids,
		states:     states,
		pools:      pools,
		engine:     engine,
		mailboxes:  mailboxes,
		dispatcher: dispatcher,
		limiter:    limiter,
		runners:    make(map[string]*runner),
	}
}

func (o *Orchestrator) emit(kind event.Kind, st *userstate.State, payload any) {
	if err := o.dispatcher.Publish(event.New(kind, st.UserID, payload)); err != nil {
		o.logger.Warn("event publish failed", "kind", kind, "error", err)
	}
}

// StartMonitor launches the monitor and auto-send loops for a user. Starting
// an already-monitored user is a no-op.
func (o *Orchestrator) StartMonitor(username string) error {
	user, err := o.identity.Get(username)
	if err != nil {
		return err
	}
	if user.Email == "" || user.EmailAuthCode == "" {
		return errors.New("邮箱未配置，请先在设置中绑定邮箱和授权码")
	}
	st, err := o.states.Get(username, user.UserID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, running := o.runners[user.UserID]; running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &runner{cancel: cancel}
	o.runners[user.UserID] = r

	st.WithLock(func() {
		st.MonitorRunning = true
		st.AutoSendRunning = true
	})

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		o.monitorLoop(ctx, st)
	}()
	go func() {
		defer r.wg.Done()
		o.autoSendLoop(ctx, st)
	}()

	o.logger.Info("monitor started", "user", username)
	return nil
}

// StopMonitor cancels the user's loops and waits for them to exit.
func (o *Orchestrator) StopMonitor(username string) error {
	user, err := o.identity.Get(username)
	if err != nil {
		return err
	}
	o.mu.Lock()
	r, ok := o.runners[user.UserID]
	if ok {
		delete(o.runners, user.UserID)
	}
	o.mu.Unlock()
	if !ok {
		return nil
	}
	r.cancel()
	r.wg.Wait()

	if st, err := o.states.Get(username, user.UserID); err == nil {
		st.WithLock(func() {
			st.MonitorRunning = false
			st.AutoSendRunning = false
		})
	}
	o.logger.Info("monitor stopped", "user", username)
	return nil
}

// Shutdown stops every runner.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	runners := o.runners
	o.runners = make(map[string]*runner)
	o.mu.Unlock()
	for _, r := range runners {
		r.cancel()
		r.wg.Wait()
	}
}

// monitorLoop polls the mailbox every check interval and optionally kicks an
// auto-process sweep. The interval is re-read each cycle so settings changes
// apply without a restart.
func (o *Orchestrator) monitorLoop(ctx context.Context, st *userstate.State) {
	for {
		interval := o.checkInterval(st.Username)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		user, err := o.identity.Get(st.Username)
		if err != nil {
			o.logger.Warn("monitor: user lookup failed", "user", st.Username, "error", err)
			continue
		}
		_, err = o.Poll(ctx, st, user)
		if err != nil {
			o.logger.Warn("monitor poll failed", "user", st.Username, "error", err)
			st.WithLock(func() {
				st.AddActivityLocked("warning", "mail", "收件箱检查失败: "+err.Error())
			})
			continue
		}

		if user.Settings.AutoProcess {
			// A stale stop must not suppress a fresh sweep.
			st.ClearStopAll()
			o.pools.Batch(user.Settings.BatchSize).Submit(func() {
				counts := o.sweep(ctx, st, user)
				o.emit(event.AutoProcessComplete, st, counts)
			})
		}
	}
}

func (o *Orchestrator) checkInterval(username string) time.Duration {
	minutes := 5
	if user, err := o.identity.Get(username); err == nil && user.Settings.CheckInterval >= 1 {
		minutes = user.Settings.CheckInterval
	}
	return time.Duration(minutes) * time.Minute
}

// Poll fetches unread mail and reconciles the cache: messages no longer
// unread disappear unless terminal, new ones enter as pending with computed
// urgency. Returns how many were new.
func (o *Orchestrator) Poll(ctx context.Context, st *userstate.State, user *model.User) (int, error) {
	box := o.mailboxes.ForAccount(user.Email, user.EmailAuthCode)
	fetched, err := box.FetchUnread(ctx, MaxFetchPerCycle)
	if err != nil {
		return 0, err
	}

	unreadIDs := make(map[string]bool, len(fetched))
	for i := range fetched {
		unreadIDs[fetched[i].ID] = true
	}

	newCount := 0
	var newIDs []string
	st.WithLock(func() {
		// Cull cache entries that left the unread set, keeping terminal ones
		// until an explicit delete.
		kept := st.Cache[:0]
		for i := range st.Cache {
			em := st.Cache[i]
			if unreadIDs[em.ID] || em.Status.Terminal() || em.Status == model.StatusProcessing || em.Status == model.StatusStopping {
				kept = append(kept, em)
			}
		}
		st.Cache = kept

		for i := range fetched {
			em := fetched[i]
			if st.FindLocked(em.ID) != nil {
				continue
			}
			em.UrgencyLevel, em.UrgencyKeywords = urgency.Analyze(em.Subject, em.Body)
			st.Cache = append(st.Cache, em)
			newIDs = append(newIDs, em.ID)
			newCount++
		}
		st.LastCheckTime = model.Now()
		if newCount > 0 {
			st.AddActivityLocked("info", "mail", fmt.Sprintf("收到 %d 封新邮件", newCount))
		}
		if err := st.SaveLocked(o.identity); err != nil {
			o.logger.Warn("state save failed after poll", "user", st.Username, "error", err)
		}
	})

	if newCount > 0 {
		o.emit(event.NewEmails, st, map[string]any{"count": newCount})
		// Body-only summaries; the next state save picks them up.
		for _, id := range newIDs {
			o.engine.SummariseOutOfBand(st, id, false)
		}
	}
	o.logger.Info("mailbox polled", "user", st.Username, "unread", len(fetched), "new", newCount)
	return newCount, nil
}

// autoSendLoop walks processed replies every 30 s and sends what the rate
// limiter admits. Interval denials move on to the next message; quota
// denials end the sweep.
func (o *Orchestrator) autoSendLoop(ctx context.Context, st *userstate.State) {
	ticker := time.NewTicker(autoSendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		user, err := o.identity.Get(st.Username)
		if err != nil || !user.Settings.AutoSend {
			continue
		}

		var ready []string
		st.WithLock(func() {
			for i := range st.Cache {
				if st.Cache[i].Status == model.StatusProcessed && st.Cache[i].Reply != "" {
					ready = append(ready, st.Cache[i].ID)
				}
			}
		})

		for _, id := range ready {
			decision := o.limiter.Admit(st.UserID)
			if !decision.Allowed {
				if decision.Reason == ratelimit.ReasonInterval {
					continue
				}
				o.logger.Info("auto-send sweep halted by quota", "user", st.Username, "reason", decision.Reason)
				break
			}
			if err := o.SendReply(ctx, st, user, id, ""); err != nil {
				o.logger.Warn("auto-send failed", "user", st.Username, "email", id, "error", err)
			}
		}
	}
}

// SendReply sends the stored (or overridden) reply for a message, commits
// the rate budget on success and lands the sent status. Admission is the
// caller's concern for the auto-send sweep; manual sends go through
// service.App.SendReply, which admits first.
func (o *Orchestrator) SendReply(ctx context.Context, st *userstate.State, user *model.User, emailID, overrideReply string) error {
	var original model.Email
	found := false
	st.WithLock(func() {
		if em := st.FindLocked(emailID); em != nil {
			original = *em
			found = true
		}
	})
	if !found {
		// Resend from history.
		st.WithLock(func() {
			for i := range st.History {
				if st.History[i].ID == emailID {
					original = st.History[i].Email
					found = true
					return
				}
			}
		})
	}
	if !found {
		return fmt.Errorf("orchestrator: message %s not found", emailID)
	}

	reply := original.Reply
	if overrideReply != "" {
		reply = overrideReply
	}
	if reply == "" {
		return errors.New("回复内容为空，无法发送")
	}

	box := o.mailboxes.ForAccount(user.Email, user.EmailAuthCode)
	if err := box.SendReply(ctx, &original, reply); err != nil {
		return err
	}
	o.limiter.Commit(st.UserID)

	if original.SeqNum != "" {
		if err := box.MarkRead(ctx, original.SeqNum); err != nil {
			o.logger.Warn("mark read failed after send", "email", emailID, "error", err)
		}
	}

	st.WithLock(func() {
		if em := st.FindLocked(emailID); em != nil {
			em.Status = model.StatusSent
			em.Reply = reply
			st.AppendHistoryLocked(*em)
		} else {
			original.Status = model.StatusSent
			original.Reply = reply
			st.AppendHistoryLocked(original)
		}
		st.SentCount++
		st.AddActivityLocked("success", "send", "已发送回复: "+original.Subject)
		if err := st.SaveLocked(o.identity); err != nil {
			o.logger.Warn("state save failed after send", "user", st.Username, "error", err)
		}
	})
	return nil
}
