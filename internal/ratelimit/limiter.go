package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentia/replyflow/config"
)

// Reason identifies which window denied an admission. Callers branch on it:
// an interval denial means "try the next message", a quantity denial means
// "stop the sweep".
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonInterval      Reason = "interval"
	ReasonHalfHourQuota Reason = "half-hour-limit"
	ReasonHourQuota     Reason = "hour-limit"
)

// Decision is the outcome of Admit.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Message is the operator-facing denial text.
	Message string
	// RetryAfter is how long until the denying window clears.
	RetryAfter time.Duration
}

type entry struct {
	lastSend      time.Time
	countHalfHour int
	resetHalfHour time.Time
	countHour     int
	resetHour     time.Time
}

// Limiter enforces the per-user multi-window send policy. Admit never consumes
// budget (it only rolls expired windows over); only Commit does, so a failed
// or cancelled send costs nothing.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	interval    time.Duration
	perHalfHour int
	perHour     int

	now func() time.Time
}

func NewLimiter(cfg *config.Config) *Limiter {
	return &Limiter{
		entries:     make(map[string]*entry),
		interval:    time.Duration(cfg.RateLimit.SendIntervalSeconds) * time.Second,
		perHalfHour: cfg.RateLimit.PerHalfHour,
		perHour:     cfg.RateLimit.PerHour,
		now:         time.Now,
	}
}

// Admit checks whether the user may send now. The whole check runs under one
// lock so concurrent senders observe a consistent window state.
func (l *Limiter) Admit(userID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[userID]
	if !ok {
		l.entries[userID] = &entry{
			resetHalfHour: now.Add(30 * time.Minute),
			resetHour:     now.Add(time.Hour),
		}
		return Decision{Allowed: true}
	}

	if now.After(e.resetHour) {
		e.countHour = 0
		e.resetHour = now.Add(time.Hour)
	}
	if now.After(e.resetHalfHour) {
		e.countHalfHour = 0
		e.resetHalfHour = now.Add(30 * time.Minute)
	}

	if e.countHour >= l.perHour {
		wait := e.resetHour.Sub(now)
		return Decision{
			Reason:     ReasonHourQuota,
			Message:    fmt.Sprintf("已达每小时发送上限（%d封），请等待 %d 分钟", l.perHour, ceilMinutes(wait)),
			RetryAfter: wait,
		}
	}
	if e.countHalfHour >= l.perHalfHour {
		wait := e.resetHalfHour.Sub(now)
		return Decision{
			Reason:     ReasonHalfHourQuota,
			Message:    fmt.Sprintf("已达每半小时发送上限（%d封），请等待 %d 分钟", l.perHalfHour, ceilMinutes(wait)),
			RetryAfter: wait,
		}
	}
	if !e.lastSend.IsZero() {
		if elapsed := now.Sub(e.lastSend); elapsed < l.interval {
			wait := l.interval - elapsed
			return Decision{
				Reason:     ReasonInterval,
				Message:    fmt.Sprintf("发送间隔限制，请等待 %d 秒", ceilSeconds(wait)),
				RetryAfter: wait,
			}
		}
	}
	return Decision{Allowed: true}
}

// Commit records a successful send. Call only after the mailbox accepted the
// reply.
func (l *Limiter) Commit(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[userID]
	if !ok {
		e = &entry{
			resetHalfHour: now.Add(30 * time.Minute),
			resetHour:     now.Add(time.Hour),
		}
		l.entries[userID] = e
	}
	e.countHalfHour++
	e.countHour++
	e.lastSend = now
}

// Snapshot returns the current counters for the stats surface.
func (l *Limiter) Snapshot(userID string) (countHalfHour, countHour int, lastSend time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[userID]; ok {
		return e.countHalfHour, e.countHour, e.lastSend
	}
	return 0, 0, time.Time{}
}

func ceilMinutes(d time.Duration) int {
	m := int((d + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}

func ceilSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
