package ratelimit

import (
	"testing"
	"time"

	"github.com/agentia/replyflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*Limiter, *time.Time) {
	t.Helper()
	cfg := &config.Config{}
	cfg.RateLimit.SendIntervalSeconds = 30
	cfg.RateLimit.PerHalfHour = 10
	cfg.RateLimit.PerHour = 20
	l := NewLimiter(cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAdmitFirstSendAllowed(t *testing.T) {
	l, _ := newTestLimiter(t)
	d := l.Admit("u1")
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonNone, d.Reason)
}

func TestAdmitDoesNotConsumeBudget(t *testing.T) {
	l, _ := newTestLimiter(t)
	for range 50 {
		require.True(t, l.Admit("u1").Allowed)
	}
	half, hour, last := l.Snapshot("u1")
	assert.Zero(t, half)
	assert.Zero(t, hour)
	assert.True(t, last.IsZero())
}

func TestIntervalDenial(t *testing.T) {
	l, now := newTestLimiter(t)

	require.True(t, l.Admit("u1").Allowed)
	l.Commit("u1")

	// Second send 15 s later: denied with interval reason and the remaining
	// seconds in the message.
	*now = now.Add(15 * time.Second)
	d := l.Admit("u1")
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonInterval, d.Reason)
	assert.Contains(t, d.Message, "等待 15 秒")

	half, hour, _ := l.Snapshot("u1")
	assert.Equal(t, 1, half)
	assert.Equal(t, 1, hour)

	// After the interval elapses the send is admitted again.
	*now = now.Add(16 * time.Second)
	assert.True(t, l.Admit("u1").Allowed)
}

func TestHalfHourQuota(t *testing.T) {
	l, now := newTestLimiter(t)

	for i := range 10 {
		d := l.Admit("u1")
		require.True(t, d.Allowed, "send %d should be admitted", i)
		l.Commit("u1")
		*now = now.Add(31 * time.Second)
	}

	d := l.Admit("u1")
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonHalfHourQuota, d.Reason)

	// The half-hour window resets; the hour quota still has headroom.
	*now = now.Add(31 * time.Minute)
	assert.True(t, l.Admit("u1").Allowed)
}

func TestHourQuota(t *testing.T) {
	l, now := newTestLimiter(t)

	sent := 0
	for sent < 20 {
		if d := l.Admit("u1"); d.Allowed {
			l.Commit("u1")
			sent++
			*now = now.Add(31 * time.Second)
			continue
		}
		// Half-hour quota hit on the way; jump past its reset.
		*now = now.Add(31 * time.Minute)
	}

	d := l.Admit("u1")
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonHourQuota, d.Reason)
	assert.Contains(t, d.Message, "分钟")
}

func TestUsersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	require.True(t, l.Admit("u1").Allowed)
	l.Commit("u1")

	d := l.Admit("u2")
	assert.True(t, d.Allowed)
}

func TestCommitWithoutAdmitInitialisesEntry(t *testing.T) {
	l, _ := newTestLimiter(t)
	l.Commit("u1")
	half, hour, last := l.Snapshot("u1")
	assert.Equal(t, 1, half)
	assert.Equal(t, 1, hour)
	assert.False(t, last.IsZero())
}
