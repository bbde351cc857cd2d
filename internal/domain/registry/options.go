package registry

import "time"

// Option configures the Hub.
type Option func(*Hub)

// WithEvictionInterval sets how often the janitor scans for idle cells.
func WithEvictionInterval(d time.Duration) Option {
	return func(h *Hub) {
		h.evictionInterval = d
	}
}

// WithIdleTimeout sets the quiet period after which a session-less cell is
// reclaimed.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.idleTimeout = d
	}
}

// WithMailboxSize sets the per-user mailbox buffer capacity.
func WithMailboxSize(size int) Option {
	return func(h *Hub) {
		h.mailboxSize = size
	}
}
