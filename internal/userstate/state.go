// Package userstate holds the in-memory working state of one user: the live
// message cache, history, activity ring, derived counters and the stop flags
// consulted by pipeline checkpoints. All mutation happens under the per-user
// lock.
package userstate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentia/replyflow/internal/domain/model"
	"github.com/agentia/replyflow/internal/identity"
)

// StopClearDelay bounds how long a stop request stays armed. It must exceed
// the worst-case checkpoint-to-checkpoint interval (slow retrieval has been
// observed near two minutes).
const StopClearDelay = 300 * time.Second

// State is exclusively owned by its user's orchestrator; everything except
// the atomic stop flag is guarded by mu.
type State struct {
	Username string
	UserID   string

	mu sync.Mutex

	Cache         []model.Email
	History       []model.HistoryRecord
	Activities    []model.Activity
	SentCount     int
	LastCheckTime string

	MonitorRunning  bool
	AutoSendRunning bool

	stopAll    atomic.Bool
	stoppedIDs map[string]struct{}

	// processingIDs marks messages claimed by a running pipeline so a second
	// request cannot double-claim.
	processingIDs map[string]struct{}
}

func New(username, userID string) *State {
	return &State{
		Username:      username,
		UserID:        userID,
		stoppedIDs:    make(map[string]struct{}),
		processingIDs: make(map[string]struct{}),
	}
}

// WithLock runs fn under the user lock. Keep fn short: no I/O except the
// local data-file write.
func (s *State) WithLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// LoadFrom hydrates from a persisted snapshot.
func (s *State) LoadFrom(data *identity.EmailData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cache = data.EmailsCache
	s.History = data.History
	s.Activities = data.Activities
	s.SentCount = data.Stats.Sent
	s.LastCheckTime = data.LastCheckTime
}

// snapshotLocked builds the persistable form. Callers hold mu.
func (s *State) snapshotLocked() *identity.EmailData {
	return &identity.EmailData{
		EmailsCache:   append([]model.Email(nil), s.Cache...),
		History:       append([]model.HistoryRecord(nil), s.History...),
		Activities:    append([]model.Activity(nil), s.Activities...),
		Stats:         model.Stats{Sent: s.SentCount},
		LastCheckTime: s.LastCheckTime,
	}
}

// SaveLocked persists the current state. Must be called with mu held (from
// inside WithLock). Failures are the caller's to log; in-memory state stays
// authoritative.
func (s *State) SaveLocked(store *identity.Service) error {
	return store.SaveEmailData(s.UserID, s.snapshotLocked())
}

// Save takes the lock and persists.
func (s *State) Save(store *identity.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SaveLocked(store)
}

// FindLocked returns a pointer into the cache for in-place mutation. Callers
// hold mu.
func (s *State) FindLocked(id string) *model.Email {
	for i := range s.Cache {
		if s.Cache[i].ID == id {
			return &s.Cache[i]
		}
	}
	return nil
}

// Claim atomically moves a pending message to processing. It fails when the
// message is missing, already terminal, or claimed by another pipeline run.
func (s *State) Claim(id string) (model.Email, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	em := s.FindLocked(id)
	if em == nil {
		return model.Email{}, false
	}
	if _, busy := s.processingIDs[id]; busy {
		return model.Email{}, false
	}
	if em.Status != model.StatusPending {
		return model.Email{}, false
	}
	em.Status = model.StatusProcessing
	s.processingIDs[id] = struct{}{}
	return *em, true
}

// ReleaseLocked clears the processing marker; status handling is the
// caller's. Callers hold mu.
func (s *State) ReleaseLocked(id string) {
	delete(s.processingIDs, id)
}

// PendingIDs lists the cache messages eligible for a sweep.
func (s *State) PendingIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for i := range s.Cache {
		if s.Cache[i].Status == model.StatusPending {
			ids = append(ids, s.Cache[i].ID)
		}
	}
	return ids
}

// AddActivityLocked prepends to the bounded activity ring, newest first.
// Callers hold mu.
func (s *State) AddActivityLocked(severity, icon, text string) {
	s.Activities = append([]model.Activity{{
		Time:     model.Now(),
		Severity: severity,
		Icon:     icon,
		Text:     text,
	}}, s.Activities...)
	if len(s.Activities) > model.MaxActivities {
		s.Activities = s.Activities[:model.MaxActivities]
	}
}

// AppendHistoryLocked snapshots a message at the front of the history list.
// An existing record with the same id (or same subject+sender on resend) is
// updated in place instead.
func (s *State) AppendHistoryLocked(em model.Email) {
	rec := model.HistoryRecord{Email: em, ProcessedTime: model.Now()}
	for i := range s.History {
		if s.History[i].ID == em.ID ||
			(s.History[i].Subject == em.Subject && s.History[i].Sender == em.Sender) {
			s.History[i] = rec
			return
		}
	}
	s.History = append([]model.HistoryRecord{rec}, s.History...)
}
