package userstate

import "time"

// Cooperative cancellation: two flags, both read at every pipeline
// checkpoint. Neither aborts anything synchronously; a deferred clearer
// bounds how long a request can linger if no checkpoint ever honours it.

// RequestStopAll arms the global stop flag and schedules its clearing.
func (s *State) RequestStopAll() {
	s.stopAll.Store(true)
	time.AfterFunc(StopClearDelay, func() {
		s.stopAll.Store(false)
	})
}

// ClearStopAll resets the global flag, called before each monitor sweep so a
// stale stop cannot suppress fresh work.
func (s *State) ClearStopAll() {
	s.stopAll.Store(false)
}

// StopRequested reports the global flag.
func (s *State) StopRequested() bool {
	return s.stopAll.Load()
}

// RequestStopEmail arms a single-message stop and schedules its removal.
func (s *State) RequestStopEmail(id string) {
	s.mu.Lock()
	s.stoppedIDs[id] = struct{}{}
	s.mu.Unlock()
	time.AfterFunc(StopClearDelay, func() {
		s.mu.Lock()
		delete(s.stoppedIDs, id)
		s.mu.Unlock()
	})
}

// EmailStopRequested reports whether this message was individually stopped.
func (s *State) EmailStopRequested(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stoppedIDs[id]
	return ok
}

// ShouldStop is the checkpoint predicate: global flag or per-message flag.
func (s *State) ShouldStop(id string) bool {
	return s.StopRequested() || s.EmailStopRequested(id)
}

// ClearStopEmailLocked removes the per-message flag once a checkpoint has
// honoured it. Callers hold mu.
func (s *State) ClearStopEmailLocked(id string) {
	delete(s.stoppedIDs, id)
}
