package session

import "sync"

// statusLog is the engine's externally readable state. The run loop is
// the only writer; accessors may be called from any goroutine.
type statusLog struct {
	mu         sync.Mutex
	sessionID  string
	state      State
	reason     Reason
	transcript *Transcript
}

func (s *statusLog) set(sessionID string, state State, reason Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = sessionID
	s.state = state
	s.reason = reason
}

func (s *statusLog) setTranscript(t *Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = t
}

func (s *statusLog) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *statusLog) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *statusLog) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *statusLog) Transcript() *Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}
