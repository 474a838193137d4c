package gateway

import (
	"sync"
	"time"
)

// statusTracker holds the connection state shared by the adapters.
type statusTracker struct {
	platform    string
	mu          sync.RWMutex
	up          bool
	connectedAt time.Time
	lastError   string
	info        string
}

func (s *statusTracker) connected() {
	s.mu.Lock()
	s.up = true
	s.connectedAt = time.Now()
	s.lastError = ""
	s.mu.Unlock()
}

func (s *statusTracker) disconnected() {
	s.mu.Lock()
	s.up = false
	s.mu.Unlock()
}

func (s *statusTracker) failed(err error) {
	s.mu.Lock()
	s.up = false
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *statusTracker) details(d string) {
	s.mu.Lock()
	s.info = d
	s.mu.Unlock()
}

func (s *statusTracker) snapshot() AdapterStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := AdapterStatus{
		Platform:  s.platform,
		Connected: s.up,
		Error:     s.lastError,
		Details:   s.info,
	}
	if s.up {
		t := s.connectedAt
		st.ConnectedAt = &t
	}
	return st
}
