package util

import (
	"sync"
	"time"
)

// Stopwatch measures accumulated running time. The zero value is a
// stopped stopwatch reading time from time.Now.
type Stopwatch struct {
	// Now overrides the time source; nil means time.Now.
	Now func() time.Time

	mu      sync.Mutex
	running bool
	started time.Time
	elapsed time.Duration
}

func (s *Stopwatch) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Stopwatch) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.started = s.now()
	s.running = true
}

func (s *Stopwatch) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.elapsed += s.now().Sub(s.started)
	s.running = false
}

func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.elapsed
	if s.running {
		e += s.now().Sub(s.started)
	}
	return e
}

func (s *Stopwatch) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Stopwatch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.elapsed = time.Duration(0)
}

// Restart resets the stopwatch and starts it again from zero.
func (s *Stopwatch) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed = 0
	s.started = s.now()
	s.running = true
}
