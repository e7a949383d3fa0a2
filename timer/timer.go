// Package timer provides the runtime-backed timer service used by ZRTP
// streams for retransmission timeouts.
package timer

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/zrtp/interfaces"
)

// Service schedules callbacks with time.AfterFunc. Every timer gets a fresh
// token; a timer that fires after its token was cancelled does nothing.
type Service struct {
	mu     sync.Mutex
	next   interfaces.TimerToken
	timers map[interfaces.TimerToken]*time.Timer
	closed bool
}

// New creates a timer service.
func New() *Service {
	return &Service{timers: make(map[interfaces.TimerToken]*time.Timer)}
}

// Schedule runs fire(token) after d on its own goroutine. It returns zero
// once the service is closed.
func (s *Service) Schedule(d time.Duration, fire func(interfaces.TimerToken)) interfaces.TimerToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		logrus.WithFields(logrus.Fields{
			"function": "Service.Schedule",
			"delay":    d,
		}).Debug("Timer service closed, not scheduling")
		return 0
	}

	s.next++
	token := s.next
	s.timers[token] = time.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.timers[token]
		delete(s.timers, token)
		s.mu.Unlock()

		if live {
			fire(token)
		}
	})
	return token
}

// Cancel stops the timer for token. Unknown or fired tokens are ignored.
func (s *Service) Cancel(token interfaces.TimerToken) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[token]; ok {
		t.Stop()
		delete(s.timers, token)
	}
}

// Pending returns the number of scheduled timers that have not fired.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close cancels all timers. Later Schedule calls are ignored.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for token, t := range s.timers {
		t.Stop()
		delete(s.timers, token)
	}
	s.closed = true
}
