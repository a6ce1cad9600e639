package actor

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TimerScheduler implements Scheduler with in-process timers: one pending
// timer per actor key, replaced on re-registration.
type TimerScheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	logger  zerolog.Logger
}

func NewTimerScheduler(logger zerolog.Logger) *TimerScheduler {
	return &TimerScheduler{
		timers: make(map[string]*time.Timer),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// WakeAt schedules fn at time t for the given key, overwriting any pending
// wake for that key. fn runs on its own goroutine.
func (s *TimerScheduler) WakeAt(key string, t time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if prev, ok := s.timers[key]; ok {
		prev.Stop()
	}

	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	s.timers[key] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, key)
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		fn()
	})
}

// Cancel drops the pending wake for a key, if any.
func (s *TimerScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// Stop cancels every pending wake and rejects new registrations. Used on
// process shutdown.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.logger.Debug().Msg("scheduler stopped")
}
