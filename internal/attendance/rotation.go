package attendance

import (
	"context"
	"time"

	"rollcall/internal/token"
)

// sessionChangedLocked must run after every change to status, mode or token.
// It wakes countdown watchers and restarts the rotation loop so that no timer
// outlives the state it was started for.
func (s *Service) sessionChangedLocked() {
	close(s.changed)
	s.changed = make(chan struct{})

	if s.stopRotation != nil {
		s.stopRotation()
		s.stopRotation = nil
	}
	if s.closed {
		return
	}
	sess := s.session
	if sess.Status != SessionLive || sess.Mode != SessionQR || !sess.Settings.AutoRefresh || sess.Token == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopRotation = cancel
	go s.rotate(ctx)
}

// rotate reissues the token once it has no time left.
func (s *Service) rotate(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		if t := s.session.Token; t != nil && t.Expired(s.now()) {
			// refreshLocked cancels ctx and starts a fresh loop.
			s.refreshLocked(ctx)
		}
		s.mu.Unlock()
	}
}

// Countdown streams the token's remaining time every interval. The channel
// closes when the token, mode or status changes, when the service is closed,
// or when ctx ends. Callers open a new countdown after each change.
func (s *Service) Countdown(ctx context.Context, interval time.Duration) <-chan time.Duration {
	if interval <= 0 {
		interval = s.tick
	}
	out := make(chan time.Duration, 1)

	s.mu.Lock()
	changed := s.changed
	closed := s.closed
	s.mu.Unlock()
	if closed {
		close(out)
		return out
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			s.mu.Lock()
			var remaining time.Duration
			if t := s.session.Token; t != nil {
				remaining = token.Remaining(t.ExpiresAt, s.now())
			}
			s.mu.Unlock()

			select {
			case out <- remaining:
			case <-changed:
				return
			case <-ctx.Done():
				return
			}

			select {
			case <-ticker.C:
			case <-changed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close stops the rotation loop and all countdowns. The service keeps
// answering calls but no timer will fire again.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.sessionChangedLocked()
}
