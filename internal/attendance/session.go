package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rollcall/internal/token"
)

// StartRequest opens a new session. Zero minutes fall back to the service
// defaults.
type StartRequest struct {
	SessionID       string
	Mode            SessionMode
	ExpiryMinutes   int
	DurationMinutes int
	AutoRefresh     bool
}

// StartSession moves the machine to LIVE for a new session, dropping every
// record held for the previous one.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (Session, error) {
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		return Session{}, fmt.Errorf("%w: session id required", ErrInvalidSession)
	}
	if req.Mode != SessionQR && req.Mode != SessionManual {
		return Session{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidSession, req.Mode)
	}
	if req.ExpiryMinutes < 0 || req.DurationMinutes < 0 {
		return Session{}, fmt.Errorf("%w: negative duration", ErrInvalidSession)
	}
	if req.ExpiryMinutes == 0 {
		req.ExpiryMinutes = s.defaultExpiry
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = s.defaultDuration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	sess := Session{
		ID:        id,
		Status:    SessionLive,
		Mode:      req.Mode,
		StartTime: start,
		EndTime:   start.Add(time.Duration(req.DurationMinutes) * time.Minute),
		Settings: Settings{
			ExpiryMinutes: req.ExpiryMinutes,
			AutoRefresh:   req.AutoRefresh,
		},
	}
	if sess.Mode == SessionQR {
		t := token.Issue(id, sess.Settings.ExpiryMinutes, start)
		sess.Token = &t
	}
	s.session = sess
	s.records.Reset()
	s.sessionChangedLocked()

	s.log.Info(ctx, "session started", "session_id", id, "mode", sess.Mode, "ends_at", sess.EndTime)
	return sess.clone(), nil
}

// StopSession ends the live session and clears its token. Stopping an ended
// or never-started session changes nothing.
func (s *Service) StopSession(ctx context.Context) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Status != SessionLive {
		return s.session.clone()
	}
	s.session.Status = SessionEnded
	s.session.Token = nil
	s.sessionChangedLocked()

	s.log.Info(ctx, "session stopped", "session_id", s.session.ID)
	return s.session.clone()
}

// RefreshToken reissues the check-in token. It does nothing unless a session
// is LIVE in QR mode; the returned bool reports whether a token was issued.
func (s *Service) RefreshToken(ctx context.Context) (token.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Service) refreshLocked(ctx context.Context) (token.Token, bool) {
	if s.session.ID == "" || s.session.Status != SessionLive || s.session.Mode != SessionQR {
		return token.Token{}, false
	}
	t := token.Issue(s.session.ID, s.session.Settings.ExpiryMinutes, s.now())
	s.session.Token = &t
	s.sessionChangedLocked()
	s.metrics.Rotated()
	s.log.Debug(ctx, "token rotated", "session_id", s.session.ID, "expires_at", t.ExpiresAt)
	return t, true
}

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	Session       Session       `json:"session"`
	Locked        bool          `json:"locked"`
	TimeRemaining time.Duration `json:"time_remaining"`
}

// Snapshot returns a copy of the session together with the lock state and
// the token's remaining time.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	snap := Snapshot{Session: s.session.clone(), Locked: s.session.locked(now)}
	if s.session.Token != nil {
		snap.TimeRemaining = token.Remaining(s.session.Token.ExpiresAt, now)
	}
	return snap
}
