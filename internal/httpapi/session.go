package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
)

type sessionResponse struct {
	attendance.Session
	Locked          bool  `json:"locked"`
	TimeRemainingMS int64 `json:"time_remaining_ms"`
}

func viewOf(snap attendance.Snapshot) sessionResponse {
	return sessionResponse{
		Session:         snap.Session,
		Locked:          snap.Locked,
		TimeRemainingMS: snap.TimeRemaining.Milliseconds(),
	}
}

func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, viewOf(s.svc.Snapshot()))
}

func (s *Server) getLocked(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"locked": s.svc.IsLocked()})
}

type startSessionRequest struct {
	SessionID       string `json:"session_id" binding:"required"`
	Mode            string `json:"mode" binding:"required,oneof=QR MANUAL"`
	ExpiryMinutes   int    `json:"expiry_minutes" binding:"gte=0"`
	DurationMinutes int    `json:"duration_minutes" binding:"gte=0"`
	AutoRefresh     *bool  `json:"auto_refresh"`
}

func (s *Server) startSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	auto := s.autoRefresh
	if req.AutoRefresh != nil {
		auto = *req.AutoRefresh
	}
	if _, err := s.svc.StartSession(c.Request.Context(), attendance.StartRequest{
		SessionID:       req.SessionID,
		Mode:            attendance.SessionMode(req.Mode),
		ExpiryMinutes:   req.ExpiryMinutes,
		DurationMinutes: req.DurationMinutes,
		AutoRefresh:     auto,
	}); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(s.svc.Snapshot()))
}

func (s *Server) stopSession(c *gin.Context) {
	s.svc.StopSession(c.Request.Context())
	c.JSON(http.StatusOK, viewOf(s.svc.Snapshot()))
}

var errNoQRSession = errors.New("no live QR session")

func (s *Server) refreshToken(c *gin.Context) {
	t, ok := s.svc.RefreshToken(c.Request.Context())
	if !ok {
		s.failWith(c, http.StatusConflict, errNoQRSession)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": t})
}

// countdown streams the token's remaining time as server-sent events. When
// the session changes a "session" event carries the new state and the
// countdown resumes against it.
func (s *Server) countdown(c *gin.Context) {
	interval := s.interval
	if v := c.Query("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			badRequest(c, errors.New("interval must be a positive duration"))
			return
		}
		interval = d
	}

	ctx := c.Request.Context()
	ch := s.svc.Countdown(ctx, interval)
	// received tracks whether the current subscription produced anything;
	// a subscription that closes empty means the service is shutting down.
	received := false

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case remaining, ok := <-ch:
			if !ok {
				if ctx.Err() != nil || !received {
					return false
				}
				c.SSEvent("session", viewOf(s.svc.Snapshot()))
				ch = s.svc.Countdown(ctx, interval)
				received = false
				return true
			}
			received = true
			c.SSEvent("countdown", gin.H{"remaining_ms": remaining.Milliseconds()})
			return true
		}
	})
}
