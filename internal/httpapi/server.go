// Package httpapi exposes the attendance service over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/csvimport"
	"rollcall/internal/logging"
	"rollcall/internal/queue"
)

// Repository is the optional system of record behind the API.
type Repository interface {
	ListRecords(ctx context.Context, sessionID, studentID string, limit, offset int) ([]attendance.StoredRecord, error)
	ReplaceRoster(ctx context.Context, studentIDs []string) error
}

// Options configure a Server. Zero values fall back to defaults.
type Options struct {
	Logger logging.Logger
	// Repository may be nil when no database is configured.
	Repository        Repository
	StrictImports     bool
	AutoRefresh       bool
	CountdownInterval time.Duration
	PreviewTTL        time.Duration
	Clock             func() time.Time
}

type Server struct {
	svc      *attendance.Service
	repo     Repository
	previews *previewStore
	log      logging.Logger

	strict      bool
	autoRefresh bool
	interval    time.Duration
}

func New(svc *attendance.Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.CountdownInterval <= 0 {
		opts.CountdownInterval = time.Second
	}
	if opts.PreviewTTL <= 0 {
		opts.PreviewTTL = 30 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Server{
		svc:         svc,
		repo:        opts.Repository,
		previews:    newPreviewStore(opts.PreviewTTL, opts.Clock),
		log:         opts.Logger,
		strict:      opts.StrictImports,
		autoRefresh: opts.AutoRefresh,
		interval:    opts.CountdownInterval,
	}
}

// Register mounts the /v1 routes on r.
func (s *Server) Register(r gin.IRouter) {
	v1 := r.Group("/v1")

	v1.GET("/session", s.getSession)
	v1.POST("/session/start", s.startSession)
	v1.POST("/session/stop", s.stopSession)
	v1.POST("/session/refresh", s.refreshToken)
	v1.GET("/session/locked", s.getLocked)
	v1.GET("/session/countdown", s.countdown)

	v1.POST("/marks", s.mark)
	v1.GET("/records", s.listRecords)
	v1.GET("/records/history", s.recordHistory)

	v1.POST("/offline", s.enqueue)
	v1.GET("/offline", s.listPending)
	v1.POST("/offline/reconcile", s.reconcile)

	v1.PUT("/roster", s.replaceRoster)

	v1.POST("/imports", s.uploadImport)
	v1.POST("/imports/:id/commit", s.commitImport)
	v1.DELETE("/imports/:id", s.discardImport)
}

func statusFor(err error) int {
	var gate *csvimport.GateError
	switch {
	case errors.Is(err, attendance.ErrInvalidSession), errors.Is(err, attendance.ErrStudentRequired):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrSessionLocked):
		return http.StatusLocked
	case errors.Is(err, attendance.ErrOverrideRequired), errors.Is(err, attendance.ErrPreviewHasErrors):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attendance.ErrAutoManaged):
		return http.StatusConflict
	case errors.Is(err, csvimport.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &gate):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	s.failWith(c, statusFor(err), err)
}

func (s *Server) failWith(c *gin.Context, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.log.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "status", code, "error", err)
	}
	c.JSON(code, attendance.ResultOf(err))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, attendance.Result{Success: false, Message: err.Error()})
}
