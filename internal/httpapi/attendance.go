package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/queue"
)

type markRequest struct {
	StudentID      string `json:"student_id" binding:"required"`
	Status         string `json:"status" binding:"required,oneof=PRESENT ABSENT LATE EXCUSED"`
	Source         string `json:"source" binding:"required,oneof=QR FACE STUDENT_SELF ONLINE MANUAL"`
	OverrideReason string `json:"override_reason"`
}

func (s *Server) mark(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := s.svc.Mark(c.Request.Context(), attendance.MarkRequest{
		StudentID:      req.StudentID,
		Status:         attendance.Status(req.Status),
		Source:         attendance.Source(req.Source),
		OverrideReason: req.OverrideReason,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "record": rec})
}

func (s *Server) listRecords(c *gin.Context) {
	if id := c.Query("student_id"); id != "" {
		rec, ok := s.svc.Record(id)
		if !ok {
			c.JSON(http.StatusNotFound, attendance.Result{Message: "no record for student"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"record": rec})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": s.svc.Records()})
}

var errNoDatabase = errors.New("no database configured")

func (s *Server) recordHistory(c *gin.Context) {
	if s.repo == nil {
		s.failWith(c, http.StatusServiceUnavailable, errNoDatabase)
		return
	}
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	records, err := s.repo.ListRecords(c.Request.Context(), c.Query("session_id"), c.Query("student_id"), limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	if records == nil {
		records = []attendance.StoredRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

type enqueueRequest struct {
	StudentID string         `json:"student_id" binding:"required"`
	Status    string         `json:"status" binding:"required,oneof=PRESENT ABSENT LATE EXCUSED"`
	SessionID string         `json:"session_id"`
	Date      *time.Time     `json:"date"`
	Metadata  map[string]any `json:"metadata"`
}

func (s *Server) enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	e, err := s.svc.Enqueue(c.Request.Context(), attendance.EnqueueRequest{
		StudentID: req.StudentID,
		Status:    attendance.Status(req.Status),
		Date:      req.Date,
		SessionID: req.SessionID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"entry": e})
}

func (s *Server) listPending(c *gin.Context) {
	entries, err := s.svc.Pending(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if entries == nil {
		entries = []queue.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) reconcile(c *gin.Context) {
	n, err := s.svc.Reconcile(c.Request.Context())
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadGateway
		}
		s.failWith(c, code, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": n})
}

type rosterRequest struct {
	StudentIDs []string `json:"student_ids" binding:"required"`
}

func (s *Server) replaceRoster(c *gin.Context) {
	var req rosterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if s.repo != nil {
		if err := s.repo.ReplaceRoster(c.Request.Context(), req.StudentIDs); err != nil {
			s.fail(c, err)
			return
		}
	}
	s.svc.SetRoster(req.StudentIDs)
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(req.StudentIDs)})
}
