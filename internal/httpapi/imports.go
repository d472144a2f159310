package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/csvimport"
)

var (
	errFileRequired   = errors.New("file field required")
	errUnknownPreview = errors.New("import preview not found or expired")
)

func (s *Server) uploadImport(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, errFileRequired)
		return
	}
	defer file.Close()

	// one byte past the limit is enough to reject oversized files
	data, err := io.ReadAll(io.LimitReader(file, csvimport.MaxFileSize+1))
	if err != nil {
		s.failWith(c, http.StatusInternalServerError, err)
		return
	}

	p, err := s.svc.ValidateImport(csvimport.File{Name: header.Filename, Data: data})
	if err != nil {
		s.fail(c, err)
		return
	}
	id := s.previews.put(p)
	s.log.Info(c.Request.Context(), "csv import previewed", "preview_id", id, "file", header.Filename,
		"total", p.Summary.Total, "valid", p.Summary.Valid, "errors", p.Summary.Errors)
	c.JSON(http.StatusCreated, gin.H{"id": id, "preview": p})
}

func (s *Server) commitImport(c *gin.Context) {
	strict := s.strict
	if v := c.Query("strict"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, errors.New("strict must be a boolean"))
			return
		}
		strict = parsed
	}

	id := c.Param("id")
	held, ok := s.previews.take(id)
	if !ok {
		s.failWith(c, http.StatusNotFound, errUnknownPreview)
		return
	}
	p := held.preview

	n, err := s.svc.CommitImport(c.Request.Context(), p, strict)
	if err != nil {
		s.previews.restore(id, held)
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "committed": n, "skipped": p.Summary.Total - n})
}

func (s *Server) discardImport(c *gin.Context) {
	if !s.previews.delete(c.Param("id")) {
		s.failWith(c, http.StatusNotFound, errUnknownPreview)
		return
	}
	c.JSON(http.StatusOK, attendance.Result{Success: true})
}
