package attendance

import (
	"context"
	"fmt"

	"rollcall/internal/csvimport"
	"rollcall/internal/queue"
)

type rosterSet map[string]struct{}

func (r rosterSet) Has(studentID string) bool {
	_, ok := r[studentID]
	return ok
}

// onlineView answers conflict lookups against the active session. Callers
// must hold s.mu.
type onlineView struct{ s *Service }

func (v onlineView) HasOnlineRecord(studentID string) bool {
	r, ok := v.s.records.Get(v.s.session.ID, studentID)
	return ok && r.Mode == ModeOnline
}

// ValidateImport builds a preview of f against the active roster and the
// session's online records. The roster check is skipped until SetRoster has
// been called.
func (s *Service) ValidateImport(f csvimport.File) (*csvimport.Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var roster csvimport.Roster
	if s.roster != nil {
		roster = rosterSet(s.roster)
	}
	return csvimport.Validate(f, roster, onlineView{s})
}

// CommitImport enqueues every valid row of p into the offline queue and
// returns how many were queued. Invalid rows are skipped, unless strict is
// set, in which case a preview with any error is rejected outright.
func (s *Service) CommitImport(ctx context.Context, p *csvimport.Preview, strict bool) (int, error) {
	if p == nil {
		return 0, nil
	}
	if strict && p.Summary.Errors > 0 {
		return 0, fmt.Errorf("%w: %d of %d rows", ErrPreviewHasErrors, p.Summary.Errors, p.Summary.Total)
	}

	rows := p.ValidRows()
	if len(rows) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	reqs := make([]queue.Request, 0, len(rows))
	for _, r := range rows {
		meta := map[string]any{"source": string(SourceCSVImport), "line": r.Line}
		if r.Remark != "" {
			meta["remark"] = r.Remark
		}
		reqs = append(reqs, queue.Request{
			SessionID: s.session.ID,
			StudentID: r.StudentID,
			Status:    r.Status,
			Date:      &now,
			Metadata:  meta,
		})
	}
	entries, err := s.queue.EnqueueBatch(ctx, reqs)
	if err != nil {
		return 0, err
	}
	s.refreshPendingLocked(ctx)
	s.log.Info(ctx, "csv import committed", "session_id", s.session.ID, "rows", len(entries), "skipped", p.Summary.Total-len(entries))
	return len(entries), nil
}
