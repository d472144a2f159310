package attendance

import (
	"time"

	"rollcall/internal/token"
)

// Status is the attendance outcome recorded for a student.
type Status string

const (
	StatusPresent Status = "PRESENT"
	StatusAbsent  Status = "ABSENT"
	StatusLate    Status = "LATE"
	StatusExcused Status = "EXCUSED"
)

// Source is the channel that produced a mark.
type Source string

const (
	SourceQR          Source = "QR"
	SourceFace        Source = "FACE"
	SourceStudentSelf Source = "STUDENT_SELF"
	SourceOnline      Source = "ONLINE"
	SourceManual      Source = "MANUAL"
	SourceOfflineSync Source = "OFFLINE_SYNC"
	SourceCSVImport   Source = "CSV_IMPORT"
)

// Mode tells whether a record was captured automatically or by hand.
type Mode string

const (
	ModeOnline  Mode = "ONLINE"
	ModeOffline Mode = "OFFLINE"
)

var onlineSources = map[Source]struct{}{
	SourceQR:          {},
	SourceFace:        {},
	SourceStudentSelf: {},
	SourceOnline:      {},
}

// ModeFor classifies a source. Anything not known to be automated is OFFLINE.
func ModeFor(src Source) Mode {
	if _, ok := onlineSources[src]; ok {
		return ModeOnline
	}
	return ModeOffline
}

// Record is the authoritative attendance entry for one student in one session.
type Record struct {
	SessionID      string    `json:"session_id"`
	StudentID      string    `json:"student_id"`
	Timestamp      time.Time `json:"timestamp"`
	Source         Source    `json:"source"`
	Mode           Mode      `json:"mode"`
	Status         Status    `json:"status"`
	OverrideReason string    `json:"override_reason,omitempty"`
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionIdle  SessionStatus = "IDLE"
	SessionLive  SessionStatus = "LIVE"
	SessionEnded SessionStatus = "ENDED"
)

// SessionMode selects how participants check in.
type SessionMode string

const (
	SessionQR     SessionMode = "QR"
	SessionManual SessionMode = "MANUAL"
)

// Settings are fixed when a session starts.
type Settings struct {
	ExpiryMinutes int  `json:"expiry_minutes"`
	AutoRefresh   bool `json:"auto_refresh"`
}

// Session is one bounded attendance window. Token is set only while the
// session is LIVE in QR mode; EndTime never moves after start.
type Session struct {
	ID        string        `json:"id"`
	Status    SessionStatus `json:"status"`
	Mode      SessionMode   `json:"mode"`
	Token     *token.Token  `json:"token"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Settings  Settings      `json:"settings"`
}

func (s Session) clone() Session {
	if s.Token != nil {
		t := *s.Token
		s.Token = &t
	}
	return s
}

// locked reports whether marking is closed at now.
func (s Session) locked(now time.Time) bool {
	return s.EndTime.IsZero() || s.Status == SessionEnded || now.After(s.EndTime)
}
