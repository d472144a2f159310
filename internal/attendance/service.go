package attendance

import (
	"context"
	"strings"
	"sync"
	"time"

	"rollcall/internal/logging"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
)

// Options tune a Service. Zero values fall back to defaults.
type Options struct {
	Logger  logging.Logger
	Metrics *metrics.Metrics
	// Clock is injectable for tests.
	Clock func() time.Time
	// Tick is the granularity of token rotation and countdown sampling.
	Tick                   time.Duration
	DefaultExpiryMinutes   int
	DefaultDurationMinutes int
}

// Service owns the session, the record store and the offline queue. Every
// mutation runs under one mutex so lock checks, upserts and reconciliation
// each see a consistent snapshot.
type Service struct {
	mu        sync.Mutex
	session   Session
	records   *RecordStore
	queue     *queue.Offline
	transport Transport
	roster    map[string]struct{}

	log     logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	tick    time.Duration

	defaultExpiry   int
	defaultDuration int

	// rotation state, see rotation.go
	stopRotation context.CancelFunc
	changed      chan struct{}
	closed       bool
}

// NewService wires a service around the offline queue and the transport
// used by Reconcile. A nil transport makes the round trip a no-op.
func NewService(q *queue.Offline, tr Transport, opts Options) *Service {
	if tr == nil {
		tr = NopTransport{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.DefaultExpiryMinutes <= 0 {
		opts.DefaultExpiryMinutes = 1
	}
	if opts.DefaultDurationMinutes <= 0 {
		opts.DefaultDurationMinutes = 60
	}
	return &Service{
		session:         Session{Status: SessionIdle},
		records:         NewRecordStore(),
		queue:           q,
		transport:       tr,
		log:             opts.Logger,
		metrics:         opts.Metrics,
		now:             opts.Clock,
		tick:            opts.Tick,
		defaultExpiry:   opts.DefaultExpiryMinutes,
		defaultDuration: opts.DefaultDurationMinutes,
		changed:         make(chan struct{}),
	}
}

// IsLocked reports whether the session window is closed.
func (s *Service) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.locked(s.now())
}

// MarkRequest is one attendance mark against the active session.
type MarkRequest struct {
	StudentID      string
	Status         Status
	Source         Source
	OverrideReason string
}

// Mark applies the lock and conflict rules and upserts the record.
func (s *Service) Mark(ctx context.Context, req MarkRequest) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.markLocked(req)
	s.metrics.Mark(string(req.Source), outcome(err))
	if err != nil {
		s.log.Debug(ctx, "mark rejected", "session_id", s.session.ID, "student_id", req.StudentID, "source", req.Source, "reason", err)
		return Record{}, err
	}
	return rec, nil
}

func (s *Service) markLocked(req MarkRequest) (Record, error) {
	if req.StudentID == "" {
		return Record{}, ErrStudentRequired
	}
	reason := strings.TrimSpace(req.OverrideReason)
	now := s.now()

	if s.session.locked(now) {
		switch {
		case req.Source == SourceQR || req.Source == SourceStudentSelf:
			return Record{}, ErrSessionLocked
		case req.Source == SourceManual && reason == "":
			return Record{}, ErrOverrideRequired
		}
	}

	if cur, ok := s.records.Get(s.session.ID, req.StudentID); ok && cur.Mode == ModeOnline && req.Source == SourceManual {
		return Record{}, ErrAutoManaged
	}

	return s.records.Upsert(Record{
		SessionID:      s.session.ID,
		StudentID:      req.StudentID,
		Timestamp:      now.UTC(),
		Source:         req.Source,
		Mode:           ModeFor(req.Source),
		Status:         req.Status,
		OverrideReason: reason,
	}), nil
}

// Records returns the record store contents, most recent first.
func (s *Service) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.List()
}

// Record returns the current record for a student in the active session.
func (s *Service) Record(studentID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.Get(s.session.ID, studentID)
}

// EnqueueRequest captures a mark while the record store is unreachable.
// SessionID defaults to the active session, Date to now.
type EnqueueRequest struct {
	StudentID string
	Status    Status
	Date      *time.Time
	SessionID string
	Metadata  map[string]any
}

// Enqueue appends an entry to the offline queue without any checks.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (queue.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.session.ID
	}
	if req.Date == nil {
		now := s.now()
		req.Date = &now
	}
	e, err := s.queue.Enqueue(ctx, queue.Request{
		SessionID: sessionID,
		StudentID: req.StudentID,
		Status:    string(req.Status),
		Date:      req.Date,
		Metadata:  req.Metadata,
	})
	if err != nil {
		s.log.Error(ctx, "offline enqueue failed", "student_id", req.StudentID, "error", err)
		return queue.Entry{}, err
	}
	s.refreshPendingLocked(ctx)
	return e, nil
}

// PendingCount reports how many offline entries wait for reconciliation.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len(ctx)
}

// Pending returns the queued entries in capture order.
func (s *Service) Pending(ctx context.Context) ([]queue.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Entries(ctx)
}

func (s *Service) refreshPendingLocked(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if n, err := s.queue.Len(ctx); err == nil {
		s.metrics.Pending(n)
	}
}

// SetRoster replaces the active roster used by CSV validation.
func (s *Service) SetRoster(studentIDs []string) {
	roster := make(map[string]struct{}, len(studentIDs))
	for _, id := range studentIDs {
		if id = strings.TrimSpace(id); id != "" {
			roster[id] = struct{}{}
		}
	}
	s.mu.Lock()
	s.roster = roster
	s.mu.Unlock()
}
