package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/logging"
)

// ErrStorage wraps every failure to read or write the durable log.
var ErrStorage = errors.New("offline log storage error")

// DefaultKey names the log entry in the backing store.
const DefaultKey = "attendance:offline_queue"

// Entry is one attendance mark captured without reaching the record store.
type Entry struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	StudentID string         `json:"student_id"`
	Status    string         `json:"status"`
	Synced    bool           `json:"synced"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// KV is the durable key/value backend holding the serialized log.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Request describes an entry to append. Date and Metadata are optional.
type Request struct {
	SessionID string
	StudentID string
	Status    string
	Date      *time.Time
	Metadata  map[string]any
}

// Offline is an append-only log of entries stored as one JSON array under
// a single key. It does no validation or deduplication.
type Offline struct {
	mu  sync.Mutex
	kv  KV
	key string
	log logging.Logger
	now func() time.Time
}

// NewOffline builds a queue over kv. An empty key falls back to DefaultKey.
func NewOffline(kv KV, key string, log logging.Logger) *Offline {
	if key == "" {
		key = DefaultKey
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Offline{kv: kv, key: key, log: log, now: time.Now}
}

// Enqueue appends a new entry and returns it.
func (q *Offline) Enqueue(ctx context.Context, req Request) (Entry, error) {
	entries, err := q.EnqueueBatch(ctx, []Request{req})
	if err != nil {
		return Entry{}, err
	}
	return entries[0], nil
}

// EnqueueBatch appends several entries with a single write.
func (q *Offline) EnqueueBatch(ctx context.Context, reqs []Request) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	now := q.now().UTC()
	added := make([]Entry, 0, len(reqs))
	for _, req := range reqs {
		added = append(added, newEntry(req, now))
	}
	if err := q.save(ctx, append(entries, added...)); err != nil {
		return nil, err
	}
	return added, nil
}

func newEntry(req Request, now time.Time) Entry {
	ts := now
	if req.Date != nil {
		ts = req.Date.UTC()
	}
	e := Entry{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		StudentID: req.StudentID,
		Status:    req.Status,
		Timestamp: ts,
	}
	if len(req.Metadata) > 0 {
		e.Metadata = make(map[string]any, len(req.Metadata))
		for k, v := range req.Metadata {
			e.Metadata[k] = v
		}
	}
	return e
}

// Entries returns a snapshot of the log in insertion order.
func (q *Offline) Entries(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Len reports how many entries are waiting.
func (q *Offline) Len(ctx context.Context) (int, error) {
	entries, err := q.Entries(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Clear drops every entry.
func (q *Offline) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.kv.Delete(ctx, q.key); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrStorage, err)
	}
	return nil
}

// load reads the log. An unparseable value is treated as empty and removed.
func (q *Offline) load(ctx context.Context) ([]Entry, error) {
	raw, ok, err := q.kv.Get(ctx, q.key)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrStorage, err)
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		q.log.Warn(ctx, "offline log unreadable, resetting", "key", q.key, "error", err)
		if derr := q.kv.Delete(ctx, q.key); derr != nil {
			return nil, fmt.Errorf("%w: reset: %v", ErrStorage, derr)
		}
		return nil, nil
	}
	return entries, nil
}

func (q *Offline) save(ctx context.Context, entries []Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrStorage, err)
	}
	if err := q.kv.Set(ctx, q.key, raw); err != nil {
		return fmt.Errorf("%w: write: %v", ErrStorage, err)
	}
	return nil
}
