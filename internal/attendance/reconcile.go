package attendance

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/queue"
)

// Transport commits drained offline entries to the remote system of record.
// It either accepts the whole batch or fails; there is no partial success.
type Transport interface {
	Commit(ctx context.Context, entries []queue.Entry) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, entries []queue.Entry) error

func (f TransportFunc) Commit(ctx context.Context, entries []queue.Entry) error {
	return f(ctx, entries)
}

// NopTransport accepts everything without leaving the process.
type NopTransport struct{}

func (NopTransport) Commit(context.Context, []queue.Entry) error { return nil }

// Reconcile drains the offline queue into the record store. It performs one
// round trip through the transport; on failure nothing changes and the whole
// queue is retried next time. Merged entries are inserted as OFFLINE_SYNC
// records without consulting existing records for the same student.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.queue.Entries(ctx)
	if err != nil {
		s.metrics.Reconcile("failed", 0)
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := s.transport.Commit(ctx, entries); err != nil {
		s.metrics.Reconcile("failed", 0)
		s.log.Warn(ctx, "reconcile round trip failed, queue kept", "pending", len(entries), "error", err)
		return 0, fmt.Errorf("reconcile: %w", err)
	}

	// Clear before merging: a failed clear must leave the record store as it
	// was. Replaying the batch to the transport is idempotent.
	if err := s.queue.Clear(ctx); err != nil {
		s.metrics.Reconcile("failed", 0)
		s.log.Error(ctx, "offline queue not cleared, merge skipped", "pending", len(entries), "error", err)
		return 0, fmt.Errorf("reconcile: clear queue: %w", err)
	}

	for _, e := range entries {
		s.records.Insert(Record{
			SessionID: e.SessionID,
			StudentID: e.StudentID,
			Timestamp: e.Timestamp,
			Source:    SourceOfflineSync,
			Mode:      ModeOffline,
			Status:    Status(e.Status),
		})
	}

	s.metrics.Reconcile("ok", len(entries))
	s.metrics.Pending(0)
	s.log.Info(ctx, "offline queue reconciled", "count", len(entries))
	return len(entries), nil
}

// RunSync reconciles on every interval tick until ctx ends. Failures are
// logged and retried wholesale on the next tick.
func (s *Service) RunSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn(ctx, "background sync failed", "error", err)
			}
		}
	}
}
