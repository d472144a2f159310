package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/queue"
	"rollcall/internal/store"
)

type recordingTransport struct {
	calls   int
	batches [][]queue.Entry
	err     error
}

func (r *recordingTransport) Commit(_ context.Context, entries []queue.Entry) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, entries)
	return nil
}

func enqueueThree(t *testing.T, f *fixture) {
	t.Helper()
	for _, id := range []string{"a", "b", "c"} {
		_, err := f.svc.Enqueue(context.Background(), EnqueueRequest{StudentID: id, Status: StatusPresent})
		require.NoError(t, err)
	}
}

func TestReconcile_Empty(t *testing.T) {
	tr := &recordingTransport{}
	f := newFixture(t, tr)

	n, err := f.svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, tr.calls, "no round trip for an empty queue")
}

func TestReconcile_MergesAndClears(t *testing.T) {
	tr := &recordingTransport{}
	f := newFixture(t, tr)
	ctx := context.Background()
	startLive(t, f)
	enqueueThree(t, f)

	n, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, tr.calls)
	require.Len(t, tr.batches[0], 3)

	pending, err := f.svc.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	records := f.svc.Records()
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, SourceOfflineSync, r.Source)
		assert.Equal(t, ModeOffline, r.Mode)
		assert.Equal(t, "S1", r.SessionID)
		assert.Equal(t, StatusPresent, r.Status)
	}
	assert.Equal(t, "c", records[0].StudentID, "last queued is most recent")
}

func TestReconcile_FailureKeepsQueue(t *testing.T) {
	tr := &recordingTransport{err: errors.New("network down")}
	f := newFixture(t, tr)
	ctx := context.Background()
	startLive(t, f)
	enqueueThree(t, f)

	n, err := f.svc.Reconcile(ctx)
	require.Error(t, err)
	assert.Zero(t, n)

	pending, err := f.svc.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)
	assert.Empty(t, f.svc.Records())

	// the next attempt retries the whole queue
	tr.err = nil
	n, err = f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, tr.batches[0], 3)
}

func TestReconcile_DoesNotDeduplicateAgainstOnline(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	startLive(t, f)

	_, err := f.svc.Mark(ctx, MarkRequest{StudentID: "a", Status: StatusPresent, Source: SourceQR})
	require.NoError(t, err)
	_, err = f.svc.Enqueue(ctx, EnqueueRequest{StudentID: "a", Status: StatusAbsent})
	require.NoError(t, err)

	n, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	records := f.svc.Records()
	require.Len(t, records, 2, "both records survive")
	assert.Equal(t, ModeOffline, records[0].Mode)
	assert.Equal(t, ModeOnline, records[1].Mode)
}

func TestReconcile_KeepsEntryTimestamps(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	day := time.Date(2026, 2, 27, 8, 0, 0, 0, time.UTC)
	_, err := f.svc.Enqueue(ctx, EnqueueRequest{StudentID: "a", Status: StatusLate, SessionID: "OLD", Date: &day})
	require.NoError(t, err)

	_, err = f.svc.Reconcile(ctx)
	require.NoError(t, err)

	records := f.svc.Records()
	require.Len(t, records, 1)
	assert.True(t, day.Equal(records[0].Timestamp))
	assert.Equal(t, "OLD", records[0].SessionID)
	assert.Equal(t, StatusLate, records[0].Status)
}

func TestReconcile_StorageFailure(t *testing.T) {
	clock := newFakeClock()
	q := queue.NewOffline(brokenKV{}, "", nil)
	svc := NewService(q, nil, Options{Clock: clock.Now})
	t.Cleanup(svc.Close)

	_, err := svc.Reconcile(context.Background())
	assert.ErrorIs(t, err, queue.ErrStorage)
}

type brokenKV struct{}

func (brokenKV) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("unreadable")
}
func (brokenKV) Set(context.Context, string, []byte) error { return errors.New("unwritable") }
func (brokenKV) Delete(context.Context, string) error      { return errors.New("unwritable") }

func TestRunSync_RetriesUntilSuccess(t *testing.T) {
	tr := &recordingTransport{err: errors.New("offline")}
	f := newFixture(t, TransportFunc(func(ctx context.Context, entries []queue.Entry) error {
		return tr.Commit(ctx, entries)
	}))
	enqueueThree(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunSync(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		f.svc.mu.Lock()
		defer f.svc.mu.Unlock()
		return tr.calls >= 2
	}, time.Second, 5*time.Millisecond)

	f.svc.mu.Lock()
	tr.err = nil
	f.svc.mu.Unlock()

	require.Eventually(t, func() bool {
		n, err := f.svc.PendingCount(context.Background())
		return err == nil && n == 0
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, f.svc.Records(), 3)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSync did not stop")
	}
}

type undeletableKV struct {
	*store.MemoryKV
}

func (undeletableKV) Delete(context.Context, string) error { return errors.New("unwritable") }

func TestReconcile_ClearFailureChangesNothing(t *testing.T) {
	clock := newFakeClock()
	q := queue.NewOffline(undeletableKV{store.NewMemoryKV()}, "", nil)
	tr := &recordingTransport{}
	svc := NewService(q, tr, Options{Clock: clock.Now})
	t.Cleanup(svc.Close)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.Enqueue(ctx, EnqueueRequest{StudentID: id, Status: StatusPresent})
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		n, err := svc.Reconcile(ctx)
		require.ErrorIs(t, err, queue.ErrStorage)
		assert.Zero(t, n)
		assert.Empty(t, svc.Records(), "no partial merge")

		pending, err := svc.PendingCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, pending)
	}
	assert.Equal(t, 2, tr.calls, "the batch is replayed to the transport")
}
