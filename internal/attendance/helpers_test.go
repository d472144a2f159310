package attendance

import (
	"sync"
	"testing"
	"time"

	"rollcall/internal/queue"
	"rollcall/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	clock *fakeClock
	kv    *store.MemoryKV
	queue *queue.Offline
}

func newFixture(t *testing.T, tr Transport) *fixture {
	t.Helper()
	clock := newFakeClock()
	kv := store.NewMemoryKV()
	q := queue.NewOffline(kv, "", nil)
	svc := NewService(q, tr, Options{
		Clock: clock.Now,
		Tick:  5 * time.Millisecond,
	})
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, clock: clock, kv: kv, queue: q}
}
