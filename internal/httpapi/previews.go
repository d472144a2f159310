package httpapi

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/csvimport"
)

// previewStore holds validated imports between upload and commit.
type previewStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]heldPreview
}

type heldPreview struct {
	preview *csvimport.Preview
	created time.Time
}

func newPreviewStore(ttl time.Duration, now func() time.Time) *previewStore {
	return &previewStore{ttl: ttl, now: now, items: make(map[string]heldPreview)}
}

func (p *previewStore) put(pr *csvimport.Preview) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()
	id := uuid.NewString()
	p.items[id] = heldPreview{preview: pr, created: p.now()}
	return id
}

// take removes and returns the held preview, so only one caller can commit
// it.
func (p *previewStore) take(id string) (heldPreview, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.items[id]
	delete(p.items, id)
	if !ok || p.expired(h) {
		return heldPreview{}, false
	}
	return h, true
}

// restore puts back a preview whose commit failed.
func (p *previewStore) restore(id string, h heldPreview) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[id] = h
}

func (p *previewStore) delete(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.items[id]
	delete(p.items, id)
	return ok && !p.expired(h)
}

func (p *previewStore) expired(h heldPreview) bool {
	return p.now().Sub(h.created) > p.ttl
}

func (p *previewStore) pruneLocked() {
	for id, h := range p.items {
		if p.expired(h) {
			delete(p.items, id)
		}
	}
}
