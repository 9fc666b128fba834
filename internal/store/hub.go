package store

import (
	"context"
	"sync"
)

// hub fans committed documents out to in-process subscribers.
// publish never blocks: each subscription keeps only the latest pending
// document and a goroutine delivers it, so publishers may hold locks.
type hub struct {
	mu   sync.Mutex
	subs map[docKey]map[*subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[docKey]map[*subscription]struct{})}
}

type subscription struct {
	fn   func(Document)
	wake chan struct{}
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	pending Document
	has     bool
}

// subscribe registers fn for key. The caller may offer an initial snapshot
// before releasing whatever lock orders it against publish.
func (h *hub) subscribe(ctx context.Context, key docKey, fn func(Document)) (*subscription, func()) {
	s := &subscription{fn: fn, wake: make(chan struct{}, 1), done: make(chan struct{})}

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*subscription]struct{})
	}
	h.subs[key][s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			h.mu.Lock()
			delete(h.subs[key], s)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			h.mu.Unlock()
			close(s.done)
		})
	}

	go s.run()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-s.done:
		}
	}()
	return s, cancel
}

func (h *hub) publish(key docKey, doc Document) {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs[key]))
	for s := range h.subs[key] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.offer(cloneDoc(doc))
	}
}

func (s *subscription) offer(doc Document) {
	s.mu.Lock()
	s.pending, s.has = doc, true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		s.mu.Lock()
		doc, ok := s.pending, s.has
		s.pending, s.has = nil, false
		s.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case <-s.done:
			return
		default:
		}
		s.fn(doc)
	}
}
