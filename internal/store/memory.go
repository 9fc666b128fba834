// internal/store/memory.go
//
// In-memory implementation of the Store interface.
// This is a lightweight document store used for ephemeral game sessions,
// primarily in development/testing, or when durability is not required.
//
// Characteristics:
//   - Stores documents keyed by (collection, id) in a map, each with a version.
//   - Concurrency-safe via RWMutex; transaction bodies run without the lock
//     and are validated against versions at commit.
//   - State is lost when the process restarts.

package store

import (
	"context"
	"sort"
	"sync"
)

type entry struct {
	doc     Document
	version int64
}

// Memory is an in-memory Store.
type Memory struct {
	mu   sync.RWMutex // guards docs
	docs map[docKey]*entry
	hub  *hub
	opts options
}

// NewMemoryStore constructs a new in-memory Store.
func NewMemoryStore(opts ...Option) *Memory {
	return &Memory{docs: make(map[docKey]*entry), hub: newHub(), opts: buildOptions(opts)}
}

// Get returns a copy of the stored document.
func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	doc, _, err := m.load(ctx, docKey{collection, id})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (m *Memory) load(_ context.Context, key docKey) (Document, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.docs[key]; ok {
		return cloneDoc(e.doc), e.version, nil
	}
	return nil, 0, nil
}

func (m *Memory) commit(_ context.Context, reads map[docKey]int64, writes []write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range reads {
		var cur int64
		if e, ok := m.docs[k]; ok {
			cur = e.version
		}
		if cur != v {
			return errStale
		}
	}

	staged, order, err := stage(writes, func(k docKey) (Document, error) {
		if e, ok := m.docs[k]; ok {
			return e.doc, nil
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	for _, k := range order {
		e, ok := m.docs[k]
		if !ok {
			e = &entry{}
			m.docs[k] = e
		}
		e.doc = staged[k]
		e.version++
		m.hub.publish(k, e.doc)
	}
	return nil
}

// RunTransaction runs fn with optimistic concurrency.
func (m *Memory) RunTransaction(ctx context.Context, fn TxFunc) error {
	return runTransaction(ctx, m, m.opts.attempts, fn)
}

// UpdateFields applies a partial update to an existing document.
func (m *Memory) UpdateFields(ctx context.Context, collection, id string, fields map[string]any) error {
	return updateFields(ctx, m, collection, id, fields)
}

// Subscribe registers fn and delivers the current document first.
func (m *Memory) Subscribe(ctx context.Context, collection, id string, fn func(Document)) (func(), error) {
	key := docKey{collection, id}
	// Holding the write lock orders the snapshot against commits.
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, cancel := m.hub.subscribe(ctx, key, fn)
	if e, ok := m.docs[key]; ok {
		sub.offer(cloneDoc(e.doc))
	}
	return cancel, nil
}

// List returns the sorted ids of collection.
func (m *Memory) List(_ context.Context, collection string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for k := range m.docs {
		if k.collection == collection {
			ids = append(ids, k.id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
