// internal/store/store.go
//
// Document store contract used by the game service and the sync layer.
// Implementations: memory (this package), SQLite and Redis.
//
// Characteristics:
//   - Documents are JSON-shaped trees addressed by (collection, id).
//   - Transactions are optimistic: every read records the document
//     version, commit fails if any read version moved, and the body is
//     re-run up to MaxAttempts times.
//   - Updates address nested fields by dot path and never overwrite siblings.
//   - Subscriptions receive the full document after every commit.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Document is a JSON-shaped document tree.
type Document map[string]any

var (
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned once a transaction exhausted its retries.
	ErrConflict = errors.New("transaction conflict: retries exhausted")
	ErrBadPath  = errors.New("invalid field path")

	errStale = errors.New("stale read")
)

// MaxAttempts is the default number of times a transaction body runs.
const MaxAttempts = 5

// Tx is the read/write handle passed to a transaction body.
// Writes are buffered and applied atomically at commit.
type Tx interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(collection, id string, doc Document)
	Update(collection, id string, fields map[string]any)
}

// TxFunc is a transaction body. It may run several times and must not
// have side effects outside tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the document store.
type Store interface {
	// Get returns the current document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Subscribe calls fn with the current document (if any) and then after
	// every committed change. Callbacks for one subscription are serialized;
	// intermediate versions may be skipped, the latest is always delivered.
	// The subscription ends when the returned func is called or ctx is done.
	Subscribe(ctx context.Context, collection, id string, fn func(Document)) (func(), error)

	// RunTransaction runs fn with optimistic concurrency and retry.
	RunTransaction(ctx context.Context, fn TxFunc) error

	// UpdateFields applies a partial update without reading first.
	UpdateFields(ctx context.Context, collection, id string, fields map[string]any) error

	// List returns the ids of every document in collection.
	List(ctx context.Context, collection string) ([]string, error)

	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	attempts int
}

// WithMaxAttempts overrides MaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.attempts = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{attempts: MaxAttempts}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

type docKey struct {
	collection string
	id         string
}

func (k docKey) String() string { return k.collection + "/" + k.id }

type write struct {
	key    docKey
	set    Document
	fields map[string]any
}

// backend is what each implementation provides to the shared transaction loop.
type backend interface {
	// load returns the document and its version; (nil, 0) when absent.
	load(ctx context.Context, key docKey) (Document, int64, error)
	// commit checks reads against current versions and applies writes
	// atomically, returning errStale on any mismatch.
	commit(ctx context.Context, reads map[docKey]int64, writes []write) error
}

type txn struct {
	b      backend
	reads  map[docKey]int64
	writes []write
	err    error
}

func (t *txn) Get(ctx context.Context, collection, id string) (Document, error) {
	k := docKey{collection, id}
	doc, v, err := t.b.load(ctx, k)
	if err != nil {
		return nil, err
	}
	if prev, ok := t.reads[k]; ok && prev != v {
		t.err = errStale
	} else if !ok {
		t.reads[k] = v
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (t *txn) Set(collection, id string, doc Document) {
	n, err := normalizeDoc(doc)
	if err != nil {
		t.err = err
		return
	}
	t.writes = append(t.writes, write{key: docKey{collection, id}, set: n})
}

func (t *txn) Update(collection, id string, fields map[string]any) {
	n, err := normalizeFields(fields)
	if err != nil {
		t.err = err
		return
	}
	t.writes = append(t.writes, write{key: docKey{collection, id}, fields: n})
}

// runTransaction is the retry loop shared by every backend.
func runTransaction(ctx context.Context, b backend, attempts int, fn TxFunc) error {
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := &txn{b: b, reads: make(map[docKey]int64)}
		if err := fn(ctx, t); err != nil {
			return err
		}
		err := t.err
		if err == nil {
			if len(t.writes) == 0 {
				return nil
			}
			err = b.commit(ctx, t.reads, t.writes)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, errStale) {
			return err
		}
		log.Debug().Int("attempt", attempt).Msg("transaction conflict, retrying")
		if err := backoff(ctx, attempt); err != nil {
			return err
		}
	}
	return ErrConflict
}

func backoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(time.Duration(attempt) * 2 * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// updateFields is UpdateFields expressed as a read-free commit.
func updateFields(ctx context.Context, b backend, collection, id string, fields map[string]any) error {
	n, err := normalizeFields(fields)
	if err != nil {
		return err
	}
	return b.commit(ctx, nil, []write{{key: docKey{collection, id}, fields: n}})
}

// stage applies writes in order on top of the current documents returned
// by current. The result holds only the keys that were written.
func stage(writes []write, current func(docKey) (Document, error)) (map[docKey]Document, []docKey, error) {
	staged := make(map[docKey]Document)
	var order []docKey
	for _, w := range writes {
		cur, ok := staged[w.key]
		if !ok {
			var err error
			if cur, err = current(w.key); err != nil {
				return nil, nil, err
			}
			order = append(order, w.key)
		}
		next, err := applyWrite(cur, w)
		if err != nil {
			return nil, nil, err
		}
		staged[w.key] = next
	}
	return staged, order, nil
}

func applyWrite(cur Document, w write) (Document, error) {
	if w.set != nil {
		return cloneDoc(w.set), nil
	}
	if cur == nil {
		return nil, fmt.Errorf("update %s: %w", w.key, ErrNotFound)
	}
	next := cloneDoc(cur)
	paths := make([]string, 0, len(w.fields))
	for p := range w.fields {
		paths = append(paths, p)
	}
	// Parents sort before their children so "rounds" then "rounds.0.x" compose.
	sort.Strings(paths)
	for _, p := range paths {
		if err := SetPath(next, p, cloneValue(w.fields[p])); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// normalizeDoc converts doc into plain JSON types.
func normalizeDoc(doc Document) (Document, error) {
	v, err := normalize(map[string]any(doc))
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document is not an object")
	}
	return Document(m), nil
}

func normalizeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for p, v := range fields {
		n, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", p, err)
		}
		out[p] = n
	}
	return out, nil
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneDoc(d Document) Document {
	if d == nil {
		return nil
	}
	return Document(cloneValue(map[string]any(d)).(map[string]any))
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Decode converts a document into a typed value.
func Decode(doc Document, v any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Encode converts a typed value into a document.
func Encode(v any) (Document, error) {
	n, err := normalize(v)
	if err != nil {
		return nil, err
	}
	m, ok := n.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("value does not encode to an object")
	}
	return Document(m), nil
}
