// internal/store/redis.go
//
// Redis implementation of the Store interface, for running several server
// processes against one shared document store.
//
// Layout:
//   - Each document is a hash at "<prefix>doc:<collection>:<id>" with
//     fields "body" (JSON) and "version".
//   - Commits run under WATCH/MULTI; a concurrent write aborts EXEC and the
//     transaction body is retried like any other stale read.
//   - Every commit PUBLISHes the new body on "<prefix>chan:<collection>:<id>".

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultRedisPrefix namespaces every key written by the Redis store.
const DefaultRedisPrefix = "timeline:"

// Redis is a Store backed by a Redis server.
type Redis struct {
	rdb    *redis.Client
	prefix string
	opts   options
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client, prefix string, opts ...Option) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix, opts: buildOptions(opts)}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, opts ...Option) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedis(rdb, DefaultRedisPrefix, opts...), nil
}

func (r *Redis) docKey(k docKey) string  { return r.prefix + "doc:" + k.collection + ":" + k.id }
func (r *Redis) chanKey(k docKey) string { return r.prefix + "chan:" + k.collection + ":" + k.id }

type hashGetter interface {
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

func (r *Redis) loadFrom(ctx context.Context, c hashGetter, k docKey) (Document, int64, error) {
	vals, err := c.HMGet(ctx, r.docKey(k), "body", "version").Result()
	if err != nil {
		return nil, 0, fmt.Errorf("load %s: %w", k, err)
	}
	body, _ := vals[0].(string)
	if body == "" {
		return nil, 0, nil
	}
	vs, _ := vals[1].(string)
	version, err := strconv.ParseInt(vs, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("load %s: bad version %q", k, vs)
	}
	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", k, err)
	}
	return doc, version, nil
}

func (r *Redis) load(ctx context.Context, k docKey) (Document, int64, error) {
	return r.loadFrom(ctx, r.rdb, k)
}

func (r *Redis) commit(ctx context.Context, reads map[docKey]int64, writes []write) error {
	seen := make(map[docKey]bool)
	var keys []string
	for k := range reads {
		seen[k] = true
		keys = append(keys, r.docKey(k))
	}
	for _, w := range writes {
		if !seen[w.key] {
			seen[w.key] = true
			keys = append(keys, r.docKey(w.key))
		}
	}

	txf := func(tx *redis.Tx) error {
		for k, v := range reads {
			_, cur, err := r.loadFrom(ctx, tx, k)
			if err != nil {
				return err
			}
			if cur != v {
				return errStale
			}
		}
		staged, order, err := stage(writes, func(k docKey) (Document, error) {
			doc, _, err := r.loadFrom(ctx, tx, k)
			return doc, err
		})
		if err != nil {
			return err
		}
		bodies := make(map[docKey][]byte, len(order))
		for _, k := range order {
			b, err := json.Marshal(staged[k])
			if err != nil {
				return fmt.Errorf("encode %s: %w", k, err)
			}
			bodies[k] = b
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range order {
				pipe.HSet(ctx, r.docKey(k), "body", string(bodies[k]))
				pipe.HIncrBy(ctx, r.docKey(k), "version", 1)
				pipe.Publish(ctx, r.chanKey(k), string(bodies[k]))
			}
			return nil
		})
		return err
	}

	err := r.rdb.Watch(ctx, txf, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return errStale
	}
	return err
}

// Get returns the stored document.
func (r *Redis) Get(ctx context.Context, collection, id string) (Document, error) {
	doc, _, err := r.load(ctx, docKey{collection, id})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

// RunTransaction runs fn with optimistic concurrency.
func (r *Redis) RunTransaction(ctx context.Context, fn TxFunc) error {
	return runTransaction(ctx, r, r.opts.attempts, fn)
}

// UpdateFields applies a partial update to an existing document.
func (r *Redis) UpdateFields(ctx context.Context, collection, id string, fields map[string]any) error {
	return updateFields(ctx, r, collection, id, fields)
}

// Subscribe listens on the document channel. The snapshot is read after
// the subscription is confirmed so no commit falls between the two.
func (r *Redis) Subscribe(ctx context.Context, collection, id string, fn func(Document)) (func(), error) {
	k := docKey{collection, id}
	ps := r.rdb.Subscribe(ctx, r.chanKey(k))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", k, err)
	}
	doc, _, err := r.load(ctx, k)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	done := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }
	msgs := ps.Channel()
	go func() {
		defer ps.Close()
		if doc != nil {
			fn(doc)
		}
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case <-done:
					return
				default:
				}
				var next Document
				if err := json.Unmarshal([]byte(msg.Payload), &next); err != nil {
					log.Warn().Err(err).Str("key", k.String()).Msg("redis: bad document payload")
					continue
				}
				fn(next)
			}
		}
	}()
	return cancel, nil
}

// List scans for every document of collection.
func (r *Redis) List(ctx context.Context, collection string) ([]string, error) {
	prefix := r.prefix + "doc:" + collection + ":"
	var ids []string
	iter := r.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), prefix))
	}
	return ids, iter.Err()
}

// Close closes the client.
func (r *Redis) Close() error { return r.rdb.Close() }

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
	_ Store = (*Redis)(nil)
)
