package nearby

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
)

// ttlCache is a dataloader cache whose entries expire after a fixed TTL.
type ttlCache[V any] struct {
	lru *expirable.LRU[string, dataloader.Thunk[V]]
}

func newTTLCache[V any](size int, ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{lru: expirable.NewLRU[string, dataloader.Thunk[V]](size, nil, ttl)}
}

func (c *ttlCache[V]) Get(_ context.Context, key string) (dataloader.Thunk[V], bool) {
	return c.lru.Get(key)
}

func (c *ttlCache[V]) Set(_ context.Context, key string, value dataloader.Thunk[V]) {
	c.lru.Add(key, value)
}

func (c *ttlCache[V]) Delete(_ context.Context, key string) bool {
	return c.lru.Remove(key)
}

func (c *ttlCache[V]) Clear() {
	c.lru.Purge()
}

// cachedLoader coalesces concurrent requests for the same parameters into a
// single backend call and caches successful answers per key.
type cachedLoader[Q any, V any] struct {
	name   string
	fetch  func(ctx context.Context, q Q) (V, error)
	retry  RetryPolicy
	params sync.Map // key -> Q
	dl     *dataloader.Loader[string, V]
}

func newCachedLoader[Q any, V any](name string, fetch func(context.Context, Q) (V, error), cfg Config) *cachedLoader[Q, V] {
	l := &cachedLoader[Q, V]{name: name, fetch: fetch, retry: cfg.retryPolicy()}
	l.dl = dataloader.NewBatchedLoader(l.batch,
		dataloader.WithCache[string, V](newTTLCache[V](cfg.CacheSize, cfg.TTL)),
		dataloader.WithWait[string, V](cfg.BatchWait),
	)
	return l
}

func (l *cachedLoader[Q, V]) load(ctx context.Context, key string, q Q) (V, error) {
	l.params.Store(key, q)
	v, err := l.dl.Load(ctx, key)()
	if err != nil {
		// failures are never served from cache
		l.dl.Clear(ctx, key)
	}
	return v, err
}

func (l *cachedLoader[Q, V]) invalidate(ctx context.Context, key string) {
	l.dl.Clear(ctx, key)
}

func (l *cachedLoader[Q, V]) invalidateAll() {
	l.dl.ClearAll()
}

func (l *cachedLoader[Q, V]) batch(ctx context.Context, keys []string) []*dataloader.Result[V] {
	results := make([]*dataloader.Result[V], len(keys))
	var g errgroup.Group
	g.SetLimit(4)
	for i, key := range keys {
		raw, ok := l.params.Load(key)
		if !ok {
			results[i] = &dataloader.Result[V]{Error: fmt.Errorf("%s: no parameters for key %q", l.name, key)}
			continue
		}
		q := raw.(Q)
		g.Go(func() error {
			v, err := Retry(ctx, l.retry, l.name, func(ctx context.Context) (V, error) {
				return l.fetch(ctx, q)
			})
			results[i] = &dataloader.Result[V]{Data: v, Error: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
