// Package nearby loads candidate partners and the discover feed for a filter
// state, with per-filter caching and bounded retries.
package nearby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/discovery"
	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

// Config tunes caching and retries. Zero durations and sizes fall back to
// defaults; MaxRetries is capped at DefaultMaxRetries.
type Config struct {
	TTL            time.Duration
	CacheSize      int
	MaxRetries     uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BatchWait      time.Duration
	FeedLimit      int
}

const (
	DefaultTTL        = 5 * time.Minute
	DefaultCacheSize  = 64
	DefaultMaxRetries = 2
	DefaultFeedLimit  = 20
)

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.MaxRetries > DefaultMaxRetries {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.BatchWait <= 0 {
		c.BatchWait = 16 * time.Millisecond
	}
	if c.FeedLimit <= 0 {
		c.FeedLimit = DefaultFeedLimit
	}
	return c
}

func (c Config) retryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: c.MaxRetries, InitialBackoff: c.InitialBackoff, MaxBackoff: c.MaxBackoff}
}

// Fetcher is the client-side request layer for discovery data.
type Fetcher struct {
	cfg    Config
	nearby *cachedLoader[Query, []partner.Partner]
	feed   *cachedLoader[FeedQuery, Feed]
	now    func() time.Time
}

// NewFetcher builds a fetcher. feeds may be nil when the backend has no
// discover feed; only nearby candidates are loaded then.
func NewFetcher(src Source, feeds FeedSource, cfg Config) *Fetcher {
	cfg = cfg.withDefaults()
	f := &Fetcher{cfg: cfg, now: time.Now}
	f.nearby = newCachedLoader("fetch nearby", src.FetchNearby, cfg)
	if feeds != nil {
		f.feed = newCachedLoader("fetch discover feed", feeds.FetchDiscoverFeed, cfg)
	}
	return f
}

// TTL is the configured cache lifetime.
func (f *Fetcher) TTL() time.Duration {
	return f.cfg.TTL
}

// Nearby returns the backend's candidate list for q, as provided.
func (f *Fetcher) Nearby(ctx context.Context, q Query) ([]partner.Partner, error) {
	ps, err := f.nearby.load(ctx, q.Key(), q)
	if err != nil {
		return nil, fmt.Errorf("fetch nearby partners: %w", err)
	}
	return ps, nil
}

// Discover returns the discover feed for q.
func (f *Fetcher) Discover(ctx context.Context, q FeedQuery) (Feed, error) {
	if f.feed == nil {
		return Feed{}, errors.New("discover feed not available")
	}
	feed, err := f.feed.load(ctx, q.Key(), q)
	if err != nil {
		return Feed{}, fmt.Errorf("fetch discover feed: %w", err)
	}
	return feed, nil
}

// Invalidate drops cached answers for a filter state.
func (f *Fetcher) Invalidate(ctx context.Context, filters discovery.FilterState) {
	f.nearby.invalidate(ctx, QueryFor(filters).Key())
	if f.feed != nil {
		f.feed.invalidate(ctx, FeedQueryFor(filters, f.cfg.FeedLimit).Key())
	}
}

// InvalidateAll empties the cache.
func (f *Fetcher) InvalidateAll() {
	f.nearby.invalidateAll()
	if f.feed != nil {
		f.feed.invalidateAll()
	}
}

// Load fetches everything a discovery screen needs for the filters and
// merges it: feed lists first (recommended, active, new), then the nearby
// list. Err is set only when every source failed; a partial failure is
// reported in Warnings next to the data that did load.
func (f *Fetcher) Load(ctx context.Context, filters discovery.FilterState) discovery.LoadResult {
	var (
		wg                 sync.WaitGroup
		feed               Feed
		nearbyPs           []partner.Partner
		feedErr, nearbyErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		nearbyPs, nearbyErr = f.Nearby(ctx, QueryFor(filters))
	}()
	if f.feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed, feedErr = f.Discover(ctx, FeedQueryFor(filters, f.cfg.FeedLimit))
		}()
	}
	wg.Wait()

	res := discovery.LoadResult{FetchKey: filters.FetchKey(), FetchedAt: f.now()}
	var sources []discovery.Source
	if f.feed != nil {
		if feedErr == nil {
			sources = append(sources,
				discovery.Source{Label: discovery.SourceRecommended, Partners: feed.Recommended},
				discovery.Source{Label: discovery.SourceActive, Partners: feed.Active},
				discovery.Source{Label: discovery.SourceNew, Partners: feed.New},
			)
			res.Events = feed.Sessions
		} else {
			res.Warnings = append(res.Warnings, feedErr.Error())
		}
	}
	if nearbyErr == nil {
		sources = append(sources, discovery.Source{Label: discovery.SourceNearby, Partners: nearbyPs})
	} else {
		res.Warnings = append(res.Warnings, nearbyErr.Error())
	}

	if len(sources) == 0 {
		res.Err = errors.Join(nearbyErr, feedErr)
		res.Warnings = nil
		return res
	}
	merged := discovery.MergeSources(sources...)
	res.Partners = merged.Partners
	res.Shadowed = merged.Shadowed
	return res
}
