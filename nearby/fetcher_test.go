package nearby

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/discovery"
	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

type transientErr struct{}

func (transientErr) Error() string   { return "service unavailable" }
func (transientErr) Transient() bool { return true }

type fakeSource struct {
	mu      sync.Mutex
	calls   int
	queries []Query
	fail    []error
	result  []partner.Partner
}

func (s *fakeSource) FetchNearby(_ context.Context, q Query) ([]partner.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.queries = append(s.queries, q)
	if len(s.fail) > 0 {
		err := s.fail[0]
		s.fail = s.fail[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.result, nil
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeFeed struct {
	calls atomic.Int32
	feed  Feed
	err   error
}

func (f *fakeFeed) FetchDiscoverFeed(context.Context, FeedQuery) (Feed, error) {
	f.calls.Add(1)
	return f.feed, f.err
}

func testConfig() Config {
	return Config{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BatchWait:      time.Millisecond,
	}
}

func p(id string, online bool, km float64) partner.Partner {
	return partner.Partner{ID: id, Name: id, Online: online, Distance: partner.Km(km)}
}

func TestFetcherNearby(t *testing.T) {
	ctx := context.Background()

	t.Run("caches per query", func(t *testing.T) {
		src := &fakeSource{result: []partner.Partner{p("a", true, 1)}}
		f := NewFetcher(src, nil, testConfig())
		q := QueryFor(discovery.DefaultFilterState())

		first, err := f.Nearby(ctx, q)
		require.NoError(t, err)
		second, err := f.Nearby(ctx, q)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, src.Calls())
	})

	t.Run("different filters fetch again", func(t *testing.T) {
		src := &fakeSource{}
		f := NewFetcher(src, nil, testConfig())
		_, err := f.Nearby(ctx, Query{MaxDistanceKm: 25})
		require.NoError(t, err)
		_, err = f.Nearby(ctx, Query{MaxDistanceKm: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, src.Calls())
	})

	t.Run("concurrent identical requests share one call", func(t *testing.T) {
		src := &fakeSource{}
		cfg := testConfig()
		cfg.BatchWait = 20 * time.Millisecond
		f := NewFetcher(src, nil, cfg)
		q := Query{MaxDistanceKm: 25}

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.Nearby(ctx, q)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, src.Calls())
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		src := &fakeSource{fail: []error{transientErr{}, transientErr{}}, result: []partner.Partner{p("a", false, 3)}}
		f := NewFetcher(src, nil, testConfig())

		ps, err := f.Nearby(ctx, Query{MaxDistanceKm: 25})
		require.NoError(t, err)
		assert.Len(t, ps, 1)
		assert.Equal(t, 3, src.Calls())
	})

	t.Run("retries are bounded", func(t *testing.T) {
		src := &fakeSource{fail: []error{transientErr{}, transientErr{}, transientErr{}, transientErr{}}}
		f := NewFetcher(src, nil, testConfig())

		_, err := f.Nearby(ctx, Query{MaxDistanceKm: 25})
		require.Error(t, err)
		assert.Equal(t, 3, src.Calls())
	})

	t.Run("permanent failures are not retried or cached", func(t *testing.T) {
		src := &fakeSource{fail: []error{errors.New("bad request")}}
		f := NewFetcher(src, nil, testConfig())
		q := Query{MaxDistanceKm: 25}

		_, err := f.Nearby(ctx, q)
		require.Error(t, err)
		assert.Equal(t, 1, src.Calls())

		_, err = f.Nearby(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, 2, src.Calls())
	})

	t.Run("invalidate forces a refetch", func(t *testing.T) {
		src := &fakeSource{}
		f := NewFetcher(src, nil, testConfig())
		filters := discovery.DefaultFilterState()

		_, err := f.Nearby(ctx, QueryFor(filters))
		require.NoError(t, err)
		f.Invalidate(ctx, filters)
		_, err = f.Nearby(ctx, QueryFor(filters))
		require.NoError(t, err)
		assert.Equal(t, 2, src.Calls())

		f.InvalidateAll()
		_, err = f.Nearby(ctx, QueryFor(filters))
		require.NoError(t, err)
		assert.Equal(t, 3, src.Calls())
	})

	t.Run("entries expire after the ttl", func(t *testing.T) {
		src := &fakeSource{}
		cfg := testConfig()
		cfg.TTL = 30 * time.Millisecond
		f := NewFetcher(src, nil, cfg)
		q := Query{MaxDistanceKm: 25}

		_, err := f.Nearby(ctx, q)
		require.NoError(t, err)
		time.Sleep(80 * time.Millisecond)
		_, err = f.Nearby(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, 2, src.Calls())
	})
}

func TestFetcherLoad(t *testing.T) {
	ctx := context.Background()
	filters := discovery.DefaultFilterState()

	t.Run("merges feed lists before nearby", func(t *testing.T) {
		feed := &fakeFeed{feed: Feed{
			Recommended: []partner.Partner{p("a", false, 5)},
			Active:      []partner.Partner{p("b", true, 1)},
			New:         []partner.Partner{p("c", false, 8)},
			Sessions:    []partner.Event{{ID: "e1", Title: "Dutch coffee"}},
		}}
		src := &fakeSource{result: []partner.Partner{p("a", true, 5), p("d", true, 0.5)}}
		f := NewFetcher(src, feed, testConfig())

		res := f.Load(ctx, filters)
		require.NoError(t, res.Err)
		ids := make([]string, len(res.Partners))
		for i, pp := range res.Partners {
			ids[i] = pp.ID
		}
		assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
		assert.False(t, res.Partners[0].Online, "first source wins")
		require.Len(t, res.Shadowed, 1)
		assert.Equal(t, "a", res.Shadowed[0].ID)
		assert.Len(t, res.Events, 1)
		assert.Equal(t, filters.FetchKey(), res.FetchKey)
		assert.False(t, res.FetchedAt.IsZero())
		assert.Empty(t, res.Warnings)
	})

	t.Run("partial failure becomes a warning", func(t *testing.T) {
		feed := &fakeFeed{err: errors.New("graphql: boom")}
		src := &fakeSource{result: []partner.Partner{p("d", true, 0.5)}}
		f := NewFetcher(src, feed, testConfig())

		res := f.Load(ctx, filters)
		require.NoError(t, res.Err)
		assert.Len(t, res.Partners, 1)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "discover feed")
	})

	t.Run("total failure sets the error", func(t *testing.T) {
		feed := &fakeFeed{err: errors.New("graphql: boom")}
		src := &fakeSource{fail: []error{errors.New("rpc: boom")}}
		f := NewFetcher(src, feed, testConfig())

		res := f.Load(ctx, filters)
		require.Error(t, res.Err)
		assert.True(t, res.Failed())
		assert.Empty(t, res.Partners)
	})

	t.Run("feed lists honour the availability filter in the view", func(t *testing.T) {
		busy := p("busy", false, 1)
		busy.Availability = "busy"
		free := p("free", false, 2)
		free.Availability = AvailabilityThisWeek
		feed := &fakeFeed{feed: Feed{Recommended: []partner.Partner{busy, free}}}
		f := NewFetcher(&fakeSource{}, feed, testConfig())

		week := discovery.DefaultFilterState()
		week.Availability = discovery.AvailabilityThisWeek
		res := f.Load(ctx, week)
		require.NoError(t, res.Err)
		require.Len(t, res.Partners, 2, "the feed is not narrowed server-side for this_week")

		res.Loaded = true
		v := discovery.Build(res, week, discovery.BuildOptions{})
		assert.Equal(t, discovery.StateReady, v.State)
		require.Len(t, v.Partners, 1)
		assert.Equal(t, "free", v.Partners[0].ID)
	})

	t.Run("without a feed only nearby is loaded", func(t *testing.T) {
		src := &fakeSource{result: []partner.Partner{p("d", true, 0.5)}}
		f := NewFetcher(src, nil, testConfig())

		res := f.Load(ctx, filters)
		require.NoError(t, res.Err)
		assert.Len(t, res.Partners, 1)
	})
}
