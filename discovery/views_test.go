package discovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

type fakePresence map[string]bool

func (f fakePresence) Online(id string) (bool, bool) {
	v, ok := f[id]
	return v, ok
}

func TestBuildStates(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := DefaultFilterState()

	t.Run("Not loaded yet", func(t *testing.T) {
		v := Build(LoadResult{}, f, BuildOptions{Now: clock})
		assert.Equal(t, StateLoading, v.State)
		assert.Equal(t, MessageLoading, v.Message)
	})

	t.Run("Empty result is not an error", func(t *testing.T) {
		v := Build(LoadResult{Loaded: true, FetchedAt: now}, f, BuildOptions{Now: clock})
		assert.Equal(t, StateEmpty, v.State)
		assert.Equal(t, MessageEmpty, v.Message)
		assert.False(t, v.Retryable)
		assert.NotNil(t, v.Partners)
	})

	t.Run("Failed fetch is never reported as empty", func(t *testing.T) {
		v := Build(LoadResult{Loaded: true, Err: errors.New("dial tcp: connection refused")}, f, BuildOptions{Now: clock})
		assert.Equal(t, StateFailed, v.State)
		assert.Equal(t, MessageFailed, v.Message)
		assert.True(t, v.Retryable)
		assert.Empty(t, v.Partners)
	})

	t.Run("Failed refresh within max age shows stale data", func(t *testing.T) {
		res := LoadResult{
			Loaded:    true,
			Partners:  []partner.Partner{p("1", 1)},
			Err:       errors.New("timeout"),
			FetchedAt: now.Add(-time.Minute),
		}
		v := Build(res, f, BuildOptions{Now: clock, MaxAge: 5 * time.Minute})
		assert.Equal(t, StateReady, v.State)
		assert.True(t, v.Stale)
		assert.Contains(t, v.Warnings, "timeout")
		assert.Len(t, v.Partners, 1)
	})

	t.Run("Failed refresh beyond max age fails", func(t *testing.T) {
		res := LoadResult{
			Loaded:    true,
			Partners:  []partner.Partner{p("1", 1)},
			Err:       errors.New("timeout"),
			FetchedAt: now.Add(-10 * time.Minute),
		}
		v := Build(res, f, BuildOptions{Now: clock, MaxAge: 5 * time.Minute})
		assert.Equal(t, StateFailed, v.State)
		assert.Empty(t, v.Partners)
	})

	t.Run("Everything filtered out is empty", func(t *testing.T) {
		res := LoadResult{Loaded: true, Partners: []partner.Partner{p("1", 40)}, FetchedAt: now}
		v := Build(res, f, BuildOptions{Now: clock})
		assert.Equal(t, StateEmpty, v.State)
		assert.Equal(t, 1, v.Summary.Total)
	})
}

func TestBuildViews(t *testing.T) {
	ps := []partner.Partner{
		{ID: "1", Name: "Ana", Distance: partner.Km(6), MatchScore: 60},
		{ID: "2", Name: "Bo", Distance: partner.Km(1.5), MatchScore: 80},
		{ID: "3", Name: "Cas", Online: true, Distance: partner.Km(0.5), MatchScore: 40},
		{ID: "4", Name: "Dee"},
	}
	f := DefaultFilterState()
	f.MaxDistanceKm = 10

	v := Build(LoadResult{Loaded: true, Partners: ps}, f, BuildOptions{
		Sort:     SortDistance,
		Presence: fakePresence{"2": true, "3": false},
	})

	require.Equal(t, StateReady, v.State)
	assert.Equal(t, []string{"3", "2", "1"}, ids(v.Partners))
	assert.Equal(t, []string{"2"}, ids(v.OnlineNearby), "presence overrides the fetched flag")
	assert.Equal(t, Summary{
		Total:           4,
		WithinRadius:    3,
		Online:          1,
		OnlineNearby:    1,
		AvgMatchScore:   45,
		OnlinePercent:   25,
		UnknownDistance: 1,
	}, v.Summary)
	assert.True(t, ps[2].Online, "input slice is not mutated")
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil, 10))
}
