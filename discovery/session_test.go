package discovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

func recv(t *testing.T, s *Session) Change {
	t.Helper()
	select {
	case c, ok := <-s.Changes():
		require.True(t, ok, "changes channel closed")
		return c
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
	return Change{}
}

func TestSessionInitialChange(t *testing.T) {
	s := NewSession(DefaultFilterState())
	c := recv(t, s)
	assert.Equal(t, uint64(1), c.Generation)
	assert.Equal(t, DefaultFilterState(), c.Filters)
}

func TestSessionUpdate(t *testing.T) {
	s := NewSession(DefaultFilterState())
	recv(t, s)

	t.Run("Valid patch bumps generation", func(t *testing.T) {
		r := 10.0
		f, err := s.Update(FilterPatch{MaxDistanceKm: &r})
		require.NoError(t, err)
		assert.Equal(t, 10.0, f.MaxDistanceKm)
		c := recv(t, s)
		assert.Equal(t, uint64(2), c.Generation)
		assert.Equal(t, 10.0, c.Filters.MaxDistanceKm)
	})

	t.Run("Invalid patch leaves state untouched", func(t *testing.T) {
		bad := Availability("tomorrow")
		_, err := s.Update(FilterPatch{Availability: &bad})
		require.Error(t, err)
		assert.Equal(t, AvailabilityAll, s.Filters().Availability)
		gen, _ := s.Snapshot()
		assert.Equal(t, uint64(2), gen)
	})

	t.Run("Changes coalesce to the latest", func(t *testing.T) {
		a, b := "spa", "dut"
		_, _ = s.Update(FilterPatch{Query: &a})
		_, _ = s.Update(FilterPatch{Query: &b})
		c := recv(t, s)
		assert.Equal(t, "dut", c.Filters.Query)
		assert.Equal(t, uint64(4), c.Generation)
	})

	t.Run("Reset restores defaults", func(t *testing.T) {
		f, err := s.Reset()
		require.NoError(t, err)
		assert.Equal(t, DefaultFilterState(), f)
		recv(t, s)
	})
}

func TestSessionAccept(t *testing.T) {
	s := NewSession(DefaultFilterState())
	c := recv(t, s)
	key := c.Filters.FetchKey()

	t.Run("Stale generation is rejected", func(t *testing.T) {
		q := "x"
		_, err := s.Update(FilterPatch{Query: &q})
		require.NoError(t, err)
		ok := s.Accept(c.Generation, LoadResult{Partners: []partner.Partner{p("old", 1)}, FetchKey: key})
		assert.False(t, ok)
		assert.False(t, s.Result().Loaded)
	})

	latest := recv(t, s)

	t.Run("Current generation is stored", func(t *testing.T) {
		ok := s.Accept(latest.Generation, LoadResult{Partners: []partner.Partner{p("1", 1)}, FetchKey: key, FetchedAt: time.Now()})
		require.True(t, ok)
		assert.True(t, s.Result().Loaded)
		assert.Len(t, s.Result().Partners, 1)
	})

	t.Run("Failure for the same key keeps previous data", func(t *testing.T) {
		require.NoError(t, s.Refresh())
		gen := recv(t, s).Generation
		ok := s.Accept(gen, LoadResult{Err: errors.New("boom"), FetchKey: key})
		require.True(t, ok)
		res := s.Result()
		assert.Len(t, res.Partners, 1)
		assert.EqualError(t, res.Err, "boom")
	})

	t.Run("Changing server-side filters drops the old result", func(t *testing.T) {
		r := 5.0
		_, err := s.Update(FilterPatch{MaxDistanceKm: &r})
		require.NoError(t, err)
		assert.False(t, s.Result().Loaded)
		recv(t, s)
	})

	t.Run("Closed session ignores late results", func(t *testing.T) {
		gen, _ := s.Snapshot()
		s.Close()
		assert.False(t, s.Alive())
		assert.False(t, s.Accept(gen, LoadResult{Partners: []partner.Partner{p("late", 1)}}))
		assert.False(t, s.Result().Loaded)
		_, open := <-s.Changes()
		assert.False(t, open)
		assert.ErrorIs(t, s.Refresh(), ErrSessionClosed)
		s.Close()
	})
}

func TestFilterState(t *testing.T) {
	t.Run("Fetch key ignores local-only fields and language order", func(t *testing.T) {
		a := DefaultFilterState()
		a.Languages = []string{"Spanish", "dutch"}
		b := a.Clone()
		b.Languages = []string{" DUTCH", "spanish", "Spanish"}
		b.Query = "ana"
		b.MinMatchScore = 50
		assert.Equal(t, a.FetchKey(), b.FetchKey())
		assert.Equal(t, "25|dutch,spanish|all", a.FetchKey())
	})

	t.Run("Validate", func(t *testing.T) {
		assert.NoError(t, DefaultFilterState().Validate())
		f := DefaultFilterState()
		f.MaxDistanceKm = 0
		assert.Error(t, f.Validate())
		f = DefaultFilterState()
		f.MinMatchScore = 101
		assert.Error(t, f.Validate())
		f = DefaultFilterState()
		f.MeetingType = "phone"
		assert.Error(t, f.Validate())
	})

	t.Run("Clone shares no slice", func(t *testing.T) {
		a := DefaultFilterState()
		a.Languages = []string{"Dutch"}
		b := a.Clone()
		b.Languages[0] = "French"
		assert.Equal(t, "Dutch", a.Languages[0])
	})
}

func TestSessionStateIsConsistent(t *testing.T) {
	s := NewSession(DefaultFilterState())
	defer s.Close()
	c := <-s.Changes()
	require.True(t, s.Accept(c.Generation, LoadResult{FetchKey: c.Filters.FetchKey()}))

	f, res := s.State()
	assert.Equal(t, f.FetchKey(), res.FetchKey)
	assert.True(t, res.Loaded)
}
