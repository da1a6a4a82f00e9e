package nearby

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/discovery"
)

func TestQueryFor(t *testing.T) {
	tests := []struct {
		name    string
		filters discovery.FilterState
		want    Query
	}{
		{"defaults", discovery.DefaultFilterState(), Query{MaxDistanceKm: 25}},
		{
			"available now",
			discovery.FilterState{MaxDistanceKm: 5, Availability: discovery.AvailabilityNow, Languages: []string{"Dutch"}},
			Query{MaxDistanceKm: 5, Languages: []string{"dutch"}, Availability: AvailabilityAvailable},
		},
		{
			"this week",
			discovery.FilterState{MaxDistanceKm: 10, Availability: discovery.AvailabilityThisWeek},
			Query{MaxDistanceKm: 10, Availability: AvailabilityThisWeek},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QueryFor(tt.filters))
		})
	}
}

func TestQueryKeyIgnoresClientSideFilters(t *testing.T) {
	a := discovery.DefaultFilterState()
	b := a.Clone()
	b.MinMatchScore = 80
	b.Query = "anna"
	assert.Equal(t, QueryFor(a).Key(), QueryFor(b).Key())
}

func TestFeedQueryFor(t *testing.T) {
	f := discovery.DefaultFilterState()
	f.Languages = []string{"Spanish"}
	f.Availability = discovery.AvailabilityNow
	assert.Equal(t, FeedQuery{Language: "spanish", AvailabilityOnly: true, Limit: 20}, FeedQueryFor(f, 20))

	f.Languages = []string{"Spanish", "Dutch"}
	assert.Empty(t, FeedQueryFor(f, 20).Language)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("bad request")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(fmt.Errorf("read body: %w", io.ErrUnexpectedEOF)))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", transientErr{})))
}
