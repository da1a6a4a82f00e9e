package nearby

import (
	"context"
	"strconv"
	"strings"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/discovery"
	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

// Availability values understood by the backend.
const (
	AvailabilityAvailable = "available"
	AvailabilityThisWeek  = "this_week"
)

// Query is the server-side part of a filter state.
type Query struct {
	MaxDistanceKm float64  `json:"max_distance"`
	Languages     []string `json:"languages,omitempty"`
	Availability  string   `json:"availability,omitempty"`
}

// QueryFor maps a filter state onto the backend request parameters.
func QueryFor(f discovery.FilterState) Query {
	q := Query{MaxDistanceKm: f.MaxDistanceKm, Languages: f.NormalizedLanguages()}
	switch f.Availability {
	case discovery.AvailabilityNow:
		q.Availability = AvailabilityAvailable
	case discovery.AvailabilityThisWeek:
		q.Availability = AvailabilityThisWeek
	}
	if len(q.Languages) == 0 {
		q.Languages = nil
	}
	return q
}

// Key is the cache key for q.
func (q Query) Key() string {
	return strconv.FormatFloat(q.MaxDistanceKm, 'f', -1, 64) + "|" + strings.Join(q.Languages, ",") + "|" + q.Availability
}

// FeedQuery parameterizes the discover feed.
type FeedQuery struct {
	Language         string `json:"language,omitempty"`
	AvailabilityOnly bool   `json:"availabilityOnly,omitempty"`
	Limit            int    `json:"limit,omitempty"`
}

// FeedQueryFor derives the feed request for a filter state. The feed takes a
// single language, so it is only narrowed when exactly one is selected.
func FeedQueryFor(f discovery.FilterState, limit int) FeedQuery {
	q := FeedQuery{AvailabilityOnly: f.Availability == discovery.AvailabilityNow, Limit: limit}
	if langs := f.NormalizedLanguages(); len(langs) == 1 {
		q.Language = langs[0]
	}
	return q
}

// Key is the cache key for q.
func (q FeedQuery) Key() string {
	return q.Language + "|" + strconv.FormatBool(q.AvailabilityOnly) + "|" + strconv.Itoa(q.Limit)
}

// Feed is the discover feed: three candidate lists plus upcoming sessions.
type Feed struct {
	Recommended []partner.Partner `json:"recommendedUsers"`
	Active      []partner.Partner `json:"activeUsers"`
	New         []partner.Partner `json:"newUsers"`
	Sessions    []partner.Event   `json:"sessions"`
}

// Source fetches nearby candidates from the backend.
type Source interface {
	FetchNearby(ctx context.Context, q Query) ([]partner.Partner, error)
}

// FeedSource fetches the discover feed from the backend.
type FeedSource interface {
	FetchDiscoverFeed(ctx context.Context, q FeedQuery) (Feed, error)
}
