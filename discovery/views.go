package discovery

import (
	"math"
	"time"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

// State tells the presentation layer which affordance to render.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateEmpty   State = "empty"
	StateFailed  State = "failed"
)

// User-facing copy for the non-ready states.
const (
	MessageLoading = "loading nearby partners"
	MessageEmpty   = "no partners found"
	MessageFailed  = "unable to load nearby partners"
)

// LoadResult is what a fetch round produced. Err is kept separate from an
// empty Partners slice so "fetch failed" never reads as "nobody nearby".
type LoadResult struct {
	Loaded    bool
	Partners  []partner.Partner
	Events    []partner.Event
	Shadowed  []Shadowed
	Err       error
	Warnings  []string
	FetchKey  string
	FetchedAt time.Time
}

// Failed reports whether the round ended in an error.
func (r LoadResult) Failed() bool {
	return r.Err != nil
}

// PresenceSource supplies live online status that overrides the fetched flag.
type PresenceSource interface {
	Online(id string) (online bool, known bool)
}

// SortOrder selects an explicit, stable order for the partner list.
type SortOrder string

const (
	SortSource   SortOrder = "source"
	SortDistance SortOrder = "distance"
	SortMatch    SortOrder = "match"
)

// BuildOptions tune Build.
type BuildOptions struct {
	Sort     SortOrder
	Presence PresenceSource
	// MaxAge is how long previously loaded data may be shown after a failed
	// refresh. Zero disables the grace period.
	MaxAge time.Duration
	Now    func() time.Time
}

// Summary carries the aggregate numbers shown above the list.
type Summary struct {
	Total           int     `json:"total"`
	WithinRadius    int     `json:"within_radius"`
	Online          int     `json:"online"`
	OnlineNearby    int     `json:"online_nearby"`
	AvgMatchScore   float64 `json:"avg_match_score"`
	OnlinePercent   float64 `json:"online_percent"`
	UnknownDistance int     `json:"unknown_distance"`
}

// Views is everything a discovery screen renders for one filter state.
type Views struct {
	State        State             `json:"state"`
	Message      string            `json:"message,omitempty"`
	Retryable    bool              `json:"retryable"`
	Stale        bool              `json:"stale"`
	Filters      FilterState       `json:"filters"`
	Partners     []partner.Partner `json:"partners"`
	OnlineNearby []partner.Partner `json:"online_nearby"`
	Events       []partner.Event   `json:"events"`
	Summary      Summary           `json:"summary"`
	Warnings     []string          `json:"warnings,omitempty"`
	FetchedAt    *time.Time        `json:"fetched_at,omitempty"`
}

// Build derives the screen views from a load result and the active filters.
func Build(res LoadResult, f FilterState, opts BuildOptions) Views {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	v := Views{
		Filters:      f.Clone(),
		Partners:     []partner.Partner{},
		OnlineNearby: []partner.Partner{},
		Events:       []partner.Event{},
		Warnings:     res.Warnings,
	}
	if !res.Loaded {
		v.State = StateLoading
		v.Message = MessageLoading
		return v
	}
	if !res.FetchedAt.IsZero() {
		at := res.FetchedAt
		v.FetchedAt = &at
	}

	if res.Failed() {
		fresh := opts.MaxAge > 0 && !res.FetchedAt.IsZero() && now().Sub(res.FetchedAt) <= opts.MaxAge
		if len(res.Partners) == 0 || !fresh {
			v.State = StateFailed
			v.Message = MessageFailed
			v.Retryable = true
			return v
		}
		v.Stale = true
		v.Retryable = true
		v.Warnings = append(v.Warnings, res.Err.Error())
	}

	merged := withPresence(res.Partners, opts.Presence)
	filtered := Apply(merged, f)
	switch opts.Sort {
	case SortDistance:
		SortByDistance(filtered)
	case SortMatch:
		SortByMatch(filtered)
	}

	v.Partners = filtered
	v.OnlineNearby = Search(OnlineNearby(merged), f.Query)
	if res.Events != nil {
		v.Events = res.Events
	}
	v.Summary = Summarize(merged, f.MaxDistanceKm)

	if len(filtered) == 0 {
		v.State = StateEmpty
		v.Message = MessageEmpty
		return v
	}
	v.State = StateReady
	return v
}

func withPresence(ps []partner.Partner, presence PresenceSource) []partner.Partner {
	out := append([]partner.Partner{}, ps...)
	if presence == nil {
		return out
	}
	for i := range out {
		if online, known := presence.Online(out[i].ID); known {
			out[i].Online = online
		}
	}
	return out
}

// Summarize computes the aggregate numbers over a merged set.
func Summarize(ps []partner.Partner, radiusKm float64) Summary {
	s := Summary{Total: len(ps)}
	if len(ps) == 0 {
		return s
	}
	scoreSum := 0
	for _, p := range ps {
		scoreSum += p.MatchScore
		if p.Online {
			s.Online++
		}
		if IsOnlineNearby(p) {
			s.OnlineNearby++
		}
		if !p.HasDistance() {
			s.UnknownDistance++
		} else if p.DistanceKm() <= radiusKm {
			s.WithinRadius++
		}
	}
	s.AvgMatchScore = round1(float64(scoreSum) / float64(len(ps)))
	s.OnlinePercent = round1(float64(s.Online) / float64(len(ps)) * 100)
	return s
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
