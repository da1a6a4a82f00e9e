// Package discovery merges candidate lists from the backend into the views
// the discovery screens render: deduplicated, filtered, optionally clustered.
package discovery

import (
	"log"
	"sort"
	"strings"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

// OnlineNearbyThresholdKm is the strict upper bound for "online nearby".
const OnlineNearbyThresholdKm = 2.0

// Source labels, in merge precedence order.
const (
	SourceRecommended = "recommended"
	SourceActive      = "active"
	SourceNew         = "new"
	SourceNearby      = "nearby"
)

// Source is one labelled candidate list.
type Source struct {
	Label    string
	Partners []partner.Partner
}

// Shadowed records a duplicate that lost the merge while carrying different
// data than the kept entry. The merge keeps the first-seen record even when
// a later list has a fresher online flag or distance.
type Shadowed struct {
	ID          string
	KeptFrom    string
	DroppedFrom string
	Fields      []string
}

// MergeResult is the deduplicated candidate set plus what was discarded.
type MergeResult struct {
	Partners []partner.Partner
	Origin   map[string]string
	Shadowed []Shadowed
}

// Merge combines the recommended, active and new lists in that precedence
// order. The first instance of an id wins.
func Merge(recommended, active, newUsers []partner.Partner) []partner.Partner {
	return MergeSources(
		Source{Label: SourceRecommended, Partners: recommended},
		Source{Label: SourceActive, Partners: active},
		Source{Label: SourceNew, Partners: newUsers},
	).Partners
}

// MergeSources merges any number of labelled lists, first-source-wins.
// Entries without an id are dropped.
func MergeSources(sources ...Source) MergeResult {
	res := MergeResult{Origin: make(map[string]string)}
	kept := make(map[string]int)
	for _, src := range sources {
		for _, p := range src.Partners {
			if p.ID == "" {
				continue
			}
			if idx, ok := kept[p.ID]; ok {
				if fields := differingFields(res.Partners[idx], p); len(fields) > 0 {
					res.Shadowed = append(res.Shadowed, Shadowed{
						ID:          p.ID,
						KeptFrom:    res.Origin[p.ID],
						DroppedFrom: src.Label,
						Fields:      fields,
					})
				}
				continue
			}
			kept[p.ID] = len(res.Partners)
			res.Origin[p.ID] = src.Label
			res.Partners = append(res.Partners, p)
		}
	}
	for _, s := range res.Shadowed {
		if containsString(s.Fields, "online") || containsString(s.Fields, "distance") {
			log.Printf("discovery: partner %s from %q shadowed by %q copy, differing fields %v", s.ID, s.DroppedFrom, s.KeptFrom, s.Fields)
		}
	}
	return res
}

func differingFields(kept, dropped partner.Partner) []string {
	var fields []string
	if kept.Online != dropped.Online {
		fields = append(fields, "online")
	}
	if kept.Availability != dropped.Availability {
		fields = append(fields, "availability")
	}
	if kept.HasDistance() != dropped.HasDistance() || kept.DistanceKm() != dropped.DistanceKm() {
		fields = append(fields, "distance")
	}
	if kept.MatchScore != dropped.MatchScore {
		fields = append(fields, "match_score")
	}
	return fields
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// WithinRadius keeps partners whose server-provided distance is <= radiusKm.
// Unknown distances never pass.
func WithinRadius(ps []partner.Partner, radiusKm float64) []partner.Partner {
	out := make([]partner.Partner, 0, len(ps))
	for _, p := range ps {
		if p.HasDistance() && p.DistanceKm() <= radiusKm {
			out = append(out, p)
		}
	}
	return out
}

// IsOnlineNearby reports whether p is reachable right now and close by.
func IsOnlineNearby(p partner.Partner) bool {
	reachable := p.Online || strings.EqualFold(p.Availability, partner.AvailabilityAvailable)
	return reachable && p.DistanceKm() < OnlineNearbyThresholdKm
}

// OnlineNearby keeps partners for which IsOnlineNearby holds.
func OnlineNearby(ps []partner.Partner) []partner.Partner {
	out := make([]partner.Partner, 0, len(ps))
	for _, p := range ps {
		if IsOnlineNearby(p) {
			out = append(out, p)
		}
	}
	return out
}

// Search keeps partners whose name or any language name contains query,
// case-insensitively. A blank query keeps everything.
func Search(ps []partner.Partner, query string) []partner.Partner {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return append([]partner.Partner{}, ps...)
	}
	out := make([]partner.Partner, 0, len(ps))
	for _, p := range ps {
		if matchesQuery(p, q) {
			out = append(out, p)
		}
	}
	return out
}

func matchesQuery(p partner.Partner, q string) bool {
	if strings.Contains(strings.ToLower(p.Name), q) {
		return true
	}
	for _, l := range p.Languages {
		if strings.Contains(strings.ToLower(l.Name), q) {
			return true
		}
	}
	return false
}

// MinScore keeps partners with a match score of at least min.
func MinScore(ps []partner.Partner, min int) []partner.Partner {
	out := make([]partner.Partner, 0, len(ps))
	for _, p := range ps {
		if p.MatchScore >= min {
			out = append(out, p)
		}
	}
	return out
}

// SpeaksAny keeps partners with at least one language in langs. An empty set
// keeps everything.
func SpeaksAny(ps []partner.Partner, langs []string) []partner.Partner {
	if len(langs) == 0 {
		return append([]partner.Partner{}, ps...)
	}
	want := make(map[string]struct{}, len(langs))
	for _, l := range langs {
		want[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}
	out := make([]partner.Partner, 0, len(ps))
	for _, p := range ps {
		for _, l := range p.Languages {
			if _, ok := want[strings.ToLower(l.Name)]; ok {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// MeetsBy keeps partners compatible with the meeting type. Partners that did
// not state a preference, or accept both, always pass.
func MeetsBy(ps []partner.Partner, mt MeetingType) []partner.Partner {
	if mt == MeetingAll || mt == "" {
		return append([]partner.Partner{}, ps...)
	}
	out := make([]partner.Partner, 0, len(ps))
	for _, p := range ps {
		switch p.MeetingPreference {
		case "", partner.MeetingBoth, string(mt):
			out = append(out, p)
		}
	}
	return out
}

// AvailableFor keeps partners matching the availability mode. "now" keeps
// partners who are online or marked available; "this_week" keeps available
// and this_week statuses. The feed lists are not narrowed server-side for
// every mode, so this runs on the merged list.
func AvailableFor(ps []partner.Partner, a Availability) []partner.Partner {
	if a == AvailabilityAll || a == "" {
		return append([]partner.Partner{}, ps...)
	}
	out := make([]partner.Partner, 0, len(ps))
	for _, p := range ps {
		status := strings.ToLower(strings.TrimSpace(p.Availability))
		var ok bool
		switch a {
		case AvailabilityNow:
			ok = p.Online || status == partner.AvailabilityAvailable
		case AvailabilityThisWeek:
			ok = status == partner.AvailabilityAvailable || status == string(AvailabilityThisWeek)
		}
		if ok {
			out = append(out, p)
		}
	}
	return out
}

// Apply runs the full filter pipeline for a filter state: radius,
// availability, match score, languages, meeting type, then search. Order is
// preserved.
func Apply(ps []partner.Partner, f FilterState) []partner.Partner {
	out := WithinRadius(ps, f.MaxDistanceKm)
	out = AvailableFor(out, f.Availability)
	out = MinScore(out, f.MinMatchScore)
	out = SpeaksAny(out, f.Languages)
	out = MeetsBy(out, f.MeetingType)
	return Search(out, f.Query)
}

// SortByDistance sorts in place, nearest first, unknown distances last.
// Ties keep their previous order.
func SortByDistance(ps []partner.Partner) {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].DistanceKm() < ps[j].DistanceKm()
	})
}

// SortByMatch sorts in place, highest score first. Ties keep their order.
func SortByMatch(ps []partner.Partner) {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].MatchScore > ps[j].MatchScore
	})
}
