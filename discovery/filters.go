package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Availability is the availability mode chosen in the filter panel.
type Availability string

const (
	AvailabilityAll      Availability = "all"
	AvailabilityNow      Availability = "now"
	AvailabilityThisWeek Availability = "this_week"
)

// MeetingType is the meeting-type preference chosen in the filter panel.
type MeetingType string

const (
	MeetingAll      MeetingType = "all"
	MeetingInPerson MeetingType = "in_person"
	MeetingVirtual  MeetingType = "virtual"
)

// RadiusPresets are the distance chips offered by the map screen, in km.
var RadiusPresets = []float64{5, 10, 25, 50}

const (
	DefaultMaxDistanceKm = 25
	MaxDistanceLimitKm   = 500
)

// FilterState is the set of user-chosen discovery constraints.
type FilterState struct {
	MaxDistanceKm float64      `json:"max_distance_km"`
	Languages     []string     `json:"languages"`
	Availability  Availability `json:"availability"`
	MinMatchScore int          `json:"min_match_score"`
	MeetingType   MeetingType  `json:"meeting_type"`
	Query         string       `json:"query"`
}

// DefaultFilterState returns the filters a fresh screen starts with.
func DefaultFilterState() FilterState {
	return FilterState{
		MaxDistanceKm: DefaultMaxDistanceKm,
		Languages:     []string{},
		Availability:  AvailabilityAll,
		MinMatchScore: 0,
		MeetingType:   MeetingAll,
	}
}

// Validate rejects filter values no screen control can produce.
func (f FilterState) Validate() error {
	if f.MaxDistanceKm <= 0 || f.MaxDistanceKm > MaxDistanceLimitKm {
		return fmt.Errorf("max distance must be in (0, %d] km, got %v", MaxDistanceLimitKm, f.MaxDistanceKm)
	}
	switch f.Availability {
	case AvailabilityAll, AvailabilityNow, AvailabilityThisWeek:
	default:
		return fmt.Errorf("unknown availability %q", f.Availability)
	}
	switch f.MeetingType {
	case MeetingAll, MeetingInPerson, MeetingVirtual:
	default:
		return fmt.Errorf("unknown meeting type %q", f.MeetingType)
	}
	if f.MinMatchScore < 0 || f.MinMatchScore > 100 {
		return fmt.Errorf("min match score must be in [0, 100], got %d", f.MinMatchScore)
	}
	return nil
}

// Clone returns a copy that shares no slices with f.
func (f FilterState) Clone() FilterState {
	out := f
	out.Languages = append([]string{}, f.Languages...)
	return out
}

// NormalizedLanguages returns the language set trimmed, lower-cased,
// deduplicated and sorted.
func (f FilterState) NormalizedLanguages() []string {
	seen := make(map[string]struct{}, len(f.Languages))
	out := make([]string, 0, len(f.Languages))
	for _, l := range f.Languages {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// FetchKey identifies the backend request a filter state maps to. Only the
// server-side parameters take part; query text and score are applied locally.
func (f FilterState) FetchKey() string {
	return strconv.FormatFloat(f.MaxDistanceKm, 'f', -1, 64) + "|" +
		strings.Join(f.NormalizedLanguages(), ",") + "|" +
		string(f.Availability)
}

// FilterPatch is a partial update coming from a single user interaction.
// Nil fields are left unchanged.
type FilterPatch struct {
	MaxDistanceKm *float64      `json:"max_distance_km,omitempty"`
	Languages     *[]string     `json:"languages,omitempty"`
	Availability  *Availability `json:"availability,omitempty"`
	MinMatchScore *int          `json:"min_match_score,omitempty"`
	MeetingType   *MeetingType  `json:"meeting_type,omitempty"`
	Query         *string       `json:"query,omitempty"`
}

// Apply returns f with the patch applied.
func (p FilterPatch) Apply(f FilterState) FilterState {
	out := f.Clone()
	if p.MaxDistanceKm != nil {
		out.MaxDistanceKm = *p.MaxDistanceKm
	}
	if p.Languages != nil {
		out.Languages = append([]string{}, (*p.Languages)...)
	}
	if p.Availability != nil {
		out.Availability = *p.Availability
	}
	if p.MinMatchScore != nil {
		out.MinMatchScore = *p.MinMatchScore
	}
	if p.MeetingType != nil {
		out.MeetingType = *p.MeetingType
	}
	if p.Query != nil {
		out.Query = *p.Query
	}
	return out
}
