// Package partner holds the canonical records the discovery agent works with.
// Backend responses are normalized into these types at the service boundary,
// so nothing downstream branches on field-name variants.
package partner

import (
	"math"
	"strings"
	"time"
)

// Role says whether a partner teaches or learns a language.
type Role string

const (
	RoleTeaching Role = "teaching"
	RoleLearning Role = "learning"
)

// ParseRole maps the role spellings seen in backend payloads onto a Role.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "teaching", "teach", "native", "offering":
		return RoleTeaching, true
	case "learning", "learn", "target", "practicing":
		return RoleLearning, true
	}
	return "", false
}

// Language is a (language-name, role) pair.
type Language struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Meeting preferences a partner can advertise.
const (
	MeetingInPerson = "in_person"
	MeetingVirtual  = "virtual"
	MeetingBoth     = "both"
)

// AvailabilityAvailable is the availability status that counts as "online"
// for nearby derivation even when the online flag is false.
const AvailabilityAvailable = "available"

// UnknownDistanceKm is the sentinel used wherever a partner has no
// server-provided distance. It is larger than any radius preset.
const UnknownDistanceKm = math.MaxFloat64

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the pair lies within the WGS84 ranges.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lng)
}

// Partner is a candidate language-exchange user surfaced for discovery.
type Partner struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	AvatarURL         string       `json:"avatar_url,omitempty"`
	Online            bool         `json:"is_online"`
	Availability      string       `json:"availability_status,omitempty"`
	Distance          *float64     `json:"distance_km,omitempty"`
	MatchScore        int          `json:"match_score"`
	Languages         []Language   `json:"languages"`
	Location          *Coordinates `json:"location,omitempty"`
	MeetingPreference string       `json:"meeting_preference,omitempty"`
	JoinedAt          *time.Time   `json:"joined_at,omitempty"`
}

// DistanceKm returns the server-provided distance, or UnknownDistanceKm.
func (p Partner) DistanceKm() float64 {
	if p.Distance == nil || math.IsNaN(*p.Distance) || *p.Distance < 0 {
		return UnknownDistanceKm
	}
	return *p.Distance
}

// HasDistance reports whether the backend supplied a usable distance.
func (p Partner) HasDistance() bool {
	return p.DistanceKm() != UnknownDistanceKm
}

// LanguageNames returns the partner's language names in payload order.
func (p Partner) LanguageNames() []string {
	names := make([]string, 0, len(p.Languages))
	for _, l := range p.Languages {
		names = append(names, l.Name)
	}
	return names
}

// Teaches reports whether the partner teaches the language (case-insensitive).
func (p Partner) Teaches(language string) bool {
	return p.hasLanguage(language, RoleTeaching)
}

// Learns reports whether the partner learns the language (case-insensitive).
func (p Partner) Learns(language string) bool {
	return p.hasLanguage(language, RoleLearning)
}

func (p Partner) hasLanguage(language string, role Role) bool {
	for _, l := range p.Languages {
		if l.Role == role && strings.EqualFold(l.Name, language) {
			return true
		}
	}
	return false
}

// ClampScore bounds a match score to 0..100.
func ClampScore(score float64) int {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(math.Round(score))
}

// Km is a convenience for building *float64 distances.
func Km(v float64) *float64 {
	return &v
}

// Event is a language-exchange session or meetup listed in the discover feed.
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Language  string    `json:"language,omitempty"`
	StartsAt  time.Time `json:"starts_at"`
	Attendees int       `json:"attendees"`
	Capacity  int       `json:"capacity,omitempty"`
	Distance  *float64  `json:"distance_km,omitempty"`
}
