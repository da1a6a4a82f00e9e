package supabase

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

// firstOf returns the first path that is present and not null.
func firstOf(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// partnersFromJSON accepts a plain array, a {"data": [...]} wrapper or a
// GraphQL connection with edges. Records without an id are skipped.
func partnersFromJSON(r gjson.Result) []partner.Partner {
	items := listItems(r)
	out := make([]partner.Partner, 0, len(items))
	for _, item := range items {
		p, ok := partnerFromJSON(item)
		if ok {
			out = append(out, p)
		}
	}
	return out
}

func listItems(r gjson.Result) []gjson.Result {
	switch {
	case r.IsArray():
		return r.Array()
	case r.Get("edges").IsArray():
		return r.Get("edges.#.node").Array()
	case r.Get("data").IsArray():
		return r.Get("data").Array()
	}
	return nil
}

func partnerFromJSON(r gjson.Result) (partner.Partner, bool) {
	if !r.IsObject() {
		return partner.Partner{}, false
	}
	id := firstOf(r, "id", "user_id", "userId").String()
	if id == "" {
		return partner.Partner{}, false
	}
	p := partner.Partner{
		ID:                id,
		Name:              firstOf(r, "name", "display_name", "displayName", "full_name", "fullName").String(),
		AvatarURL:         firstOf(r, "avatar_url", "avatarUrl", "avatar").String(),
		Online:            firstOf(r, "is_online", "isOnline", "online").Bool(),
		Availability:      firstOf(r, "availability_status", "availabilityStatus", "availability").String(),
		MeetingPreference: normalizeMeeting(firstOf(r, "meeting_preference", "meetingPreference", "meeting_type", "meetingType").String()),
		Languages:         languagesFromJSON(r),
	}
	if d := firstOf(r, "distance", "distance_km", "distanceKm"); d.Type == gjson.Number && d.Float() >= 0 {
		p.Distance = partner.Km(d.Float())
	}
	if s := firstOf(r, "match_score", "matchScore", "compatibility"); s.Type == gjson.Number {
		p.MatchScore = partner.ClampScore(s.Float())
	}
	if c, ok := coordinatesFromJSON(r); ok {
		p.Location = &c
	}
	if t, ok := timeFromJSON(firstOf(r, "joined_at", "joinedAt", "created_at", "createdAt")); ok {
		p.JoinedAt = &t
	}
	return p, true
}

func languagesFromJSON(r gjson.Result) []partner.Language {
	var langs []partner.Language
	for _, l := range firstOf(r, "languages", "user_languages", "userLanguages").Array() {
		if l.Type == gjson.String {
			if name := strings.TrimSpace(l.String()); name != "" {
				langs = append(langs, partner.Language{Name: name})
			}
			continue
		}
		name := strings.TrimSpace(firstOf(l, "name", "language", "language_name", "languageName").String())
		if name == "" {
			continue
		}
		role, _ := partner.ParseRole(firstOf(l, "role", "type", "kind").String())
		langs = append(langs, partner.Language{Name: name, Role: role})
	}
	for _, l := range firstOf(r, "teaching", "teaching_languages", "teachingLanguages").Array() {
		if name := strings.TrimSpace(l.String()); name != "" {
			langs = append(langs, partner.Language{Name: name, Role: partner.RoleTeaching})
		}
	}
	for _, l := range firstOf(r, "learning", "learning_languages", "learningLanguages").Array() {
		if name := strings.TrimSpace(l.String()); name != "" {
			langs = append(langs, partner.Language{Name: name, Role: partner.RoleLearning})
		}
	}
	return langs
}

func coordinatesFromJSON(r gjson.Result) (partner.Coordinates, bool) {
	lat := firstOf(r, "lat", "latitude", "location.lat", "location.latitude")
	lng := firstOf(r, "lng", "lon", "longitude", "location.lng", "location.lon", "location.longitude")
	if lat.Type != gjson.Number || lng.Type != gjson.Number {
		return partner.Coordinates{}, false
	}
	c := partner.Coordinates{Lat: lat.Float(), Lng: lng.Float()}
	return c, c.Valid()
}

func timeFromJSON(v gjson.Result) (time.Time, bool) {
	if v.Type != gjson.String {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07"} {
		if t, err := time.Parse(layout, v.String()); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func normalizeMeeting(s string) string {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "in_person", "inperson", "offline":
		return partner.MeetingInPerson
	case "virtual", "online", "video":
		return partner.MeetingVirtual
	case "both", "any", "either":
		return partner.MeetingBoth
	}
	return ""
}

func eventsFromJSON(r gjson.Result) []partner.Event {
	items := listItems(r)
	out := make([]partner.Event, 0, len(items))
	for _, item := range items {
		id := item.Get("id").String()
		if id == "" {
			continue
		}
		e := partner.Event{
			ID:        id,
			Title:     firstOf(item, "title", "name").String(),
			Language:  item.Get("language").String(),
			Attendees: int(firstOf(item, "attendees", "attendee_count", "attendeeCount").Int()),
			Capacity:  int(firstOf(item, "capacity", "max_attendees", "maxAttendees").Int()),
		}
		if t, ok := timeFromJSON(firstOf(item, "starts_at", "startsAt", "start_time", "startTime")); ok {
			e.StartsAt = t
		}
		if d := firstOf(item, "distance", "distance_km", "distanceKm"); d.Type == gjson.Number && d.Float() >= 0 {
			e.Distance = partner.Km(d.Float())
		}
		out = append(out, e)
	}
	return out
}
