package pgsource

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/nearby"
	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

const (
	maxCandidates = 200
	newUserWindow = 14 * 24 * time.Hour
)

// candidateQuery returns profiles with a position, their distance from the
// viewer ($2, $3) and whether they were seen recently. A radius ($4) of zero
// means unbounded.
const candidateQuery = `
	SELECT * FROM (
		SELECT p.user_id,
		       COALESCE(p.display_name, ''),
		       COALESCE(p.avatar_url, ''),
		       COALESCE(u.last_online > NOW() - INTERVAL '` + onlineWindow + `', FALSE),
		       COALESCE(p.availability_status, ''),
		       COALESCE(p.meeting_preference, ''),
		       p.location_lat,
		       p.location_lon,
		       p.created_at,
		       6371 * 2 * ASIN(SQRT(
		           POWER(SIN(RADIANS(p.location_lat - $2) / 2), 2) +
		           COS(RADIANS($2)) * COS(RADIANS(p.location_lat)) *
		           POWER(SIN(RADIANS(p.location_lon - $3) / 2), 2)
		       )) AS distance_km
		FROM profiles p
		JOIN users u ON u.id = p.user_id
		WHERE p.user_id <> $1
		  AND p.location_lat IS NOT NULL
		  AND p.location_lon IS NOT NULL
		  AND ($5::text = '' OR p.availability_status = $5::text
		       OR ($5::text = 'this_week' AND p.availability_status = 'available'))
		  AND (cardinality($6::text[]) = 0 OR EXISTS (
		       SELECT 1 FROM user_languages l
		       WHERE l.user_id = p.user_id AND lower(l.language) = ANY($6)))
	) c
	WHERE $4::float8 <= 0 OR c.distance_km <= $4::float8
	ORDER BY c.distance_km
	LIMIT $7
`

type candidateFilter struct {
	radiusKm     float64
	availability string
	languages    []string
}

// candidates runs candidateQuery, attaches languages and scores each row.
func (s *Store) candidates(ctx context.Context, viewer partner.Coordinates, f candidateFilter) ([]partner.Partner, error) {
	langs := f.languages
	if langs == nil {
		langs = []string{}
	}
	rows, err := s.db.QueryContext(ctx, candidateQuery,
		s.userID, viewer.Lat, viewer.Lng, f.radiusKm, f.availability, pq.Array(langs), maxCandidates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ps []partner.Partner
	for rows.Next() {
		var (
			p        partner.Partner
			loc      partner.Coordinates
			created  sql.NullTime
			distance float64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.AvatarURL, &p.Online, &p.Availability,
			&p.MeetingPreference, &loc.Lat, &loc.Lng, &created, &distance); err != nil {
			return nil, err
		}
		p.Location = &loc
		p.Distance = partner.Km(distance)
		if created.Valid {
			t := created.Time
			p.JoinedAt = &t
		}
		ps = append(ps, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	viewerLangs, err := s.loadLanguages(ctx, ps)
	if err != nil {
		return nil, fmt.Errorf("load languages: %w", err)
	}
	for i := range ps {
		ps[i].MatchScore = matchScore(viewerLangs, ps[i].Languages, ps[i].DistanceKm(), f.radiusKm)
	}
	return ps, nil
}

// FetchNearby returns candidates within the query radius, nearest first.
func (s *Store) FetchNearby(ctx context.Context, q nearby.Query) ([]partner.Partner, error) {
	viewer, err := s.viewerLocation(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch nearby: %w", err)
	}
	ps, err := s.candidates(ctx, viewer, candidateFilter{
		radiusKm:     q.MaxDistanceKm,
		availability: q.Availability,
		languages:    q.Languages,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch nearby: %w", err)
	}
	return ps, nil
}

// FetchDiscoverFeed derives the feed lists from one unbounded candidate
// query: best matches, recently seen users and recent sign-ups.
func (s *Store) FetchDiscoverFeed(ctx context.Context, q nearby.FeedQuery) (nearby.Feed, error) {
	f := candidateFilter{}
	if q.Language != "" {
		f.languages = []string{q.Language}
	}
	if q.AvailabilityOnly {
		f.availability = nearby.AvailabilityAvailable
	}
	viewer, err := s.viewerLocation(ctx)
	if err != nil {
		return nearby.Feed{}, fmt.Errorf("discover feed: %w", err)
	}
	ps, err := s.candidates(ctx, viewer, f)
	if err != nil {
		return nearby.Feed{}, fmt.Errorf("discover feed: %w", err)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = nearby.DefaultFeedLimit
	}

	recommended := append([]partner.Partner(nil), ps...)
	sort.SliceStable(recommended, func(i, j int) bool {
		return recommended[i].MatchScore > recommended[j].MatchScore
	})

	var active, fresh []partner.Partner
	cutoff := s.now().Add(-newUserWindow)
	for _, p := range ps {
		if p.Online {
			active = append(active, p)
		}
		if p.JoinedAt != nil && p.JoinedAt.After(cutoff) {
			fresh = append(fresh, p)
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].JoinedAt.After(*fresh[j].JoinedAt)
	})

	sessions, err := s.upcomingSessions(ctx, viewer, q.Language, limit)
	if err != nil {
		return nearby.Feed{}, fmt.Errorf("discover feed: %w", err)
	}

	return nearby.Feed{
		Recommended: head(recommended, limit),
		Active:      head(active, limit),
		New:         head(fresh, limit),
		Sessions:    sessions,
	}, nil
}

func (s *Store) upcomingSessions(ctx context.Context, viewer partner.Coordinates, language string, limit int) ([]partner.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.title, COALESCE(e.language, ''), e.starts_at,
		       (SELECT COUNT(*) FROM event_attendees a WHERE a.event_id = e.id),
		       COALESCE(e.capacity, 0), e.location_lat, e.location_lon
		FROM events e
		WHERE e.starts_at > NOW()
		  AND ($1 = '' OR lower(e.language) = $1)
		ORDER BY e.starts_at
		LIMIT $2
	`, language, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []partner.Event
	for rows.Next() {
		var (
			e        partner.Event
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.Title, &e.Language, &e.StartsAt, &e.Attendees, &e.Capacity, &lat, &lon); err != nil {
			return nil, err
		}
		if lat.Valid && lon.Valid {
			e.Distance = partner.Km(partner.Haversine(viewer, partner.Coordinates{Lat: lat.Float64, Lng: lon.Float64}))
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func head(ps []partner.Partner, n int) []partner.Partner {
	if len(ps) > n {
		return ps[:n]
	}
	return ps
}
