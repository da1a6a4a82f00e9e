package pgsource

import (
	"strings"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

// Weights of the match score. A full language exchange in both directions
// is worth 80 points; proximity adds up to 20 on top.
const (
	exchangeWeight  = 40
	proximityWeight = 20
	closeBonusKm    = 5
)

// matchScore rates how well a candidate complements the viewer: the
// candidate teaches what the viewer learns and learns what the viewer
// teaches. Closer candidates within radiusKm score higher.
func matchScore(viewer, candidate []partner.Language, distanceKm, radiusKm float64) int {
	teaches := roleSet(candidate, partner.RoleTeaching)
	learns := roleSet(candidate, partner.RoleLearning)

	score := 0
	for _, l := range viewer {
		name := strings.ToLower(l.Name)
		switch {
		case l.Role == partner.RoleLearning && teaches[name]:
			score += exchangeWeight
		case l.Role == partner.RoleTeaching && learns[name]:
			score += exchangeWeight
		}
	}
	if score > 2*exchangeWeight {
		score = 2 * exchangeWeight
	}

	switch {
	case distanceKm < 0:
	case radiusKm > 0 && distanceKm <= radiusKm:
		score += int(proximityWeight * (1 - distanceKm/radiusKm))
	case radiusKm <= 0 && distanceKm <= closeBonusKm:
		score += proximityWeight / 2
	}
	return partner.ClampScore(float64(score))
}

func roleSet(langs []partner.Language, role partner.Role) map[string]bool {
	set := make(map[string]bool, len(langs))
	for _, l := range langs {
		if l.Role == role {
			set[strings.ToLower(l.Name)] = true
		}
	}
	return set
}
