package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/nearby"
	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

// updateRetry allows a single retry of a failed location push.
var updateRetry = nearby.RetryPolicy{MaxRetries: 1, InitialBackoff: time.Second, MaxBackoff: 2 * time.Second}

// UpdateMyLocation records the user's position on the backend.
func (c *Client) UpdateMyLocation(ctx context.Context, pos partner.Coordinates) error {
	_, err := nearby.Retry(ctx, c.retry, "update location", func(ctx context.Context) ([]byte, error) {
		return c.post(ctx, "/rest/v1/rpc/update_my_location", map[string]float64{"lat": pos.Lat, "lng": pos.Lng})
	})
	if err != nil {
		return fmt.Errorf("update my location: %w", err)
	}
	return nil
}

type nearbyParams struct {
	MaxDistance  float64  `json:"max_distance"`
	Languages    []string `json:"languages"`
	Availability *string  `json:"availability"`
}

// FetchNearby calls the get_nearby_users RPC. Retries are left to the caller.
func (c *Client) FetchNearby(ctx context.Context, q nearby.Query) ([]partner.Partner, error) {
	params := nearbyParams{MaxDistance: q.MaxDistanceKm, Languages: q.Languages}
	if params.Languages == nil {
		params.Languages = []string{}
	}
	if q.Availability != "" {
		params.Availability = &q.Availability
	}
	body, err := c.post(ctx, "/rest/v1/rpc/get_nearby_users", params)
	if err != nil {
		return nil, fmt.Errorf("get nearby users: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("get nearby users: malformed response")
	}
	return partnersFromJSON(gjson.ParseBytes(body)), nil
}
