package supabase

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/nearby"
)

const discoverFeedQuery = `
query DiscoverFeed($language: String, $availabilityOnly: Boolean, $limit: Int) {
  discoverFeed(language: $language, availabilityOnly: $availabilityOnly, limit: $limit) {
    recommendedUsers { ...PartnerFields }
    activeUsers { ...PartnerFields }
    newUsers { ...PartnerFields }
    sessions { id title language startsAt attendees capacity distance }
  }
}

fragment PartnerFields on Partner {
  id
  name
  avatarUrl
  isOnline
  availabilityStatus
  distance
  matchScore
  meetingPreference
  lat
  lng
  createdAt
  languages { name role }
}
`

// discoverFeedOperation is the operation name sent with the query. Parsing
// at init rejects a malformed document before any request is made.
var discoverFeedOperation = mustOperationName(discoverFeedQuery)

func mustOperationName(query string) string {
	doc, err := parser.ParseQuery(&ast.Source{Name: "discover_feed.graphql", Input: query})
	if err != nil {
		panic(fmt.Sprintf("supabase: invalid discover feed query: %v", err))
	}
	if len(doc.Operations) != 1 {
		panic("supabase: discover feed document must hold exactly one operation")
	}
	return doc.Operations[0].Name
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

// FetchDiscoverFeed loads the recommended, active and new lists plus
// upcoming sessions in one GraphQL round trip.
func (c *Client) FetchDiscoverFeed(ctx context.Context, q nearby.FeedQuery) (nearby.Feed, error) {
	vars := map[string]any{"availabilityOnly": q.AvailabilityOnly}
	if q.Language != "" {
		vars["language"] = q.Language
	}
	if q.Limit > 0 {
		vars["limit"] = q.Limit
	}
	body, err := c.post(ctx, "/graphql/v1", graphQLRequest{
		Query:         discoverFeedQuery,
		OperationName: discoverFeedOperation,
		Variables:     vars,
	})
	if err != nil {
		return nearby.Feed{}, fmt.Errorf("discover feed: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nearby.Feed{}, fmt.Errorf("discover feed: malformed response")
	}
	r := gjson.ParseBytes(body)
	if errs := r.Get("errors"); errs.IsArray() && len(errs.Array()) > 0 {
		return nearby.Feed{}, fmt.Errorf("discover feed: %w", &APIError{
			Status:  200,
			Code:    errs.Get("0.extensions.code").String(),
			Message: errs.Get("0.message").String(),
		})
	}
	feed := r.Get("data.discoverFeed")
	if !feed.Exists() {
		return nearby.Feed{}, fmt.Errorf("discover feed: response has no data")
	}
	return nearby.Feed{
		Recommended: partnersFromJSON(firstOf(feed, "recommendedUsers", "recommended_users", "recommended")),
		Active:      partnersFromJSON(firstOf(feed, "activeUsers", "active_users", "active")),
		New:         partnersFromJSON(firstOf(feed, "newUsers", "new_users", "new")),
		Sessions:    eventsFromJSON(firstOf(feed, "sessions", "events")),
	}, nil
}
