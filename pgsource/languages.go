package pgsource

import (
	"context"
	"database/sql"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/lib/pq"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

// languageBatchFn loads the language lists of many users in one query.
// Users without languages get an empty list, not an error.
func languageBatchFn(db *sql.DB) dataloader.BatchFunc[string, []partner.Language] {
	return func(ctx context.Context, keys []string) []*dataloader.Result[[]partner.Language] {
		results := make([]*dataloader.Result[[]partner.Language], len(keys))
		keyMap := make(map[string][]int, len(keys))
		for i, key := range keys {
			keyMap[key] = append(keyMap[key], i)
			results[i] = &dataloader.Result[[]partner.Language]{Data: []partner.Language{}}
		}
		if len(keys) == 0 {
			return results
		}

		rows, err := db.QueryContext(ctx, `
			SELECT user_id, language, role
			FROM user_languages
			WHERE user_id = ANY($1)
			ORDER BY user_id, role DESC, language
		`, pq.Array(keys))
		if err != nil {
			for i := range results {
				results[i].Error = err
			}
			return results
		}
		defer rows.Close()

		for rows.Next() {
			var userID, name, rawRole string
			if err := rows.Scan(&userID, &name, &rawRole); err != nil {
				for i := range results {
					results[i].Error = err
				}
				return results
			}
			role, ok := partner.ParseRole(rawRole)
			if !ok {
				continue
			}
			for _, idx := range keyMap[userID] {
				results[idx].Data = append(results[idx].Data, partner.Language{Name: name, Role: role})
			}
		}
		if err := rows.Err(); err != nil {
			for i := range results {
				results[i].Error = err
			}
		}
		return results
	}
}

// loadLanguages attaches language lists to ps and returns the viewer's own.
func (s *Store) loadLanguages(ctx context.Context, ps []partner.Partner) ([]partner.Language, error) {
	keys := make([]string, 0, len(ps)+1)
	keys = append(keys, s.userID)
	for _, p := range ps {
		keys = append(keys, p.ID)
	}
	lists, errs := s.langs.LoadMany(ctx, keys)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	for i := range ps {
		ps[i].Languages = lists[i+1]
	}
	return lists[0], nil
}
