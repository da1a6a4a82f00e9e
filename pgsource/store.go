// Package pgsource serves the location and discovery collaborators straight
// from the TaalMeet Postgres schema, for deployments that reach the database
// directly instead of going through the REST and GraphQL gateways.
package pgsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader/v7"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

// ErrNoViewerLocation is returned when the signed-in user has never
// reported a position, so distances cannot be computed.
var ErrNoViewerLocation = errors.New("viewer has no stored location")

// onlineWindow matches the presence ping interval with some slack.
const onlineWindow = "90 seconds"

// Store acts for one user against the database.
type Store struct {
	db     *sql.DB
	userID string
	langs  *dataloader.Loader[string, []partner.Language]
	now    func() time.Time
}

// New creates a store for userID.
func New(db *sql.DB, userID string) *Store {
	return &Store{
		db:     db,
		userID: userID,
		langs: dataloader.NewBatchedLoader(languageBatchFn(db),
			dataloader.WithWait[string, []partner.Language](16*time.Millisecond),
			dataloader.WithCache[string, []partner.Language](&dataloader.NoCache[string, []partner.Language]{}),
		),
		now: time.Now,
	}
}

// withTx runs fn in a read-committed transaction, rolling back on error or
// panic.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// UpdateMyLocation stores the position and marks the user as seen.
func (s *Store) UpdateMyLocation(ctx context.Context, pos partner.Coordinates) error {
	if !pos.Valid() {
		return fmt.Errorf("update my location: invalid coordinates %v", pos)
	}
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE profiles
			SET location_lat = $2, location_lon = $3, location_updated_at = NOW()
			WHERE user_id = $1
		`, s.userID, pos.Lat, pos.Lng)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("no profile for user %s", s.userID)
		}
		_, err = tx.ExecContext(ctx, `UPDATE users SET last_online = NOW() WHERE id = $1`, s.userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("update my location: %w", err)
	}
	return nil
}

// viewerLocation reads the signed-in user's stored position.
func (s *Store) viewerLocation(ctx context.Context) (partner.Coordinates, error) {
	var lat, lon sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT location_lat, location_lon FROM profiles WHERE user_id = $1`, s.userID,
	).Scan(&lat, &lon)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && (!lat.Valid || !lon.Valid)) {
		return partner.Coordinates{}, ErrNoViewerLocation
	}
	if err != nil {
		return partner.Coordinates{}, err
	}
	return partner.Coordinates{Lat: lat.Float64, Lng: lon.Float64}, nil
}
