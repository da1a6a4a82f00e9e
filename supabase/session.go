package supabase

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession is returned when a call needs the user's session but none is
// set or it has expired.
var ErrNoSession = errors.New("no active session")

// Session is the signed-in user's access token together with the claims the
// agent reads from it. The token is verified by the backend, not here.
type Session struct {
	AccessToken string
	UserID      string
	ExpiresAt   time.Time
}

// ParseSession reads sub and exp from a backend access token.
func ParseSession(token string) (Session, error) {
	if token == "" {
		return Session{}, ErrNoSession
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Session{}, fmt.Errorf("parse access token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Session{}, fmt.Errorf("access token has no subject")
	}
	s := Session{AccessToken: token, UserID: sub}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.ExpiresAt = exp.Time
	}
	return s, nil
}

// Active reports whether the session can still be used at now.
func (s Session) Active(now time.Time) bool {
	if s.AccessToken == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}
