package location

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

var (
	// ErrPermissionDenied means the device refuses to share its position.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrPositionUnavailable means no fix could be obtained right now.
	ErrPositionUnavailable = errors.New("position unavailable")
)

// Positioner reads the device's current position.
type Positioner interface {
	CurrentPosition(ctx context.Context) (partner.Coordinates, error)
}

// PositionerFunc adapts a function to Positioner.
type PositionerFunc func(ctx context.Context) (partner.Coordinates, error)

func (f PositionerFunc) CurrentPosition(ctx context.Context) (partner.Coordinates, error) {
	return f(ctx)
}

// Static always reports the same coordinate.
type Static partner.Coordinates

func (s Static) CurrentPosition(ctx context.Context) (partner.Coordinates, error) {
	return partner.Coordinates(s), nil
}

// Denied behaves like a device where location access was refused.
type Denied struct{}

func (Denied) CurrentPosition(ctx context.Context) (partner.Coordinates, error) {
	return partner.Coordinates{}, ErrPermissionDenied
}

// HTTPPositioner asks a geolocation endpoint for the current position. The
// response is a JSON object with lat/latitude and lng/lon/longitude.
type HTTPPositioner struct {
	URL    string
	Client *http.Client
}

func (h HTTPPositioner) CurrentPosition(ctx context.Context) (partner.Coordinates, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return partner.Coordinates{}, fmt.Errorf("build geolocation request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return partner.Coordinates{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return partner.Coordinates{}, ErrPermissionDenied
	case resp.StatusCode != http.StatusOK:
		return partner.Coordinates{}, fmt.Errorf("%w: geolocation status %d", ErrPositionUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return partner.Coordinates{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}
	doc := gjson.ParseBytes(body)
	lat := firstNumber(doc, "lat", "latitude", "location.lat", "coords.latitude")
	lng := firstNumber(doc, "lng", "lon", "longitude", "location.lng", "coords.longitude")
	if !lat.Exists() || !lng.Exists() {
		return partner.Coordinates{}, fmt.Errorf("%w: response has no coordinates", ErrPositionUnavailable)
	}
	c := partner.Coordinates{Lat: lat.Float(), Lng: lng.Float()}
	if !c.Valid() {
		return partner.Coordinates{}, fmt.Errorf("%w: coordinates out of range", ErrPositionUnavailable)
	}
	return c, nil
}

func firstNumber(doc gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := doc.Get(p); v.Type == gjson.Number {
			return v
		}
	}
	return gjson.Result{}
}
