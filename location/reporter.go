// Package location keeps the backend's copy of the user's position fresh
// while discovery is active.
package location

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
	"gitea.kood.tech/petrkubec/taalmeet/nearby/schedule"
)

const (
	DefaultInterval    = 20 * time.Second
	DefaultReadTimeout = 10 * time.Second
	DefaultPushTimeout = 10 * time.Second
)

// DefaultFallback is used as the viewer position while location access is
// denied (Amsterdam Centraal).
var DefaultFallback = partner.Coordinates{Lat: 52.3791, Lng: 4.9003}

// Updater pushes the user's position to the backend.
type Updater interface {
	UpdateMyLocation(ctx context.Context, c partner.Coordinates) error
}

// Sample is one position read. It lives in memory only.
type Sample struct {
	Coordinates partner.Coordinates `json:"coordinates"`
	CapturedAt  time.Time           `json:"captured_at"`
}

// Status is a snapshot of the reporter for display.
type Status struct {
	Running    bool                `json:"running"`
	Degraded   bool                `json:"degraded"`
	Position   partner.Coordinates `json:"position"`
	Last       *Sample             `json:"last_sample,omitempty"`
	LastPushAt *time.Time          `json:"last_push_at,omitempty"`
	LastError  string              `json:"last_error,omitempty"`
}

// Config tunes the reporter. Zero values fall back to defaults.
type Config struct {
	Interval    time.Duration
	ReadTimeout time.Duration
	PushTimeout time.Duration
	Fallback    *partner.Coordinates
}

// Reporter periodically reads the device position and forwards it to the
// backend. Failures are logged and never stop the cycle; there is no backoff.
type Reporter struct {
	positioner Positioner
	updater    Updater
	cfg        Config
	now        func() time.Time

	mu       sync.Mutex
	task     *schedule.Task
	last     *Sample
	degraded bool
	lastErr  error
	lastPush time.Time
}

// NewReporter builds a stopped reporter.
func NewReporter(p Positioner, u Updater, cfg Config) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = DefaultPushTimeout
	}
	if cfg.Fallback == nil {
		fb := DefaultFallback
		cfg.Fallback = &fb
	}
	return &Reporter{positioner: p, updater: u, cfg: cfg, now: time.Now}
}

// Start begins reporting: one read right away, then one per interval. It is
// a no-op while already running.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.task != nil {
		return
	}
	log.Printf("location: reporting every %v", r.cfg.Interval)
	r.task = schedule.Every(ctx, "location-reporter", r.cfg.Interval, r.tick)
}

// Stop cancels reporting and waits for an in-progress tick to finish. Once
// Stop returns no further push is made.
func (r *Reporter) Stop() {
	r.mu.Lock()
	task := r.task
	r.task = nil
	r.mu.Unlock()
	if task == nil {
		return
	}
	task.Stop()
	log.Println("location: reporting stopped")
}

// Running reports whether Start was called without a matching Stop.
func (r *Reporter) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.task != nil
}

// Viewer returns the position discovery should treat as the user's: the
// last sample, or the fallback while degraded or before the first read.
func (r *Reporter) Viewer() (pos partner.Coordinates, degraded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewerLocked()
}

func (r *Reporter) viewerLocked() (partner.Coordinates, bool) {
	if r.degraded || r.last == nil {
		return *r.cfg.Fallback, r.degraded
	}
	return r.last.Coordinates, false
}

// Status returns a snapshot for display.
func (r *Reporter) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, degraded := r.viewerLocked()
	s := Status{Running: r.task != nil, Degraded: degraded, Position: pos}
	if r.last != nil {
		last := *r.last
		s.Last = &last
	}
	if !r.lastPush.IsZero() {
		at := r.lastPush
		s.LastPushAt = &at
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

func (r *Reporter) tick(ctx context.Context) {
	readCtx, cancelRead := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	pos, err := r.positioner.CurrentPosition(readCtx)
	cancelRead()

	r.mu.Lock()
	wasDegraded := r.degraded
	if err != nil {
		r.lastErr = err
		denied := errors.Is(err, ErrPermissionDenied)
		if denied {
			r.degraded = true
		}
		r.mu.Unlock()
		switch {
		case denied && !wasDegraded:
			log.Printf("location: permission denied, falling back to %.4f,%.4f", r.cfg.Fallback.Lat, r.cfg.Fallback.Lng)
		case !denied:
			log.Printf("location: position read failed, waiting for next tick: %v", err)
		}
		return
	}
	r.last = &Sample{Coordinates: pos, CapturedAt: r.now()}
	r.degraded = false
	r.lastErr = nil
	r.mu.Unlock()
	if wasDegraded {
		log.Println("location: permission restored, reporting device position")
	}

	if ctx.Err() != nil {
		return
	}
	pushCtx, cancelPush := context.WithTimeout(ctx, r.cfg.PushTimeout)
	defer cancelPush()
	if err := r.updater.UpdateMyLocation(pushCtx, pos); err != nil {
		log.Printf("location: update my location failed: %v", err)
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		return
	}
	r.mu.Lock()
	r.lastPush = r.now()
	r.mu.Unlock()
}
