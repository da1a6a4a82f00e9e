package main

import (
	"context"
	"log"
	"time"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/discovery"
	"gitea.kood.tech/petrkubec/taalmeet/nearby/location"
	"gitea.kood.tech/petrkubec/taalmeet/nearby/nearby"
	"gitea.kood.tech/petrkubec/taalmeet/nearby/presence"
)

// backend is what a data source must offer the agent.
type backend interface {
	location.Updater
	nearby.Source
	nearby.FeedSource
}

// agent ties one discovery screen session to its collaborators.
type agent struct {
	cfg      Config
	session  *discovery.Session
	fetcher  *nearby.Fetcher
	reporter *location.Reporter
	tracker  *presence.Tracker
	hub      *presence.Hub
	now      func() time.Time
}

func newAgent(cfg Config, be backend, pos location.Positioner, tracker *presence.Tracker, hub *presence.Hub) *agent {
	return &agent{
		cfg:     cfg,
		session: discovery.NewSession(discovery.DefaultFilterState()),
		fetcher: nearby.NewFetcher(be, be, nearby.Config{
			TTL:        cfg.CacheTTL,
			MaxRetries: cfg.MaxRetries,
			FeedLimit:  cfg.FeedLimit,
		}),
		reporter: location.NewReporter(pos, be, location.Config{Interval: cfg.ReportInterval}),
		tracker:  tracker,
		hub:      hub,
		now:      time.Now,
	}
}

// refreshLoop loads data for every filter change until ctx ends or the
// session closes. Results that arrive after a newer change are dropped.
func (a *agent) refreshLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-a.session.Changes():
			if !ok {
				return
			}
			if c.Force {
				a.fetcher.Invalidate(ctx, c.Filters)
			}
			res := a.fetcher.Load(ctx, c.Filters)
			if ctx.Err() != nil {
				return
			}
			if !a.session.Accept(c.Generation, res) {
				log.Printf("refresh: dropped stale result for generation %d", c.Generation)
				continue
			}
			switch {
			case res.Failed():
				log.Printf("refresh: load failed for %s: %v", c.Filters.FetchKey(), res.Err)
			case len(res.Warnings) > 0:
				log.Printf("refresh: partial load for %s: %v", c.Filters.FetchKey(), res.Warnings)
			}
		}
	}
}

// views builds the screen views for the current state.
func (a *agent) views(sort discovery.SortOrder) discovery.Views {
	filters, res := a.session.State()
	opts := discovery.BuildOptions{Sort: sort, MaxAge: a.cfg.MaxStale, Now: a.now}
	if a.tracker != nil {
		opts.Presence = a.tracker
	}
	return discovery.Build(res, filters, opts)
}
