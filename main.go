package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/location"
	"gitea.kood.tech/petrkubec/taalmeet/nearby/pgsource"
	"gitea.kood.tech/petrkubec/taalmeet/nearby/presence"
	"gitea.kood.tech/petrkubec/taalmeet/nearby/supabase"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using the process environment")
	}
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

// run wires the agent and serves until ctx is cancelled.
func run(ctx context.Context, cfg Config) error {
	be, listener, cleanup, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	pos, err := positioner(cfg)
	if err != nil {
		return err
	}

	var (
		hub     *presence.Hub
		tracker *presence.Tracker
	)
	if listener != nil {
		hub = presence.NewHub()
		tracker = presence.NewTracker(hub)
		defer hub.Close()
	}

	a := newAgent(cfg, be, pos, tracker, hub)
	defer a.session.Close()

	a.reporter.Start(ctx)
	defer a.reporter.Stop()

	go a.refreshLoop(ctx)
	if listener != nil {
		go presence.NewListener(*listener, tracker).Run(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()

	log.Printf("taalmeet-nearby (%s backend) listening on %s", cfg.Backend, cfg.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	log.Println("shutting down")
	return nil
}

// openBackend builds the configured data source. The realtime listener
// config is nil when presence is unavailable or disabled.
func openBackend(ctx context.Context, cfg Config) (backend, *presence.ListenerConfig, func(), error) {
	switch cfg.Backend {
	case backendPostgres:
		db, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return pgsource.New(db, cfg.UserID), nil, func() { db.Close() }, nil
	default:
		client := supabase.New(cfg.SupabaseURL, cfg.SupabaseAnonKey)
		if err := client.SetSession(cfg.AccessToken); err != nil {
			return nil, nil, nil, fmt.Errorf("access token: %w", err)
		}
		var lc *presence.ListenerConfig
		if cfg.Presence {
			lc = &presence.ListenerConfig{
				URL:               cfg.realtimeURL(),
				APIKey:            cfg.SupabaseAnonKey,
				Channel:           cfg.PresenceChannel,
				HeartbeatInterval: cfg.Heartbeat,
				Credentials: func() (string, string, error) {
					s, err := client.Session()
					return s.AccessToken, s.UserID, err
				},
			}
		}
		return client, lc, func() {}, nil
	}
}

// positioner picks the position source: a locator endpoint, a fixed
// position, or none at all, which keeps the reporter in degraded mode.
func positioner(cfg Config) (location.Positioner, error) {
	switch {
	case cfg.PositionURL != "":
		return location.HTTPPositioner{URL: cfg.PositionURL, Client: &http.Client{Timeout: 10 * time.Second}}, nil
	case cfg.Position != "":
		c, err := parsePosition(cfg.Position)
		if err != nil {
			return nil, err
		}
		return location.Static(c), nil
	default:
		log.Println("no position source configured, using the default location")
		return location.Denied{}, nil
	}
}
