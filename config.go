package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

const (
	backendSupabase = "supabase"
	backendPostgres = "postgres"
)

// Config is read from the environment, optionally seeded from a .env file.
type Config struct {
	Addr        string   `env:"TAALMEET_ADDR" envDefault:":8080"`
	CORSOrigins []string `env:"TAALMEET_CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://127.0.0.1:5173"`
	// APISecret enables bearer auth on the local API when set.
	APISecret string `env:"TAALMEET_API_SECRET"`

	Backend         string `env:"TAALMEET_BACKEND" envDefault:"supabase"`
	SupabaseURL     string `env:"SUPABASE_URL"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY"`
	AccessToken     string `env:"TAALMEET_ACCESS_TOKEN"`
	DatabaseURL     string `env:"DATABASE_URL"`
	UserID          string `env:"TAALMEET_USER_ID"`

	Presence        bool          `env:"TAALMEET_PRESENCE" envDefault:"true"`
	RealtimeURL     string        `env:"SUPABASE_REALTIME_URL"`
	PresenceChannel string        `env:"TAALMEET_PRESENCE_CHANNEL" envDefault:"online-users"`
	Heartbeat       time.Duration `env:"TAALMEET_REALTIME_HEARTBEAT" envDefault:"25s"`

	PositionURL    string        `env:"TAALMEET_POSITION_URL"`
	Position       string        `env:"TAALMEET_POSITION"`
	ReportInterval time.Duration `env:"TAALMEET_REPORT_INTERVAL" envDefault:"20s"`

	CacheTTL   time.Duration `env:"TAALMEET_CACHE_TTL" envDefault:"5m"`
	MaxRetries uint          `env:"TAALMEET_MAX_RETRIES" envDefault:"2"`
	FeedLimit  int           `env:"TAALMEET_FEED_LIMIT" envDefault:"20"`

	// MaxStale bounds how long data is still shown after a failed refresh.
	// Unset means CacheTTL; it may not exceed CacheTTL.
	MaxStale time.Duration `env:"TAALMEET_MAX_STALE"`
}

// loadConfig parses and validates the environment.
func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MaxStale == 0 {
		cfg.MaxStale = cfg.CacheTTL
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	switch c.Backend {
	case backendSupabase:
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			errs = append(errs, errors.New("SUPABASE_URL and SUPABASE_ANON_KEY are required for the supabase backend"))
		}
		if c.AccessToken == "" {
			errs = append(errs, errors.New("TAALMEET_ACCESS_TOKEN is required for the supabase backend"))
		}
	case backendPostgres:
		if c.DatabaseURL == "" || c.UserID == "" {
			errs = append(errs, errors.New("DATABASE_URL and TAALMEET_USER_ID are required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Position != "" {
		if _, err := parsePosition(c.Position); err != nil {
			errs = append(errs, err)
		}
	}
	if c.MaxRetries > 2 {
		errs = append(errs, fmt.Errorf("TAALMEET_MAX_RETRIES must be at most 2, got %d", c.MaxRetries))
	}
	if c.MaxStale > c.CacheTTL {
		errs = append(errs, fmt.Errorf("TAALMEET_MAX_STALE (%v) must not exceed TAALMEET_CACHE_TTL (%v)", c.MaxStale, c.CacheTTL))
	}
	return errors.Join(errs...)
}

// realtimeURL is the configured realtime endpoint or the project default.
func (c Config) realtimeURL() string {
	if c.RealtimeURL != "" {
		return c.RealtimeURL
	}
	return strings.TrimRight(c.SupabaseURL, "/") + "/realtime/v1/websocket"
}

// parsePosition reads "lat,lng".
func parsePosition(s string) (partner.Coordinates, error) {
	lat, lng, ok := strings.Cut(s, ",")
	if !ok {
		return partner.Coordinates{}, fmt.Errorf("position %q: want lat,lng", s)
	}
	var c partner.Coordinates
	var err error
	if c.Lat, err = strconv.ParseFloat(strings.TrimSpace(lat), 64); err != nil {
		return partner.Coordinates{}, fmt.Errorf("position %q: %w", s, err)
	}
	if c.Lng, err = strconv.ParseFloat(strings.TrimSpace(lng), 64); err != nil {
		return partner.Coordinates{}, fmt.Errorf("position %q: %w", s, err)
	}
	if !c.Valid() {
		return partner.Coordinates{}, fmt.Errorf("position %q out of range", s)
	}
	return c, nil
}
