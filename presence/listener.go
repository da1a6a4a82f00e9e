package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/schedule"
)

const (
	DefaultChannel           = "online-users"
	DefaultHeartbeatInterval = 25 * time.Second
	writeWait                = 10 * time.Second
	stableAfter              = time.Minute
)

// Credentials returns the access token and user id to join with.
type Credentials func() (token, userID string, err error)

// ListenerConfig configures the realtime connection.
type ListenerConfig struct {
	// URL is the realtime websocket endpoint, e.g.
	// wss://project.supabase.co/realtime/v1/websocket.
	URL               string
	APIKey            string
	Channel           string
	HeartbeatInterval time.Duration
	// ReconnectBackoff is the first wait after a dropped connection; later
	// waits grow exponentially up to a minute.
	ReconnectBackoff time.Duration
	Credentials      Credentials
	Dialer           *websocket.Dialer
}

// message is a phoenix channel frame.
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type presenceMeta struct {
	Metas []json.RawMessage `json:"metas"`
}

type presenceDiff struct {
	Joins  map[string]presenceMeta `json:"joins"`
	Leaves map[string]presenceMeta `json:"leaves"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// Listener keeps a realtime presence subscription open and feeds a Tracker.
type Listener struct {
	cfg     ListenerConfig
	tracker *Tracker

	writeMu sync.Mutex
}

// NewListener builds a listener for cfg.
func NewListener(cfg ListenerConfig, tracker *Tracker) *Listener {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Listener{cfg: cfg, tracker: tracker}
}

func (l *Listener) topic() string {
	return "realtime:" + l.cfg.Channel
}

// Run connects and reconnects with exponential backoff until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.ReconnectBackoff
	b.MaxInterval = time.Minute

	for ctx.Err() == nil {
		started := time.Now()
		err := l.session(ctx)
		l.tracker.Reset()
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > stableAfter {
			b.Reset()
		}
		wait := b.NextBackOff()
		log.Printf("presence: realtime connection lost: %v (reconnecting in %s)", err, wait.Round(time.Millisecond))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (l *Listener) endpoint(token string) (string, error) {
	u, err := url.Parse(l.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("apikey", l.cfg.APIKey)
	q.Set("vsn", "1.0.0")
	if token != "" {
		q.Set("access_token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// session runs one connection until it fails or ctx is cancelled.
func (l *Listener) session(ctx context.Context) error {
	var token, userID string
	if l.cfg.Credentials != nil {
		var err error
		if token, userID, err = l.cfg.Credentials(); err != nil {
			return fmt.Errorf("credentials: %w", err)
		}
	}
	endpoint, err := l.endpoint(token)
	if err != nil {
		return err
	}
	conn, _, err := l.cfg.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	join := map[string]any{
		"config": map[string]any{
			"presence":  map[string]string{"key": userID},
			"broadcast": map[string]bool{"self": false},
		},
	}
	if token != "" {
		join["access_token"] = token
	}
	joinRef, err := l.send(conn, l.topic(), "phx_join", join)
	if err != nil {
		return fmt.Errorf("join %s: %w", l.topic(), err)
	}

	heartbeat := schedule.Every(ctx, "realtime heartbeat", l.cfg.HeartbeatInterval, func(context.Context) {
		if _, err := l.send(conn, "phoenix", "heartbeat", map[string]any{}); err != nil {
			log.Printf("presence: heartbeat failed: %v", err)
			conn.Close()
		}
	}, schedule.Deferred())
	defer heartbeat.Stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("presence: ignoring malformed frame: %v", err)
			continue
		}
		if err := l.handle(conn, msg, joinRef, userID); err != nil {
			return err
		}
	}
}

func (l *Listener) handle(conn *websocket.Conn, msg message, joinRef, userID string) error {
	if msg.Topic != l.topic() {
		return nil
	}
	switch msg.Event {
	case "phx_reply":
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return fmt.Errorf("decode reply: %w", err)
		}
		if msg.Ref != joinRef {
			return nil
		}
		if reply.Status != "ok" {
			return fmt.Errorf("join rejected: %s", strings.TrimSpace(string(reply.Response)))
		}
		log.Printf("presence: joined %s", l.topic())
		if userID != "" {
			_, err := l.send(conn, l.topic(), "presence", map[string]any{
				"type":    "presence",
				"event":   "track",
				"payload": map[string]any{"user_id": userID, "online_at": time.Now().UTC().Format(time.RFC3339)},
			})
			return err
		}
	case "presence_state":
		var state map[string]presenceMeta
		if err := json.Unmarshal(msg.Payload, &state); err != nil {
			return fmt.Errorf("decode presence state: %w", err)
		}
		l.tracker.ApplyState(counts(state))
	case "presence_diff":
		var diff presenceDiff
		if err := json.Unmarshal(msg.Payload, &diff); err != nil {
			return fmt.Errorf("decode presence diff: %w", err)
		}
		l.tracker.ApplyDiff(counts(diff.Joins), counts(diff.Leaves))
	case "phx_error":
		return errors.New("channel error")
	case "phx_close":
		return errors.New("channel closed by server")
	}
	return nil
}

func counts(entries map[string]presenceMeta) map[string]int {
	out := make(map[string]int, len(entries))
	for id, e := range entries {
		n := len(e.Metas)
		if n == 0 {
			n = 1
		}
		out[id] = n
	}
	return out
}

// send writes one frame and returns its ref.
func (l *Listener) send(conn *websocket.Conn, topic, event string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	ref := uuid.NewString()
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ref, conn.WriteJSON(message{Topic: topic, Event: event, Payload: raw, Ref: ref})
}
