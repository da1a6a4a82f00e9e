// Package supabase talks to the TaalMeet backend: REST RPC calls for
// location updates and nearby search, and the GraphQL discover feed.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/nearby"
)

const maxResponseBytes = 4 << 20

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Transient reports whether retrying the same request may succeed.
func (e *APIError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}

// Client is a backend client acting for one signed-in user.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
	now     func() time.Time
	retry   nearby.RetryPolicy

	mu      sync.RWMutex
	session Session
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the project at baseURL.
func New(baseURL, anonKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		now:     time.Now,
		retry:   updateRetry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetSession installs the user's access token.
func (c *Client) SetSession(token string) error {
	s, err := ParseSession(token)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	return nil
}

// Session returns the current session, or ErrNoSession when none is usable.
func (c *Client) Session() (Session, error) {
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()
	if !s.Active(c.now()) {
		return Session{}, ErrNoSession
	}
	return s, nil
}

// post sends a JSON body to path and returns the raw response body.
func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	s, err := c.Session()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiError(resp.StatusCode, data)
	}
	return data, nil
}

// apiError decodes PostgREST and GoTrue error bodies.
func apiError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	if gjson.ValidBytes(body) {
		r := gjson.ParseBytes(body)
		e.Code = firstOf(r, "code", "error_code", "error").String()
		e.Message = firstOf(r, "message", "msg", "error_description", "hint").String()
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
