// Package glowmarkt is a minimal client for the Hildebrand Glowmarkt
// consumer API (v0-1).
package glowmarkt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the public Glowmarkt API endpoint.
const DefaultBaseURL = "https://api.glowmarkt.com/api/v0-1"

// DefaultApplicationID is the public Bright application id.
const DefaultApplicationID = "b0f1b774-a586-4f72-9edd-27ead8aa7a8d"

const requestTimeout = 10 * time.Second

var (
	// ErrUnauthorized is returned when credentials are rejected, including
	// after the single re-authentication retry.
	ErrUnauthorized = errors.New("glowmarkt: unauthorized")
	// ErrNoData is returned when a resource reports no readings for a window.
	ErrNoData = errors.New("glowmarkt: no data for resource")
)

// VirtualEntity is one metered entity (usually a household) with its resources.
type VirtualEntity struct {
	ID        string     `json:"veId"`
	Name      string     `json:"name"`
	Resources []Resource `json:"resources"`
}

// Resource is one metered stream within an entity, e.g. "electricity.consumption.cost".
type Resource struct {
	ID   string `json:"resourceId"`
	Name string `json:"name"`
}

// Reading is one raw upstream data point. At is the bucket start; Value is in
// the resource's native unit (pence for cost resources).
type Reading struct {
	At    time.Time
	Value float64
}

// Client is the Glowmarkt REST client. It caches the session token and
// transparently re-authenticates once when the upstream rejects it.
type Client struct {
	baseURL       string
	applicationID string
	username      string
	password      string

	mu    sync.Mutex
	token string

	client *http.Client
	logger *log.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient constructs a Glowmarkt client.
func NewClient(baseURL, applicationID, username, password string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("glowmarkt: empty base url")
	}
	if applicationID == "" {
		return nil, errors.New("glowmarkt: empty application id")
	}
	if username == "" || password == "" {
		return nil, errors.New("glowmarkt: missing credentials")
	}
	client := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		applicationID: applicationID,
		username:      username,
		password:      password,
		client:        &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type authResponse struct {
	Token string `json:"token"`
	Valid bool   `json:"valid"`
}

// Authenticate exchanges the stored credentials for a session token.
func (c *Client) Authenticate(ctx context.Context) error {
	body := map[string]string{"username": c.username, "password": c.password}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("applicationId", c.applicationID)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("glowmarkt: auth http %d", resp.StatusCode)
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return fmt.Errorf("glowmarkt: decode auth response: %w", err)
	}
	if auth.Token == "" {
		return errors.New("glowmarkt: auth response missing token")
	}

	c.mu.Lock()
	c.token = auth.Token
	c.mu.Unlock()
	c.logf("event=glowmarkt_authenticated")
	return nil
}

// VirtualEntities lists the metered entities and their resources.
func (c *Client) VirtualEntities(ctx context.Context) ([]VirtualEntity, error) {
	var entities []VirtualEntity
	if err := c.getJSON(ctx, "/virtualentity", nil, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// Readings fetches hourly sums for a resource over [from, to], both
// hour-aligned UTC. Timestamps on the wire are unix seconds.
func (c *Client) Readings(ctx context.Context, resourceID string, from, to time.Time) ([]Reading, error) {
	if resourceID == "" {
		return nil, errors.New("glowmarkt: empty resource id")
	}
	query := url.Values{}
	query.Set("period", "PT1H")
	query.Set("function", "sum")
	query.Set("from", from.UTC().Format("2006-01-02T15:04:05"))
	query.Set("to", to.UTC().Format("2006-01-02T15:04:05"))

	var payload struct {
		Data [][]*float64 `json:"data"`
	}
	if err := c.getJSON(ctx, "/resource/"+resourceID+"/readings", query, &payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 {
		return nil, ErrNoData
	}

	readings := make([]Reading, 0, len(payload.Data))
	for _, pair := range payload.Data {
		if len(pair) < 2 || pair[0] == nil || pair[1] == nil {
			continue
		}
		readings = append(readings, Reading{
			At:    time.Unix(int64(*pair[0]), 0).UTC(),
			Value: *pair[1],
		})
	}
	return readings, nil
}

// Catchup asks the provider to refresh its cached readings for a resource.
// It is a fire-and-forget side effect; the caller decides how long to wait
// before the refreshed data is expected to be available.
func (c *Client) Catchup(ctx context.Context, resourceID string) error {
	if resourceID == "" {
		return errors.New("glowmarkt: empty resource id")
	}
	return c.getJSON(ctx, "/resource/"+resourceID+"/catchup", nil, nil)
}

// getJSON issues an authenticated GET. On the first 401 it re-authenticates
// once and retries the same call; a second rejection propagates.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if c.currentToken() == "" {
		if err := c.Authenticate(ctx); err != nil {
			return err
		}
	}

	err := c.doJSON(ctx, path, query, out)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	c.logf("event=glowmarkt_token_expired path=%s", path)
	if err := c.Authenticate(ctx); err != nil {
		return err
	}
	return c.doJSON(ctx, path, query, out)
}

func (c *Client) doJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("applicationId", c.applicationID)
	req.Header.Set("token", c.currentToken())

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("glowmarkt: http %d on %s", resp.StatusCode, path)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
