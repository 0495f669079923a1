package dtapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public vendor REST endpoint.
	DefaultBaseURL = "https://api.disruptive-technologies.com/v2"

	// DeviceTypeTemperature identifies temperature sensors in device listings.
	DeviceTypeTemperature = "temperature"

	historyPageSize = 1000
	devicePageSize  = 100
)

// ErrAuth is returned when the vendor API rejects the service account.
var ErrAuth = errors.New("dtapi: authentication rejected")

var errNotFound = errors.New("dtapi: not found")

// Credentials holds the service account identity used against the vendor API.
// Email selects the OAuth token flow; without it the client falls back to
// basic auth with key id and secret.
type Credentials struct {
	KeyID  string
	Secret string
	Email  string
}

// Client is a minimal vendor REST and event-stream client.
type Client struct {
	baseURL  string
	tokenURL string
	creds    Credentials

	client       *http.Client
	streamClient *http.Client

	maxReconnects  int
	reconnectDelay time.Duration

	auth *tokenSource
}

// Option configures the client.
type Option func(*Client)

// WithTokenURL overrides the OAuth token endpoint.
func WithTokenURL(tokenURL string) Option {
	return func(c *Client) {
		if tokenURL != "" {
			c.tokenURL = tokenURL
		}
	}
}

// WithHTTPClient overrides the request HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithMaxReconnects bounds stream reconnection attempts.
func WithMaxReconnects(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxReconnects = n
		}
	}
}

// WithReconnectDelay overrides the pause between reconnection attempts.
func WithReconnectDelay(delay time.Duration) Option {
	return func(c *Client) {
		if delay > 0 {
			c.reconnectDelay = delay
		}
	}
}

// NewClient constructs a vendor API client.
func NewClient(baseURL string, creds Credentials, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if creds.KeyID == "" || creds.Secret == "" {
		return nil, errors.New("dtapi: missing service account key id or secret")
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		tokenURL:       DefaultTokenURL,
		creds:          creds,
		client:         &http.Client{Timeout: 15 * time.Second},
		streamClient:   &http.Client{},
		maxReconnects:  5,
		reconnectDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if creds.Email != "" {
		c.auth = newTokenSource(c.tokenURL, creds, c.client)
	}
	return c, nil
}

// Device describes a sensor registered in a vendor project.
type Device struct {
	ID     string
	Name   string
	Type   string
	Labels map[string]string
}

// IsTemperature reports whether the device emits temperature events.
func (d Device) IsTemperature() bool { return d.Type == DeviceTypeTemperature }

// Event is a single event delivered by history fetch or the live stream.
type Event struct {
	TargetName string    `json:"targetName"`
	EventType  string    `json:"eventType"`
	Data       EventData `json:"data"`
}

// EventData carries the typed event payloads.
type EventData struct {
	Temperature *TemperatureEvent `json:"temperature,omitempty"`
}

// TemperatureEvent is a temperature sample.
type TemperatureEvent struct {
	Value      float64   `json:"value"`
	UpdateTime time.Time `json:"updateTime"`
}

// DeviceID extracts the short device identifier from the target name.
func (e Event) DeviceID() string { return path.Base(e.TargetName) }

// ListDevices pages through all devices in a project.
func (c *Client) ListDevices(ctx context.Context, projectID string) ([]Device, error) {
	if projectID == "" {
		return nil, errors.New("dtapi: empty project id")
	}
	var devices []Device
	pageToken := ""
	for {
		params := url.Values{}
		params.Set("page_size", fmt.Sprint(devicePageSize))
		if pageToken != "" {
			params.Set("page_token", pageToken)
		}
		reqPath := fmt.Sprintf("/projects/%s/devices?%s", projectID, params.Encode())
		var resp deviceListResponse
		if err := c.doJSON(ctx, http.MethodGet, reqPath, &resp); err != nil {
			return nil, err
		}
		for _, d := range resp.Devices {
			devices = append(devices, Device{
				ID:     path.Base(d.Name),
				Name:   d.Name,
				Type:   d.Type,
				Labels: d.Labels,
			})
		}
		if resp.NextPageToken == "" {
			return devices, nil
		}
		pageToken = resp.NextPageToken
	}
}

// ListEvents pages through historic temperature events for one device.
func (c *Client) ListEvents(ctx context.Context, projectID, deviceID string, start, end time.Time) ([]Event, error) {
	if projectID == "" || deviceID == "" {
		return nil, errors.New("dtapi: empty project or device id")
	}
	var events []Event
	pageToken := ""
	for {
		params := url.Values{}
		params.Set("page_size", fmt.Sprint(historyPageSize))
		params.Set("start_time", start.UTC().Format(time.RFC3339))
		params.Set("end_time", end.UTC().Format(time.RFC3339))
		params.Set("event_types", "temperature")
		if pageToken != "" {
			params.Set("page_token", pageToken)
		}
		reqPath := fmt.Sprintf("/projects/%s/devices/%s/events?%s", projectID, deviceID, params.Encode())
		var resp eventListResponse
		if err := c.doJSON(ctx, http.MethodGet, reqPath, &resp); err != nil {
			return nil, err
		}
		events = append(events, resp.Events...)
		if resp.NextPageToken == "" {
			return events, nil
		}
		pageToken = resp.NextPageToken
	}
}

type deviceListResponse struct {
	Devices []struct {
		Name   string            `json:"name"`
		Type   string            `json:"type"`
		Labels map[string]string `json:"labels"`
	} `json:"devices"`
	NextPageToken string `json:"nextPageToken"`
}

type eventListResponse struct {
	Events        []Event `json:"events"`
	NextPageToken string  `json:"nextPageToken"`
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.auth != nil {
		token, err := c.auth.accessToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
	req.SetBasicAuth(c.creds.KeyID, c.creds.Secret)
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, reqPath string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+reqPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: http %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode >= 300:
		return fmt.Errorf("dtapi: http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
