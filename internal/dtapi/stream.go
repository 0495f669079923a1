package dtapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrStreamClosed is returned when the stream drops more times than the
// client is configured to reconnect.
var ErrStreamClosed = errors.New("dtapi: stream closed")

// StreamHandler receives one event from the live stream.
type StreamHandler func(Event)

// ReconnectFunc is invoked before each reconnection attempt.
type ReconnectFunc func(attempt, max int)

// Stream subscribes to the project's live event stream and delivers
// temperature events to the handler. It reconnects up to the configured
// bound, resetting the counter after each successfully parsed event, and
// returns when the context is cancelled or reconnects are exhausted.
func (c *Client) Stream(ctx context.Context, projectID string, handler StreamHandler, onReconnect ReconnectFunc) error {
	if projectID == "" {
		return errors.New("dtapi: empty project id")
	}
	if handler == nil {
		return errors.New("dtapi: nil stream handler")
	}

	attempt := 0
	for {
		err := c.streamOnce(ctx, projectID, handler, func() { attempt = 0 })
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuth) {
			return err
		}
		attempt++
		if attempt >= c.maxReconnects {
			return fmt.Errorf("%w: %d reconnect attempts: %v", ErrStreamClosed, attempt, err)
		}
		if onReconnect != nil {
			onReconnect(attempt, c.maxReconnects)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, projectID string, handler StreamHandler, served func()) error {
	reqPath := fmt.Sprintf("/projects/%s/devices:stream?event_types=temperature", projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+reqPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: http %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("dtapi: stream http %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "":
			if data.Len() == 0 {
				continue
			}
			event, ok := parseStreamPayload(data.String())
			data.Reset()
			if !ok {
				continue
			}
			served()
			handler(event)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("dtapi: stream ended")
}

func parseStreamPayload(payload string) (Event, bool) {
	var frame struct {
		Result struct {
			Event Event `json:"event"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return Event{}, false
	}
	if frame.Result.Event.TargetName == "" {
		return Event{}, false
	}
	return frame.Result.Event, true
}
