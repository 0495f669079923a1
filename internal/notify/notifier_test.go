package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"outlier-monitor/internal/detect"
)

type stubChannel struct {
	sent []string
	err  error
}

func (s *stubChannel) Send(_ context.Context, content string) error {
	s.sent = append(s.sent, content)
	return s.err
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func flaggedEvent(sensorID string) detect.SensorFlagged {
	return detect.SensorFlagged{
		RunID:    "run-1",
		SensorID: sensorID,
		At:       time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotifierRendersDefaultTemplate(t *testing.T) {
	channel := &stubChannel{}
	notifier, err := NewNotifier(channel, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), flaggedEvent("sensor-a"))

	if len(channel.sent) != 1 {
		t.Fatalf("sent %d alerts, want 1", len(channel.sent))
	}
	content := channel.sent[0]
	for _, part := range []string{"sensor-a", "run-1", "2026-03-14T12:00:00Z"} {
		if !strings.Contains(content, part) {
			t.Fatalf("alert %q misses %q", content, part)
		}
	}
}

func TestNotifierCooldownSuppressesRepeats(t *testing.T) {
	channel := &stubChannel{}
	clock := &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	notifier, err := NewNotifier(channel, nil,
		WithClock(clock),
		WithCooldown(30*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), flaggedEvent("sensor-a"))
	notifier.Notify(context.Background(), flaggedEvent("sensor-a"))
	if len(channel.sent) != 1 {
		t.Fatalf("sent %d alerts inside cooldown, want 1", len(channel.sent))
	}

	// a different sensor is not suppressed
	notifier.Notify(context.Background(), flaggedEvent("sensor-b"))
	if len(channel.sent) != 2 {
		t.Fatalf("sent %d alerts, want 2 with a second sensor", len(channel.sent))
	}

	clock.advance(31 * time.Minute)
	notifier.Notify(context.Background(), flaggedEvent("sensor-a"))
	if len(channel.sent) != 3 {
		t.Fatalf("sent %d alerts after cooldown elapsed, want 3", len(channel.sent))
	}
}

func TestNotifierDedupesIdenticalContent(t *testing.T) {
	channel := &stubChannel{}
	clock := &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	notifier, err := NewNotifier(channel, nil,
		WithClock(clock),
		WithDedupeWindow(time.Hour),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), flaggedEvent("sensor-a"))
	clock.advance(time.Minute)
	notifier.Notify(context.Background(), flaggedEvent("sensor-a"))
	if len(channel.sent) != 1 {
		t.Fatalf("sent %d identical alerts inside dedupe window, want 1", len(channel.sent))
	}
}

func TestNotifierFailedSendIsNotRecorded(t *testing.T) {
	channel := &stubChannel{err: errors.New("boom")}
	clock := &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	notifier, err := NewNotifier(channel, nil,
		WithClock(clock),
		WithCooldown(time.Hour),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), flaggedEvent("sensor-a"))
	channel.err = nil
	notifier.Notify(context.Background(), flaggedEvent("sensor-a"))

	// the failed attempt must not start a cooldown
	if len(channel.sent) != 2 {
		t.Fatalf("sent %d attempts, want retry after failed send", len(channel.sent))
	}
}

func TestWebhookChannelPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Send(context.Background(), "sensor-a is an outlier"); err != nil {
		t.Fatalf("send: %v", err)
	}

	payload := <-payloadCh
	if payload.MsgType != "text" {
		t.Fatalf("msgtype = %q", payload.MsgType)
	}
	if payload.Text.Content != "sensor-a is an outlier" {
		t.Fatalf("content = %q", payload.Text.Content)
	}
}

func TestWebhookChannelReportsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Send(context.Background(), "content"); err == nil {
		t.Fatalf("send succeeded against a failing endpoint")
	}
}

func TestMultiChannelFansOutAndKeepsFirstError(t *testing.T) {
	first := &stubChannel{err: errors.New("first down")}
	second := &stubChannel{}
	multi := NewMultiChannel(first, nil, second)

	err := multi.Send(context.Background(), "content")
	if err == nil || err.Error() != "first down" {
		t.Fatalf("err = %v, want first channel error", err)
	}
	if len(first.sent) != 1 || len(second.sent) != 1 {
		t.Fatalf("deliveries = %d/%d, want both channels attempted", len(first.sent), len(second.sent))
	}
}

func TestTemplateCustomText(t *testing.T) {
	tpl, err := NewTemplate("ALERT {{.Sensor}}/{{.RunID}}")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}
	content, err := tpl.Render(TemplateData{Sensor: "sensor-a", RunID: "run-1"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if content != "ALERT sensor-a/run-1" {
		t.Fatalf("content = %q", content)
	}
}

func TestTemplateRejectsInvalidSyntax(t *testing.T) {
	if _, err := NewTemplate("{{.Sensor"); err == nil {
		t.Fatalf("invalid template parsed")
	}
}
