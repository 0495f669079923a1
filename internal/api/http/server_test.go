package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"outlier-monitor/internal/detect"
	"outlier-monitor/internal/eventing"
)

func testPass() detect.WindowClustered {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return detect.WindowClustered{
		RunID:       "run-1",
		At:          at,
		WindowStart: at.Add(-3 * time.Hour),
		WindowEnd:   at,
		Labels:      map[string]bool{"sensor-a": false, "sensor-b": true},
		Outliers:    []string{"sensor-b"},
	}
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestHealthz(t *testing.T) {
	server := httptest.NewServer(NewServer(quietLogger()).Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestOutliersBeforeFirstPass(t *testing.T) {
	server := httptest.NewServer(NewServer(quietLogger()).Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/outliers")
	if err != nil {
		t.Fatalf("get outliers: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "{}" {
		t.Fatalf("body = %q, want empty object", body)
	}
}

func TestOutliersReturnsLatestPass(t *testing.T) {
	s := NewServer(quietLogger())
	if err := s.HandlePass(context.Background(), testPass()); err != nil {
		t.Fatalf("handle pass: %v", err)
	}

	server := httptest.NewServer(s.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/outliers")
	if err != nil {
		t.Fatalf("get outliers: %v", err)
	}
	defer resp.Body.Close()

	var got detect.WindowClustered
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "run-1" {
		t.Fatalf("run id = %q", got.RunID)
	}
	if len(got.Outliers) != 1 || got.Outliers[0] != "sensor-b" {
		t.Fatalf("outliers = %v", got.Outliers)
	}
}

func TestHandlePassRejectsWrongType(t *testing.T) {
	s := NewServer(quietLogger())
	if err := s.HandlePass(context.Background(), "not a pass"); !errors.Is(err, eventing.ErrInvalidEventType) {
		t.Fatalf("err = %v, want ErrInvalidEventType", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := httptest.NewServer(NewServer(quietLogger()).Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStreamDeliversPassFrames(t *testing.T) {
	s := NewServer(quietLogger())
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/outliers/stream")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readLine := func() string {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		return strings.TrimRight(line, "\n")
	}

	if line := readLine(); line != "event: ready" {
		t.Fatalf("first frame = %q, want ready event", line)
	}
	readLine() // data: {}
	readLine() // blank

	if err := s.HandlePass(context.Background(), testPass()); err != nil {
		t.Fatalf("handle pass: %v", err)
	}

	if line := readLine(); line != "event: pass" {
		t.Fatalf("frame = %q, want pass event", line)
	}
	data := readLine()
	if !strings.HasPrefix(data, "data: ") {
		t.Fatalf("data line = %q", data)
	}
	var got detect.WindowClustered
	if err := json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &got); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if got.RunID != "run-1" {
		t.Fatalf("run id = %q", got.RunID)
	}
}

func TestBrokerConcurrentUnsubscribeDuringBroadcast(t *testing.T) {
	broker := NewSSEBroker()

	panicked := make(chan any, 1)
	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				panicked <- r
			}
			close(done)
		}()
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			broker.Broadcast(testPass())
		}
	}()

	churn := time.Now().Add(time.Second)
	for time.Now().Before(churn) {
		ch := broker.Subscribe()
		broker.Unsubscribe(ch)
	}

	<-done
	select {
	case r := <-panicked:
		t.Fatalf("broadcast panicked: %v", r)
	default:
	}
}

func TestStreamRejectsNonGet(t *testing.T) {
	server := httptest.NewServer(NewServer(quietLogger()).Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/outliers/stream", "text/plain", nil)
	if err != nil {
		t.Fatalf("post stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
