package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// fakeDTServer emulates the vendor cloud API: token endpoint, paged device
// listing, paged temperature event history and the SSE device stream. Every
// sensor follows a slow daily sine around a shared baseline; the configured
// number of outlier sensors drift away from it so clustering has something
// to find.
type fakeDTServer struct {
	start       time.Time
	label       string
	sensors     []fakeSensor
	interval    time.Duration
	streamEvery time.Duration

	totalCalls int64
}

type fakeSensor struct {
	id      string
	phase   float64
	noise   float64
	drift   float64 // degrees per hour, nonzero for outliers
	labeled bool
}

func main() {
	addr := getenvDefault("FAKE_DT_ADDR", ":18081")
	sensorCount := getenvIntDefault("FAKE_DT_SENSORS", 10)
	outlierCount := getenvIntDefault("FAKE_DT_OUTLIERS", 1)
	label := getenvDefault("FAKE_DT_LABEL", "outlier_detection")
	intervalSec := getenvIntDefault("FAKE_DT_INTERVAL_SEC", 300)
	streamSec := getenvIntDefault("FAKE_DT_STREAM_SEC", 2)

	if outlierCount > sensorCount {
		outlierCount = sensorCount
	}

	rng := rand.New(rand.NewSource(getenvInt64Default("FAKE_DT_SEED", 1)))
	sensors := make([]fakeSensor, 0, sensorCount)
	for i := 0; i < sensorCount; i++ {
		sensors = append(sensors, fakeSensor{
			id:      fmt.Sprintf("sensor-%03d", i+1),
			phase:   rng.Float64() * 2 * math.Pi,
			noise:   0.15 + rng.Float64()*0.1,
			drift:   0,
			labeled: true,
		})
	}
	for i := 0; i < outlierCount; i++ {
		sensors[sensorCount-1-i].drift = 1.5 + rng.Float64()
	}

	srv := &fakeDTServer{
		start:       time.Now().UTC(),
		label:       label,
		sensors:     sensors,
		interval:    time.Duration(intervalSec) * time.Second,
		streamEvery: time.Duration(streamSec) * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/oauth2/token", srv.handleToken)
	mux.HandleFunc("/v2/projects/", srv.handleProjects)

	log.Printf("fake DT server listening on %s (%d sensors, %d outliers)", addr, sensorCount, outlierCount)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func (s *fakeDTServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeDTServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil || r.PostFormValue("assertion") == "" {
		http.Error(w, "assertion required", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"access_token": "fake-access-token",
		"token_type":   "bearer",
		"expires_in":   3600,
	})
}

func (s *fakeDTServer) handleProjects(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.totalCalls, 1)

	rest := strings.TrimPrefix(r.URL.Path, "/v2/projects/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	projectID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "devices":
		s.handleDevices(w, r, projectID)
	case len(parts) == 2 && parts[1] == "devices:stream":
		s.handleStream(w, r, projectID)
	case len(parts) == 4 && parts[1] == "devices" && parts[3] == "events":
		s.handleEvents(w, r, projectID, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *fakeDTServer) handleDevices(w http.ResponseWriter, r *http.Request, projectID string) {
	pageSize := queryIntDefault(r, "page_size", 100)
	offset := queryIntDefault(r, "page_token", 0)

	devices := make([]map[string]any, 0, pageSize)
	next := ""
	for i := offset; i < len(s.sensors) && len(devices) < pageSize; i++ {
		sensor := s.sensors[i]
		labels := map[string]string{}
		if sensor.labeled {
			labels[s.label] = ""
		}
		devices = append(devices, map[string]any{
			"name":   fmt.Sprintf("projects/%s/devices/%s", projectID, sensor.id),
			"type":   "temperature",
			"labels": labels,
		})
	}
	if offset+len(devices) < len(s.sensors) {
		next = strconv.Itoa(offset + len(devices))
	}
	writeJSON(w, map[string]any{"devices": devices, "nextPageToken": next})
}

func (s *fakeDTServer) handleEvents(w http.ResponseWriter, r *http.Request, projectID, deviceID string) {
	sensor, ok := s.findSensor(deviceID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start_time"))
	if err != nil {
		start = time.Now().UTC().Add(-24 * time.Hour)
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end_time"))
	if err != nil {
		end = time.Now().UTC()
	}
	pageSize := queryIntDefault(r, "page_size", 1000)
	offset := queryIntDefault(r, "page_token", 0)

	var timestamps []time.Time
	for at := start.Truncate(s.interval); !at.After(end); at = at.Add(s.interval) {
		if !at.Before(start) {
			timestamps = append(timestamps, at)
		}
	}

	events := make([]map[string]any, 0, pageSize)
	next := ""
	for i := offset; i < len(timestamps) && len(events) < pageSize; i++ {
		events = append(events, s.temperatureEvent(projectID, sensor, timestamps[i]))
	}
	if offset+len(events) < len(timestamps) {
		next = strconv.Itoa(offset + len(events))
	}
	writeJSON(w, map[string]any{"events": events, "nextPageToken": next})
}

func (s *fakeDTServer) handleStream(w http.ResponseWriter, r *http.Request, projectID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Printf("stream client connected from %s", r.RemoteAddr)
	ticker := time.NewTicker(s.streamEvery)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-r.Context().Done():
			log.Printf("stream client %s disconnected", r.RemoteAddr)
			return
		case now := <-ticker.C:
			sensor := s.sensors[i%len(s.sensors)]
			i++
			frame := map[string]any{
				"result": map[string]any{
					"event": s.temperatureEvent(projectID, sensor, now.UTC()),
				},
			}
			payload, _ := json.Marshal(frame)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// temperature is a 21°C baseline with a daily sine, per-sensor noise, and
// for outlier sensors a linear drift since server start.
func (s *fakeDTServer) temperatureEvent(projectID string, sensor fakeSensor, at time.Time) map[string]any {
	dayFrac := float64(at.Unix()%86400) / 86400
	value := 21 + 2*math.Sin(2*math.Pi*dayFrac+sensor.phase)
	value += (rand.Float64()*2 - 1) * sensor.noise
	if sensor.drift != 0 {
		value += sensor.drift * at.Sub(s.start).Hours()
	}
	return map[string]any{
		"targetName": fmt.Sprintf("projects/%s/devices/%s", projectID, sensor.id),
		"eventType":  "temperature",
		"data": map[string]any{
			"temperature": map[string]any{
				"value":      math.Round(value*100) / 100,
				"updateTime": at.Format(time.RFC3339),
			},
		},
	}
}

func (s *fakeDTServer) findSensor(deviceID string) (fakeSensor, bool) {
	for _, sensor := range s.sensors {
		if sensor.id == deviceID {
			return sensor, true
		}
	}
	return fakeSensor{}, false
}

func queryIntDefault(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt64Default(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
