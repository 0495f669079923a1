package detect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"outlier-monitor/internal/cluster"
	"outlier-monitor/internal/dtapi"
	"outlier-monitor/internal/observability/metrics"
	telemetry "outlier-monitor/internal/telemetry/domain"
	"outlier-monitor/internal/window"
)

// DefaultSensorLabel selects the project sensors that take part in
// outlier detection.
const DefaultSensorLabel = "outlier_detection"

// API is the vendor client surface the director needs.
type API interface {
	ListDevices(ctx context.Context, projectID string) ([]dtapi.Device, error)
	ListEvents(ctx context.Context, projectID, deviceID string, start, end time.Time) ([]dtapi.Event, error)
	Stream(ctx context.Context, projectID string, handler dtapi.StreamHandler, onReconnect dtapi.ReconnectFunc) error
}

// EventBus publishes clustering events to in-process subscribers.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// Config holds director tuning.
type Config struct {
	ProjectID    string
	SensorLabel  string
	Window       time.Duration
	Timestep     time.Duration
	ResampleStep time.Duration
	Verbose      bool
}

// ErrNoSensors is returned when the project has no labelled temperature
// sensors.
var ErrNoSensors = errors.New("detect: no labelled temperature sensors in project")

// Director drives the fetch/stream → window → cluster → report loop. It is
// single-threaded: both replayed history and live stream events are
// processed one at a time on the caller's goroutine.
type Director struct {
	api        API
	buffer     *window.Buffer
	classifier *cluster.Classifier
	bus        EventBus
	logger     *log.Logger
	cfg        Config

	lastPass time.Time
	flagged  map[string]bool
	passes   []Pass
}

// NewDirector constructs a director.
func NewDirector(api API, buffer *window.Buffer, classifier *cluster.Classifier, bus EventBus, logger *log.Logger, cfg Config) (*Director, error) {
	if api == nil {
		return nil, errors.New("detect: nil api client")
	}
	if buffer == nil {
		return nil, errors.New("detect: nil window buffer")
	}
	if classifier == nil {
		return nil, errors.New("detect: nil classifier")
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("detect: empty project id")
	}
	if cfg.SensorLabel == "" {
		cfg.SensorLabel = DefaultSensorLabel
	}
	if cfg.Window <= 0 {
		cfg.Window = 3 * time.Hour
	}
	if cfg.Timestep <= 0 {
		cfg.Timestep = time.Hour
	}
	if cfg.ResampleStep <= 0 {
		cfg.ResampleStep = window.DefaultResampleStep
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Director{
		api:        api,
		buffer:     buffer,
		classifier: classifier,
		bus:        bus,
		logger:     logger,
		cfg:        cfg,
		flagged:    make(map[string]bool),
	}, nil
}

// Init fetches the project device list and registers every labelled
// temperature sensor with the window buffer.
func (d *Director) Init(ctx context.Context) error {
	devices, err := d.api.ListDevices(ctx, d.cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("detect: list devices: %w", err)
	}
	count := 0
	for _, device := range devices {
		if !device.IsTemperature() {
			continue
		}
		if _, ok := device.Labels[d.cfg.SensorLabel]; !ok {
			continue
		}
		d.buffer.Track(device.ID)
		count++
	}
	if count == 0 {
		return ErrNoSensors
	}
	d.logger.Printf("tracking %d temperature sensors in project %s", count, d.cfg.ProjectID)
	return nil
}

// RunHistory fetches historic events for every tracked sensor, replays them
// through the buffer in timestamp order and runs a clustering pass whenever
// the timestep elapses in replayed time.
func (d *Director) RunHistory(ctx context.Context, start, end time.Time) error {
	var history []telemetry.Reading
	for _, sensorID := range d.buffer.Sensors() {
		d.logger.Printf("fetching event history for %s", sensorID)
		events, err := d.api.ListEvents(ctx, d.cfg.ProjectID, sensorID, start, end)
		if err != nil {
			return fmt.Errorf("detect: event history for %s: %w", sensorID, err)
		}
		for _, event := range events {
			if reading, ok := eventReading(event); ok {
				history = append(history, reading)
			}
		}
	}
	sort.Slice(history, func(i, j int) bool { return history[i].At.Before(history[j].At) })
	d.logger.Printf("replaying %d historic events", len(history))

	progress := newProgress(d.logger, len(history), 15)
	for i, reading := range history {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.buffer.Append(reading)
		metrics.IncEventReceived("history")
		if d.timestepElapsed(reading.At) {
			d.pass(ctx, reading.At)
		}
		progress.step(i)
	}
	return nil
}

// RunStream consumes the live event stream; every served event can trigger
// a clustering pass once the timestep has elapsed in wall-clock time.
func (d *Director) RunStream(ctx context.Context) error {
	d.logger.Printf("listening for events (press CTRL-C to abort)")
	return d.api.Stream(ctx, d.cfg.ProjectID, func(event dtapi.Event) {
		reading, ok := eventReading(event)
		if !ok {
			return
		}
		if !d.buffer.Append(reading) {
			return
		}
		metrics.IncEventReceived("stream")
		if d.cfg.Verbose {
			d.logger.Printf("new event for %s: %.2f", reading.SensorID, reading.Value)
		}
		now := time.Now().UTC()
		if d.timestepElapsed(now) {
			d.pass(ctx, now)
		}
	}, func(attempt, max int) {
		metrics.IncStreamReconnect()
		d.logger.Printf("stream connection lost, reconnection attempt %d/%d", attempt, max)
	})
}

// Passes returns the recorded clustering passes.
func (d *Director) Passes() []Pass {
	out := make([]Pass, len(d.passes))
	copy(out, d.passes)
	return out
}

// timestepElapsed reports whether a clustering pass is due. The first call
// only arms the timer, matching one full timestep of warmup.
func (d *Director) timestepElapsed(now time.Time) bool {
	if d.lastPass.IsZero() {
		d.lastPass = now
		return false
	}
	if now.Sub(d.lastPass) > d.cfg.Timestep {
		d.lastPass = now
		return true
	}
	return false
}

// pass runs one WAIT_FOR_WINDOW → CLUSTER → REPORT cycle.
func (d *Director) pass(ctx context.Context, now time.Time) {
	started := time.Now()
	if !d.buffer.Covered(now, d.cfg.Window) {
		if d.cfg.Verbose {
			d.logger.Printf("skipping pass at %s: window not covered", now.Format(time.RFC3339))
		}
		metrics.ObserveClusterPass(metrics.PassSkipped, time.Since(started))
		return
	}

	tl := now.Add(-d.cfg.Window)
	tr := now
	slices := d.buffer.Snapshot(tl, tr)
	if len(slices) < d.buffer.SensorCount() {
		metrics.ObserveClusterPass(metrics.PassSkipped, time.Since(started))
		return
	}

	_, features, err := window.Resample(slices, tl, tr, d.cfg.ResampleStep)
	if err != nil {
		if errors.Is(err, window.ErrInsufficientData) {
			if d.cfg.Verbose {
				d.logger.Printf("skipping pass at %s: %v", now.Format(time.RFC3339), err)
			}
			metrics.ObserveClusterPass(metrics.PassSkipped, time.Since(started))
			return
		}
		d.logger.Printf("resample error: %v", err)
		metrics.ObserveClusterPass(metrics.PassError, time.Since(started))
		return
	}

	ids := make([]string, len(slices))
	for i, s := range slices {
		ids[i] = s.SensorID
	}
	labels := d.classifier.Classify(ids, features)

	outliers := make([]string, 0, len(labels))
	for id, isOutlier := range labels {
		if isOutlier {
			outliers = append(outliers, id)
		}
	}
	sort.Strings(outliers)
	d.buffer.MarkOutliers(outliers, tl, tr)

	runID := uuid.NewString()
	d.passes = append(d.passes, Pass{
		RunID:       runID,
		At:          now,
		WindowStart: tl,
		WindowEnd:   tr,
		Sensors:     len(ids),
		Outliers:    outliers,
	})
	d.logger.Printf("clustering pass at %s: %d sensors, %d outliers %v",
		now.Format(time.RFC3339), len(ids), len(outliers), outliers)
	metrics.ObserveClusterPass(metrics.PassSuccess, time.Since(started))
	metrics.AddSensorsFlagged(len(outliers))

	if d.bus == nil {
		d.updateFlagged(labels)
		return
	}
	event := WindowClustered{
		RunID:       runID,
		At:          now,
		WindowStart: tl,
		WindowEnd:   tr,
		Labels:      labels,
		Outliers:    outliers,
	}
	if err := d.bus.Publish(ctx, event); err != nil {
		d.logger.Printf("publish pass event: %v", err)
	}
	for _, id := range outliers {
		if d.flagged[id] {
			continue
		}
		flag := SensorFlagged{RunID: runID, SensorID: id, At: now}
		if err := d.bus.Publish(ctx, flag); err != nil {
			d.logger.Printf("publish flag event: %v", err)
		}
	}
	d.updateFlagged(labels)
}

func (d *Director) updateFlagged(labels map[string]bool) {
	for id, isOutlier := range labels {
		d.flagged[id] = isOutlier
	}
}

func eventReading(event dtapi.Event) (telemetry.Reading, bool) {
	if event.Data.Temperature == nil {
		return telemetry.Reading{}, false
	}
	return telemetry.Reading{
		SensorID: event.DeviceID(),
		At:       event.Data.Temperature.UpdateTime,
		Value:    event.Data.Temperature.Value,
	}, true
}
