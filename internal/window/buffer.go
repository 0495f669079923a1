package window

import (
	"sort"
	"time"

	telemetry "outlier-monitor/internal/telemetry/domain"
)

// Slice is the portion of one sensor's series inside a window interval.
type Slice struct {
	SensorID string
	Times    []time.Time
	Values   []float64
}

// Buffer retains a trailing window of readings per sensor. Readings older
// than the retention horizon relative to the latest received timestamp are
// evicted on append. The buffer is not safe for concurrent use; the
// processing loop owns it.
type Buffer struct {
	retention time.Duration
	series    map[string]*telemetry.Series
	order     []string
	latest    time.Time
}

// New constructs a buffer. Retention must cover at least the clustering
// window; a larger horizon keeps history around for plots and reports.
func New(retention time.Duration) *Buffer {
	return &Buffer{
		retention: retention,
		series:    make(map[string]*telemetry.Series),
	}
}

// Track registers a sensor so it participates in window coverage checks
// even before its first reading arrives.
func (b *Buffer) Track(sensorID string) {
	if sensorID == "" {
		return
	}
	if _, ok := b.series[sensorID]; ok {
		return
	}
	b.series[sensorID] = &telemetry.Series{SensorID: sensorID}
	b.order = append(b.order, sensorID)
	sort.Strings(b.order)
}

// Tracked reports whether the sensor is registered.
func (b *Buffer) Tracked(sensorID string) bool {
	_, ok := b.series[sensorID]
	return ok
}

// SensorCount returns the number of tracked sensors.
func (b *Buffer) SensorCount() int { return len(b.order) }

// Sensors returns the tracked sensor ids in stable order.
func (b *Buffer) Sensors() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Append adds a reading to its sensor's series, keeping timestamp order,
// and evicts samples that dropped out of the retention horizon. Readings
// for untracked sensors are ignored.
func (b *Buffer) Append(r telemetry.Reading) bool {
	s, ok := b.series[r.SensorID]
	if !ok {
		return false
	}
	if r.At.After(b.latest) {
		b.latest = r.At
	}

	i := len(s.Times)
	for i > 0 && s.Times[i-1].After(r.At) {
		i--
	}
	s.Times = append(s.Times, time.Time{})
	s.Values = append(s.Values, 0)
	s.Outlier = append(s.Outlier, false)
	copy(s.Times[i+1:], s.Times[i:])
	copy(s.Values[i+1:], s.Values[i:])
	copy(s.Outlier[i+1:], s.Outlier[i:])
	s.Times[i] = r.At
	s.Values[i] = r.Value
	s.Outlier[i] = false

	b.evict()
	return true
}

func (b *Buffer) evict() {
	if b.retention <= 0 || b.latest.IsZero() {
		return
	}
	horizon := b.latest.Add(-b.retention)
	for _, id := range b.order {
		s := b.series[id]
		cut := 0
		for cut < len(s.Times) && s.Times[cut].Before(horizon) {
			cut++
		}
		if cut > 0 {
			s.Times = append(s.Times[:0], s.Times[cut:]...)
			s.Values = append(s.Values[:0], s.Values[cut:]...)
			s.Outlier = append(s.Outlier[:0], s.Outlier[cut:]...)
		}
	}
}

// Latest returns the most recent reading timestamp seen by the buffer.
func (b *Buffer) Latest() time.Time { return b.latest }

// Covered reports whether every tracked sensor has data and at least one
// full window of time has elapsed since the latest first sample.
func (b *Buffer) Covered(now time.Time, window time.Duration) bool {
	if len(b.order) == 0 {
		return false
	}
	var latestFirst time.Time
	for _, id := range b.order {
		s := b.series[id]
		if s.Len() == 0 {
			return false
		}
		if s.Times[0].After(latestFirst) {
			latestFirst = s.Times[0]
		}
	}
	return now.Sub(latestFirst) >= window
}

// Snapshot returns, for every sensor with at least one reading inside
// [tl, tr], a copy of the readings in the interval, in stable sensor order.
func (b *Buffer) Snapshot(tl, tr time.Time) []Slice {
	var out []Slice
	for _, id := range b.order {
		s := b.series[id]
		lo, hi := intervalBounds(s.Times, tl, tr)
		if lo >= hi {
			continue
		}
		slice := Slice{
			SensorID: id,
			Times:    append([]time.Time(nil), s.Times[lo:hi]...),
			Values:   append([]float64(nil), s.Values[lo:hi]...),
		}
		out = append(out, slice)
	}
	return out
}

// MarkOutliers flags retained samples of the named sensors inside [tl, tr].
func (b *Buffer) MarkOutliers(sensorIDs []string, tl, tr time.Time) {
	for _, id := range sensorIDs {
		s, ok := b.series[id]
		if !ok {
			continue
		}
		lo, hi := intervalBounds(s.Times, tl, tr)
		for i := lo; i < hi; i++ {
			s.Outlier[i] = true
		}
	}
}

// Series returns a copy of the retained series for one sensor.
func (b *Buffer) Series(sensorID string) (telemetry.Series, bool) {
	s, ok := b.series[sensorID]
	if !ok {
		return telemetry.Series{}, false
	}
	return telemetry.Series{
		SensorID: s.SensorID,
		Times:    append([]time.Time(nil), s.Times...),
		Values:   append([]float64(nil), s.Values...),
		Outlier:  append([]bool(nil), s.Outlier...),
	}, true
}

func intervalBounds(times []time.Time, tl, tr time.Time) (int, int) {
	lo := sort.Search(len(times), func(i int) bool { return !times[i].Before(tl) })
	hi := sort.Search(len(times), func(i int) bool { return times[i].After(tr) })
	return lo, hi
}
