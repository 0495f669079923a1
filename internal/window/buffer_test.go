package window

import (
	"testing"
	"time"

	telemetry "outlier-monitor/internal/telemetry/domain"
)

var bufferEpoch = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestBufferAppendIgnoresUntracked(t *testing.T) {
	b := New(time.Hour)
	b.Track("sensor-a")

	if ok := b.Append(telemetry.Reading{SensorID: "sensor-b", At: bufferEpoch, Value: 20}); ok {
		t.Fatalf("append accepted reading for untracked sensor")
	}
	if ok := b.Append(telemetry.Reading{SensorID: "sensor-a", At: bufferEpoch, Value: 20}); !ok {
		t.Fatalf("append rejected reading for tracked sensor")
	}
}

func TestBufferAppendKeepsTimestampOrder(t *testing.T) {
	b := New(time.Hour)
	b.Track("sensor-a")

	b.Append(telemetry.Reading{SensorID: "sensor-a", At: bufferEpoch.Add(10 * time.Minute), Value: 2})
	b.Append(telemetry.Reading{SensorID: "sensor-a", At: bufferEpoch, Value: 1})
	b.Append(telemetry.Reading{SensorID: "sensor-a", At: bufferEpoch.Add(5 * time.Minute), Value: 1.5})

	s, ok := b.Series("sensor-a")
	if !ok {
		t.Fatalf("series missing")
	}
	if s.Len() != 3 {
		t.Fatalf("len = %d, want 3", s.Len())
	}
	for i := 1; i < s.Len(); i++ {
		if s.Times[i].Before(s.Times[i-1]) {
			t.Fatalf("series out of order at %d: %v before %v", i, s.Times[i], s.Times[i-1])
		}
	}
	if s.Values[0] != 1 || s.Values[1] != 1.5 || s.Values[2] != 2 {
		t.Fatalf("values = %v, want [1 1.5 2]", s.Values)
	}
}

func TestBufferEvictsBeyondRetention(t *testing.T) {
	b := New(30 * time.Minute)
	b.Track("sensor-a")

	b.Append(telemetry.Reading{SensorID: "sensor-a", At: bufferEpoch, Value: 1})
	b.Append(telemetry.Reading{SensorID: "sensor-a", At: bufferEpoch.Add(10 * time.Minute), Value: 2})
	b.Append(telemetry.Reading{SensorID: "sensor-a", At: bufferEpoch.Add(45 * time.Minute), Value: 3})

	s, _ := b.Series("sensor-a")
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2 after eviction", s.Len())
	}
	if !s.Times[0].Equal(bufferEpoch.Add(10 * time.Minute)) {
		t.Fatalf("oldest retained = %v, want %v", s.Times[0], bufferEpoch.Add(10*time.Minute))
	}
}

func TestBufferCovered(t *testing.T) {
	b := New(6 * time.Hour)
	b.Track("sensor-a")
	b.Track("sensor-b")

	now := bufferEpoch.Add(3 * time.Hour)
	window := 2 * time.Hour

	if b.Covered(now, window) {
		t.Fatalf("covered with an empty sensor")
	}

	b.Append(telemetry.Reading{SensorID: "sensor-a", At: bufferEpoch, Value: 1})
	if b.Covered(now, window) {
		t.Fatalf("covered while sensor-b has no readings")
	}

	b.Append(telemetry.Reading{SensorID: "sensor-b", At: bufferEpoch.Add(2 * time.Hour), Value: 1})
	if b.Covered(now, window) {
		t.Fatalf("covered before a full window elapsed since the latest first sample")
	}
	if !b.Covered(bufferEpoch.Add(4*time.Hour), window) {
		t.Fatalf("not covered after a full window elapsed")
	}
}

func TestBufferSnapshotBoundsAndOrder(t *testing.T) {
	b := New(6 * time.Hour)
	b.Track("sensor-b")
	b.Track("sensor-a")
	b.Track("sensor-c")

	for i := 0; i < 6; i++ {
		at := bufferEpoch.Add(time.Duration(i) * 10 * time.Minute)
		b.Append(telemetry.Reading{SensorID: "sensor-a", At: at, Value: float64(i)})
		b.Append(telemetry.Reading{SensorID: "sensor-b", At: at, Value: float64(i) * 2})
	}
	// sensor-c stays empty and must be absent from the snapshot.

	tl := bufferEpoch.Add(10 * time.Minute)
	tr := bufferEpoch.Add(40 * time.Minute)
	slices := b.Snapshot(tl, tr)

	if len(slices) != 2 {
		t.Fatalf("snapshot has %d slices, want 2", len(slices))
	}
	if slices[0].SensorID != "sensor-a" || slices[1].SensorID != "sensor-b" {
		t.Fatalf("snapshot order = [%s %s], want sorted sensor ids", slices[0].SensorID, slices[1].SensorID)
	}
	for _, s := range slices {
		if len(s.Times) != 4 {
			t.Fatalf("%s slice has %d samples, want 4", s.SensorID, len(s.Times))
		}
		if s.Times[0].Before(tl) || s.Times[len(s.Times)-1].After(tr) {
			t.Fatalf("%s slice leaks outside [%v, %v]", s.SensorID, tl, tr)
		}
	}
}

func TestBufferSnapshotDoesNotAliasSeries(t *testing.T) {
	b := New(6 * time.Hour)
	b.Track("sensor-a")
	b.Append(telemetry.Reading{SensorID: "sensor-a", At: bufferEpoch, Value: 1})

	slices := b.Snapshot(bufferEpoch.Add(-time.Hour), bufferEpoch.Add(time.Hour))
	slices[0].Values[0] = 99

	s, _ := b.Series("sensor-a")
	if s.Values[0] != 1 {
		t.Fatalf("snapshot mutation leaked into the buffer")
	}
}

func TestBufferMarkOutliers(t *testing.T) {
	b := New(6 * time.Hour)
	b.Track("sensor-a")
	b.Track("sensor-b")

	for i := 0; i < 4; i++ {
		at := bufferEpoch.Add(time.Duration(i) * 10 * time.Minute)
		b.Append(telemetry.Reading{SensorID: "sensor-a", At: at, Value: 1})
		b.Append(telemetry.Reading{SensorID: "sensor-b", At: at, Value: 1})
	}

	b.MarkOutliers([]string{"sensor-a", "sensor-missing"}, bufferEpoch.Add(10*time.Minute), bufferEpoch.Add(20*time.Minute))

	s, _ := b.Series("sensor-a")
	want := []bool{false, true, true, false}
	for i, flag := range want {
		if s.Outlier[i] != flag {
			t.Fatalf("sensor-a outlier[%d] = %v, want %v", i, s.Outlier[i], flag)
		}
	}

	s, _ = b.Series("sensor-b")
	for i, flag := range s.Outlier {
		if flag {
			t.Fatalf("sensor-b outlier[%d] set without being marked", i)
		}
	}
}
