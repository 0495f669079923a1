package cluster

import (
	"fmt"
	"reflect"
	"testing"
)

func TestClassifySingleDivergentSensor(t *testing.T) {
	// Nine identical series collapse the data-derived epsilon to zero, so
	// the floor takes over and the divergent tenth sensor ends up as noise.
	var ids []string
	var features [][]float64
	for i := 0; i < 9; i++ {
		ids = append(ids, fmt.Sprintf("sensor-%02d", i))
		features = append(features, []float64{21, 21, 21, 21})
	}
	ids = append(ids, "sensor-hot")
	features = append(features, []float64{21, 24, 28, 33})

	labels := NewClassifier().Classify(ids, features)

	if len(labels) != 10 {
		t.Fatalf("labels has %d entries, want 10", len(labels))
	}
	for _, id := range ids[:9] {
		if labels[id] {
			t.Fatalf("%s flagged as outlier", id)
		}
	}
	if !labels["sensor-hot"] {
		t.Fatalf("divergent sensor not flagged")
	}
}

func TestClassifyNineNearOneFar(t *testing.T) {
	// nine sensors spread around 20 degrees, one stuck near 30
	var ids []string
	var features [][]float64
	for i := 0; i < 9; i++ {
		ids = append(ids, fmt.Sprintf("sensor-%02d", i))
		v := 20 + 0.05*float64(i)
		features = append(features, []float64{v, v, v, v})
	}
	ids = append(ids, "sensor-hot")
	features = append(features, []float64{30, 30, 30, 30})

	labels := NewClassifier().Classify(ids, features)

	outliers := 0
	for id, outlier := range labels {
		if outlier {
			outliers++
			if id != "sensor-hot" {
				t.Fatalf("%s flagged instead of the divergent sensor", id)
			}
		}
	}
	if outliers != 1 {
		t.Fatalf("flagged %d sensors, want exactly 1", outliers)
	}
}

func TestClassifyMinorityClusterIsOutlier(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	features := [][]float64{
		{0}, {0}, {0},
		{10}, {10},
	}

	labels := NewClassifier().Classify(ids, features)

	for _, id := range []string{"a", "b", "c"} {
		if labels[id] {
			t.Fatalf("majority member %s flagged", id)
		}
	}
	for _, id := range []string{"d", "e"} {
		if !labels[id] {
			t.Fatalf("minority member %s not flagged", id)
		}
	}
}

func TestClassifyToleratesSmallSpread(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	features := [][]float64{{21.00}, {21.01}, {21.02}, {21.03}}

	labels := NewClassifier().Classify(ids, features)

	for id, outlier := range labels {
		if outlier {
			t.Fatalf("%s flagged despite small spread", id)
		}
	}
}

func TestClassifyDeterministic(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f"}
	features := [][]float64{
		{20.1, 20.3}, {20.2, 20.2}, {20.0, 20.4},
		{25.0, 25.5}, {25.1, 25.4},
		{40.0, 41.0},
	}

	classifier := NewClassifier()
	first := classifier.Classify(ids, features)
	for i := 0; i < 10; i++ {
		if again := classifier.Classify(ids, features); !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d produced %v, first run produced %v", i, again, first)
		}
	}
}

func TestMedianMidpointForEvenLengths(t *testing.T) {
	cases := []struct {
		sorted []float64
		want   float64
	}{
		{nil, 0},
		{[]float64{4}, 4},
		{[]float64{1, 3}, 2},
		{[]float64{1, 2, 9}, 2},
		{[]float64{0, 0.1, 0.1, 0.2, 0.2, 0.3, 0.3, 0.4, 0.4, 19.6}, 0.25},
	}
	for _, c := range cases {
		if got := median(c.sorted); got != c.want {
			t.Fatalf("median(%v) = %v, want %v", c.sorted, got, c.want)
		}
	}
}

func TestClassifierOptions(t *testing.T) {
	c := NewClassifier(
		WithEpsilonModifier(3),
		WithMinClusterSize(4),
		WithEpsilonFloor(0.5),
	)
	if c.epsilonModifier != 3 || c.minClusterSize != 4 || c.epsilonFloor != 0.5 {
		t.Fatalf("options not applied: %+v", c)
	}

	// non-positive values keep the defaults
	c = NewClassifier(WithEpsilonModifier(0), WithMinClusterSize(-1), WithEpsilonFloor(0))
	if c.epsilonModifier != DefaultEpsilonModifier || c.minClusterSize != DefaultMinClusterSize || c.epsilonFloor != DefaultEpsilonFloor {
		t.Fatalf("defaults not kept: %+v", c)
	}
}
