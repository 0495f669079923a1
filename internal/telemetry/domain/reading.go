package telemetry

import "time"

// Reading is a single temperature sample received from the vendor API.
type Reading struct {
	SensorID string
	At       time.Time
	Value    float64
}

// Series is the retained sample history for one sensor. Samples are kept
// in timestamp order; Outlier marks samples that fell outside the dominant
// cluster during a clustering pass.
type Series struct {
	SensorID string
	Times    []time.Time
	Values   []float64
	Outlier  []bool
}

// Len returns the number of retained samples.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Times)
}
