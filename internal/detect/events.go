package detect

import "time"

// WindowClustered reports the outcome of one clustering pass.
type WindowClustered struct {
	RunID       string          `json:"run_id"`
	At          time.Time       `json:"at"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
	Labels      map[string]bool `json:"labels"`
	Outliers    []string        `json:"outliers"`
}

// SensorFlagged is emitted when a sensor transitions into the outlier set.
type SensorFlagged struct {
	RunID    string    `json:"run_id"`
	SensorID string    `json:"sensor_id"`
	At       time.Time `json:"at"`
}

// Pass is the recorded summary of one clustering pass, kept for reports.
type Pass struct {
	RunID       string
	At          time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Sensors     int
	Outliers    []string
}
