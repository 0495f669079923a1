package window

import (
	"errors"
	"time"

	"gonum.org/v1/gonum/interp"
)

// DefaultResampleStep is the uniform axis resolution used for clustering.
const DefaultResampleStep = 15 * time.Minute

// ErrInsufficientData is returned when a window cannot be resampled, either
// because a sensor has fewer than two readings in it or because the series
// do not overlap long enough to form a shared axis.
var ErrInsufficientData = errors.New("window: insufficient data for resampling")

// Resample cuts the slices to [tl, tr], clamps the interval to the inner
// bounds shared by every series, and linearly interpolates each series onto
// a uniform axis with the given step. The returned matrix has one row per
// slice, aligned with the input order.
func Resample(slices []Slice, tl, tr time.Time, step time.Duration) ([]time.Time, [][]float64, error) {
	if len(slices) == 0 {
		return nil, nil, ErrInsufficientData
	}
	if step <= 0 {
		step = DefaultResampleStep
	}

	for _, s := range slices {
		if len(s.Times) < 2 {
			return nil, nil, ErrInsufficientData
		}
		if first := s.Times[0]; first.After(tl) {
			tl = first
		}
		if last := s.Times[len(s.Times)-1]; last.Before(tr) {
			tr = last
		}
	}
	if !tr.After(tl) {
		return nil, nil, ErrInsufficientData
	}

	var axis []time.Time
	for t := tl; !t.After(tr); t = t.Add(step) {
		axis = append(axis, t)
	}
	if len(axis) < 2 {
		return nil, nil, ErrInsufficientData
	}

	matrix := make([][]float64, len(slices))
	for i, s := range slices {
		xs, ys := dedupe(s)
		if len(xs) < 2 {
			return nil, nil, ErrInsufficientData
		}
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err != nil {
			return nil, nil, err
		}
		row := make([]float64, len(axis))
		for j, t := range axis {
			row[j] = pl.Predict(unix(t))
		}
		matrix[i] = row
	}
	return axis, matrix, nil
}

// dedupe converts a slice to float axes, dropping repeated timestamps so
// the interpolant sees strictly increasing xs.
func dedupe(s Slice) ([]float64, []float64) {
	xs := make([]float64, 0, len(s.Times))
	ys := make([]float64, 0, len(s.Times))
	for i := range s.Times {
		x := unix(s.Times[i])
		if len(xs) > 0 && x <= xs[len(xs)-1] {
			ys[len(ys)-1] = s.Values[i]
			continue
		}
		xs = append(xs, x)
		ys = append(ys, s.Values[i])
	}
	return xs, ys
}

func unix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
