package cluster

import "sort"

const (
	// DefaultEpsilonModifier scales the data-derived epsilon.
	DefaultEpsilonModifier = 2.0

	// DefaultMinClusterSize is the minimum number of series that can form
	// a cluster.
	DefaultMinClusterSize = 2

	// DefaultEpsilonFloor replaces a degenerate data-derived epsilon, which
	// happens when more than half the series are identical.
	DefaultEpsilonFloor = 0.1
)

// Classifier labels sensor series as cluster members or outliers using
// DBSCAN over their resampled value vectors. Epsilon is derived from the
// data on every pass: the median distance of each series to the pointwise
// median series, scaled by a modifier.
type Classifier struct {
	epsilonModifier float64
	minClusterSize  int
	epsilonFloor    float64
}

// ClassifierOption configures the classifier.
type ClassifierOption func(*Classifier)

// WithEpsilonModifier overrides the epsilon scale factor.
func WithEpsilonModifier(modifier float64) ClassifierOption {
	return func(c *Classifier) {
		if modifier > 0 {
			c.epsilonModifier = modifier
		}
	}
}

// WithMinClusterSize overrides the minimum cluster size.
func WithMinClusterSize(size int) ClassifierOption {
	return func(c *Classifier) {
		if size > 0 {
			c.minClusterSize = size
		}
	}
}

// WithEpsilonFloor overrides the fallback epsilon.
func WithEpsilonFloor(floor float64) ClassifierOption {
	return func(c *Classifier) {
		if floor > 0 {
			c.epsilonFloor = floor
		}
	}
}

// NewClassifier constructs a classifier with default parameters.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		epsilonModifier: DefaultEpsilonModifier,
		minClusterSize:  DefaultMinClusterSize,
		epsilonFloor:    DefaultEpsilonFloor,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns one entry per sensor id; true marks an outlier. The ids
// slice is aligned row-for-row with the feature matrix. A sensor is an
// outlier when DBSCAN leaves it as noise or places it outside the most
// populated cluster.
func (c *Classifier) Classify(ids []string, features [][]float64) map[string]bool {
	labels := DBSCAN(features, Params{
		Eps:       c.epsilon(features),
		MinPoints: c.minClusterSize,
	})

	majority := majorityLabel(labels)
	out := make(map[string]bool, len(ids))
	for i, id := range ids {
		if i >= len(labels) {
			break
		}
		out[id] = labels[i] == Noise || labels[i] != majority
	}
	return out
}

// epsilon derives the DBSCAN radius from the feature matrix.
func (c *Classifier) epsilon(features [][]float64) float64 {
	eps := dynamicEpsilon(features) * c.epsilonModifier
	if eps <= 0 {
		eps = c.epsilonFloor
	}
	return eps
}

// dynamicEpsilon is the median Euclidean distance of each series to the
// pointwise median series.
func dynamicEpsilon(features [][]float64) float64 {
	if len(features) == 0 || len(features[0]) == 0 {
		return 0
	}
	med := pointwiseMedian(features)
	distances := make([]float64, 0, len(features))
	for _, row := range features {
		distances = append(distances, euclidean(row, med))
	}
	sort.Float64s(distances)
	return median(distances)
}

func pointwiseMedian(features [][]float64) []float64 {
	width := len(features[0])
	med := make([]float64, width)
	column := make([]float64, 0, len(features))
	for j := 0; j < width; j++ {
		column = column[:0]
		for _, row := range features {
			if j < len(row) {
				column = append(column, row[j])
			}
		}
		sort.Float64s(column)
		med[j] = median(column)
	}
	return med
}

// median is the midpoint median of an ascending slice: the middle element
// for odd lengths, the mean of the two central elements for even lengths.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// majorityLabel returns the most populated non-noise label; ties resolve to
// the smallest label so classification stays deterministic.
func majorityLabel(labels []int) int {
	counts := make(map[int]int)
	for _, l := range labels {
		if l >= 0 {
			counts[l]++
		}
	}
	majority := Noise
	best := 0
	for l, n := range counts {
		if n > best || (n == best && (majority == Noise || l < majority)) {
			majority = l
			best = n
		}
	}
	return majority
}
