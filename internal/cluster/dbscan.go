package cluster

import "math"

// Noise is the label assigned to points outside any dense cluster.
const Noise = -1

// Params holds the DBSCAN parameters: neighbourhood radius and the minimum
// number of points that can form a cluster.
type Params struct {
	Eps       float64
	MinPoints int
}

// DBSCAN labels each feature vector with its cluster index, or Noise for
// points that are not density-reachable from any cluster. Labels are
// assigned in input order, so identical input yields identical labels.
func DBSCAN(points [][]float64, p Params) []int {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = Noise
	}
	if p.Eps <= 0 || p.MinPoints <= 0 {
		return labels
	}

	visited := make([]bool, len(points))
	cluster := 0
	for i := range points {
		if visited[i] {
			continue
		}
		visited[i] = true
		neighbours := regionQuery(points, i, p.Eps)
		if len(neighbours) < p.MinPoints {
			continue
		}
		labels[i] = cluster
		expand(points, neighbours, cluster, p, visited, labels)
		cluster++
	}
	return labels
}

func expand(points [][]float64, seeds []int, cluster int, p Params, visited []bool, labels []int) {
	for k := 0; k < len(seeds); k++ {
		j := seeds[k]
		if !visited[j] {
			visited[j] = true
			next := regionQuery(points, j, p.Eps)
			if len(next) >= p.MinPoints {
				seeds = append(seeds, next...)
			}
		}
		if labels[j] == Noise {
			labels[j] = cluster
		}
	}
}

func regionQuery(points [][]float64, i int, eps float64) []int {
	var neighbours []int
	for j := range points {
		if euclidean(points[i], points[j]) <= eps {
			neighbours = append(neighbours, j)
		}
	}
	return neighbours
}

func euclidean(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
