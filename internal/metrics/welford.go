package metrics

import "math"

// RunningStats holds running statistics using Welford's online algorithm.
// Mean and standard deviation are updated in O(1) without storing the
// observations.
type RunningStats struct {
	Count int     // number of observations
	Mean  float64 // running mean
	M2    float64 // sum of squared differences from the mean
}

// NewRunningStats resumes from previously saved statistics
func NewRunningStats(mean, stddev float64, count int) RunningStats {
	if count == 0 {
		return RunningStats{}
	}
	// stddev = sqrt(M2 / n), so M2 = stddev^2 * n
	return RunningStats{
		Count: count,
		Mean:  mean,
		M2:    stddev * stddev * float64(count),
	}
}

// Update adds a new observation.
// Reference: https://en.wikipedia.org/wiki/Algorithms_for_calculating_variance#Welford's_online_algorithm
func (s *RunningStats) Update(value float64) {
	s.Count++
	delta := value - s.Mean
	s.Mean += delta / float64(s.Count)
	delta2 := value - s.Mean
	s.M2 += delta * delta2
}

// StdDev returns the population standard deviation, 0 with fewer than 2 observations
func (s RunningStats) StdDev() float64 {
	if s.Count < 2 {
		return 0
	}
	return math.Sqrt(s.M2 / float64(s.Count))
}
