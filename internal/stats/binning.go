package stats

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean, or 0 for no values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Skewness returns the population skewness g1, or 0 when the values have
// no spread.
func Skewness(values []float64) float64 {
	n := float64(len(values))
	if n == 0 {
		return 0
	}
	mean := Mean(values)
	m2, m3 := 0.0, 0.0
	for _, v := range values {
		d := v - mean
		m2 += d * d
		m3 += d * d * d
	}
	m2 /= n
	m3 /= n
	if m2 == 0 {
		return 0
	}
	return m3 / math.Pow(m2, 1.5)
}

// MinMax returns the smallest and largest value.
func MinMax(values []float64) (float64, float64) {
	minVal, maxVal := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}

// DoaneBins is Doane's bin count: 1 + log2(n) + log2(1 + |g1|/sigma_g1),
// rounded up. Non-finite values are ignored. Fewer than three values, or
// values without spread, get a single bin.
func DoaneBins(values []float64) int {
	values = finite(values)
	n := float64(len(values))
	if n <= 2 {
		return 1
	}
	minVal, maxVal := MinMax(values)
	if maxVal == minVal {
		return 1
	}
	sg1 := math.Sqrt(6 * (n - 2) / ((n + 1) * (n + 3)))
	k := math.Ceil(1 + math.Log2(n) + math.Log2(1+math.Abs(Skewness(values))/sg1))
	if math.IsNaN(k) || math.IsInf(k, 0) || k < 1 {
		return 1
	}
	return int(k)
}

// BinEdges returns bins+1 evenly spaced edges spanning the values. With
// bins <= 0 the count comes from DoaneBins. A constant sample is widened
// by half a unit on each side. Non-finite values are ignored.
func BinEdges(values []float64, bins int) []float64 {
	values = finite(values)
	if len(values) == 0 {
		return nil
	}
	if bins <= 0 {
		bins = DoaneBins(values)
	}
	minVal, maxVal := MinMax(values)
	if minVal == maxVal {
		minVal -= 0.5
		maxVal += 0.5
	}

	edges := make([]float64, bins+1)
	width := (maxVal - minVal) / float64(bins)
	for i := range edges {
		edges[i] = minVal + float64(i)*width
	}
	// pin the last edge so rounding cannot leave the maximum outside
	edges[bins] = maxVal
	return edges
}

func finite(values []float64) []float64 {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out := append(make([]float64, 0, len(values)), values[:i]...)
			for _, w := range values[i+1:] {
				if !math.IsNaN(w) && !math.IsInf(w, 0) {
					out = append(out, w)
				}
			}
			return out
		}
	}
	return values
}

// Cut returns the bucket of v: the i with edges[i] <= v < edges[i+1],
// where the last bucket also holds its upper edge. Values outside the
// edges return -1.
func Cut(v float64, edges []float64) int {
	last := len(edges) - 1
	if last < 1 || math.IsNaN(v) || v < edges[0] || v > edges[last] {
		return -1
	}
	if v == edges[last] {
		return last - 1
	}
	// first edge strictly greater than v
	i := sort.Search(len(edges), func(i int) bool { return edges[i] > v })
	return i - 1
}

// Discretize assigns every value to its bucket with Cut.
func Discretize(values []float64, edges []float64) []int {
	bins := make([]int, len(values))
	for i, v := range values {
		bins[i] = Cut(v, edges)
	}
	return bins
}
