package simunit

import (
	"math"

	"github.com/heliossim/helios/pkg/schema"
)

// Grid returns the uniform simulation timeline for a set of input signals:
// evenly spaced timestamps at stepSeconds covering the union of the input
// time ranges, from the earliest start to the latest end. The end point is
// included when it falls on the grid.
func Grid(signals []*schema.Signal, stepSeconds float64) []float64 {
	if len(signals) == 0 || stepSeconds <= 0 {
		return nil
	}

	start := math.Inf(1)
	end := math.Inf(-1)
	for _, s := range signals {
		if s.Len() == 0 {
			continue
		}
		if t := s.Timestamps[0]; t < start {
			start = t
		}
		if t := s.Timestamps[s.Len()-1]; t > end {
			end = t
		}
	}
	if math.IsInf(start, 1) || end < start {
		return nil
	}

	n := int(math.Floor((end-start)/stepSeconds+1e-9)) + 1
	grid := make([]float64, n)
	for i := range grid {
		grid[i] = start + float64(i)*stepSeconds
	}
	return grid
}

// Resample returns a copy of s sampled on the given grid using linear
// interpolation. Outside the signal's own range the boundary sample is held,
// so signals shorter than the union range extend flat instead of
// extrapolating. Vector and matrix samples are interpolated componentwise.
func Resample(s *schema.Signal, grid []float64) *schema.Signal {
	w := s.SampleWidth()
	out := &schema.Signal{
		Label:      s.Label,
		Unit:       s.Unit,
		Rows:       s.Rows,
		Cols:       s.Cols,
		Timestamps: append([]float64(nil), grid...),
		Values:     make([]float64, len(grid)*w),
	}
	if s.Len() == 0 {
		return out
	}

	// j is the left bracket index; both the grid and the timestamps are
	// non-decreasing so one forward scan covers all grid points.
	j := 0
	for i, t := range grid {
		for j < s.Len()-1 && s.Timestamps[j+1] <= t {
			j++
		}

		dst := out.Values[i*w : (i+1)*w]
		switch {
		case t <= s.Timestamps[0]:
			copy(dst, s.Sample(0))
		case j >= s.Len()-1:
			copy(dst, s.Sample(s.Len()-1))
		default:
			t0, t1 := s.Timestamps[j], s.Timestamps[j+1]
			a, b := s.Sample(j), s.Sample(j+1)
			if t1 == t0 {
				copy(dst, b)
				continue
			}
			frac := (t - t0) / (t1 - t0)
			for k := range dst {
				dst[k] = a[k] + frac*(b[k]-a[k])
			}
		}
	}
	return out
}
