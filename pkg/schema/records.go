package schema

import "fmt"

// Signal is an immutable labeled time series. Timestamps are seconds,
// monotonically non-decreasing, and len(Timestamps) == len(Values).
// Values[i] holds the sample at Timestamps[i]; multi-dimensional samples
// are flattened row-major, with Rows/Cols describing the per-sample shape
// (Rows == 0 && Cols == 0 means scalar samples).
type Signal struct {
	Label      string    `json:"label"`
	Timestamps []float64 `json:"timestamps"`
	Values     []float64 `json:"values"`
	Unit       string    `json:"unit,omitempty"`
	Rows       int       `json:"rows,omitempty"`
	Cols       int       `json:"cols,omitempty"`
}

// SampleWidth returns how many flattened values one sample occupies.
func (s *Signal) SampleWidth() int {
	w := 1
	if s.Cols > 0 {
		w = s.Cols
	}
	if s.Rows > 0 {
		w *= s.Rows
	}
	return w
}

// Len returns the number of samples.
func (s *Signal) Len() int {
	return len(s.Timestamps)
}

// Sample returns the flattened values of sample i.
func (s *Signal) Sample(i int) []float64 {
	w := s.SampleWidth()
	return s.Values[i*w : (i+1)*w]
}

// Validate checks the timestamp/value length invariant and monotonicity.
func (s *Signal) Validate() error {
	if len(s.Values) != s.Len()*s.SampleWidth() {
		return NewErrorf(ErrCodeValidation,
			"signal %q: %d values for %d timestamps (sample width %d)",
			s.Label, len(s.Values), s.Len(), s.SampleWidth())
	}
	for i := 1; i < len(s.Timestamps); i++ {
		if s.Timestamps[i] < s.Timestamps[i-1] {
			return NewErrorf(ErrCodeValidation,
				"signal %q: timestamps not monotonically non-decreasing at index %d", s.Label, i)
		}
	}
	return nil
}

// Parameter is an immutable labeled constant: a scalar or a fixed-shape
// array flattened row-major. Rows == 0 && Cols == 0 means scalar.
type Parameter struct {
	Label       string    `json:"label"`
	Description string    `json:"description,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	Values      []float64 `json:"values"`
	Rows        int       `json:"rows,omitempty"`
	Cols        int       `json:"cols,omitempty"`
}

// Shape returns the declared (rows, cols) with scalars reported as (0, 0).
func (p *Parameter) Shape() (int, int) {
	return p.Rows, p.Cols
}

// Validate checks that the flattened value count matches the declared shape.
func (p *Parameter) Validate() error {
	want := 1
	if p.Cols > 0 {
		want = p.Cols
	}
	if p.Rows > 0 {
		want *= p.Rows
	}
	if len(p.Values) != want {
		return NewErrorf(ErrCodeValidation,
			"parameter %q: %d values for shape %s", p.Label, len(p.Values), shapeString(p.Rows, p.Cols))
	}
	return nil
}

func shapeString(rows, cols int) string {
	switch {
	case rows == 0 && cols == 0:
		return "scalar"
	case rows == 0:
		return fmt.Sprintf("[%d]", cols)
	default:
		return fmt.Sprintf("[%d][%d]", rows, cols)
	}
}
