package simunit

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/heliossim/helios/pkg/schema"
)

// DefaultVstackPattern matches indexed signal families: "base_3" addresses
// column 3 of a 1D variable, "base_2_5" addresses column 2, row 5 of a 2D
// variable. The base is non-greedy so both index groups can match. Name
// indices are 1-based; array positions are 0-based.
const DefaultVstackPattern = `^(.+?)_(\d+)(?:_(\d+))?$`

// Stacker groups indexed scalar signal families into vector or matrix
// signals and expands them back. The pattern needs at least two capture
// groups: base name and column index; an optional third group carries the
// row index for matrix variables.
type Stacker struct {
	re *regexp.Regexp
}

// NewStacker compiles the grouping pattern, falling back to the default when
// the pattern is empty.
func NewStacker(pattern string) (*Stacker, error) {
	if pattern == "" {
		pattern = DefaultVstackPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid vstack pattern %q: %s", pattern, err.Error()).WithCause(err)
	}
	if re.NumSubexp() < 2 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"vstack pattern %q needs at least 2 capture groups, got %d", pattern, re.NumSubexp())
	}
	return &Stacker{re: re}, nil
}

type member struct {
	signal *schema.Signal
	row    int // 0 for 1D members
	col    int
	matrix bool
}

// Group merges matching scalar signal families into one signal per base name
// and passes everything else through unchanged. Family members must be
// scalar, share an identical timeline, and form a dense 1-based index range.
// Grouping runs after resampling, so shared timelines are the normal case.
func (st *Stacker) Group(signals []*schema.Signal) ([]*schema.Signal, error) {
	families := make(map[string][]member)
	var order []string
	var out []*schema.Signal

	for _, s := range signals {
		m := st.re.FindStringSubmatch(s.Label)
		if m == nil || m[1] == "" || m[2] == "" {
			out = append(out, s)
			continue
		}

		first, err := strconv.Atoi(m[2])
		if err != nil || first < 1 {
			out = append(out, s)
			continue
		}

		// Group 2 is the column index; group 3, when present, is the row.
		mem := member{signal: s, col: first - 1}
		if len(m) > 3 && m[3] != "" {
			second, err := strconv.Atoi(m[3])
			if err != nil || second < 1 {
				out = append(out, s)
				continue
			}
			mem.matrix = true
			mem.row = second - 1
		}

		base := m[1]
		if _, seen := families[base]; !seen {
			order = append(order, base)
		}
		families[base] = append(families[base], mem)
	}

	for _, base := range order {
		stacked, err := stackFamily(base, families[base])
		if err != nil {
			return nil, err
		}
		out = append(out, stacked)
	}
	return out, nil
}

func stackFamily(base string, members []member) (*schema.Signal, error) {
	ref := members[0].signal
	matrix := members[0].matrix
	rows, cols := 0, 0

	for _, m := range members {
		s := m.signal
		if s.SampleWidth() != 1 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"vstack member %q is not scalar", s.Label)
		}
		if m.matrix != matrix {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"vstack family %q mixes 1D and 2D member names", base)
		}
		if s.Len() != ref.Len() {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"vstack member %q has %d samples, %q has %d",
				s.Label, s.Len(), ref.Label, ref.Len())
		}
		if m.row+1 > rows {
			rows = m.row + 1
		}
		if m.col+1 > cols {
			cols = m.col + 1
		}
	}

	wantMembers := cols
	if matrix {
		wantMembers = rows * cols
	}
	if len(members) != wantMembers {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"vstack family %q is sparse: %d members for a %s layout",
			base, len(members), layoutString(matrix, rows, cols))
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i].row != members[j].row {
			return members[i].row < members[j].row
		}
		return members[i].col < members[j].col
	})

	n := ref.Len()
	w := cols
	if matrix {
		w = rows * cols
	}
	out := &schema.Signal{
		Label:      base,
		Unit:       ref.Unit,
		Timestamps: ref.Timestamps,
		Values:     make([]float64, n*w),
		Cols:       cols,
	}
	if matrix {
		out.Rows = rows
	}

	for idx, m := range members {
		for i := 0; i < n; i++ {
			out.Values[i*w+idx] = m.signal.Values[i]
		}
	}
	return out, nil
}

func layoutString(matrix bool, rows, cols int) string {
	if matrix {
		return fmt.Sprintf("%dx%d", rows, cols)
	}
	return fmt.Sprintf("1x%d", cols)
}

// Ungroup expands a vector or matrix signal into its indexed scalar family,
// the inverse of Group. Scalar signals pass through as a single-element
// slice.
func (st *Stacker) Ungroup(s *schema.Signal) []*schema.Signal {
	w := s.SampleWidth()
	if w == 1 {
		return []*schema.Signal{s}
	}

	n := s.Len()
	cols := s.Cols
	out := make([]*schema.Signal, 0, w)
	for idx := 0; idx < w; idx++ {
		var label string
		if s.Rows > 0 {
			label = fmt.Sprintf("%s_%d_%d", s.Label, idx%cols+1, idx/cols+1)
		} else {
			label = fmt.Sprintf("%s_%d", s.Label, idx+1)
		}
		values := make([]float64, n)
		for i := 0; i < n; i++ {
			values[i] = s.Values[i*w+idx]
		}
		out = append(out, &schema.Signal{
			Label:      label,
			Unit:       s.Unit,
			Timestamps: s.Timestamps,
			Values:     values,
		})
	}
	return out
}
