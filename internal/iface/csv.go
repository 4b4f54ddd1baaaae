package iface

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/heliossim/helios/pkg/schema"
)

// CSVCodec reads and writes scalar signal collections as a wide table with a
// shared time column: header "time,<label>,...", one row per sample. Vector
// and matrix signals do not fit this layout; use the sig.json codec for those.
type CSVCodec struct{}

func (c *CSVCodec) Kind() Kind        { return KindSignals }
func (c *CSVCodec) Extension() string { return ".csv" }

func (c *CSVCodec) Read(path string) (*Interface, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"open %s: %s", path, err.Error()).WithCause(err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"parse %s: %s", path, err.Error()).WithCause(err)
	}
	if len(rows) < 2 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s: need a header and at least one sample row", path)
	}
	header := rows[0]
	if len(header) < 2 || header[0] != "time" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s: first column must be \"time\" followed by signal labels", path)
	}

	n := len(rows) - 1
	timestamps := make([]float64, n)
	columns := make([][]float64, len(header)-1)
	for i := range columns {
		columns[i] = make([]float64, n)
	}

	for r, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"%s: row %d has %d fields, header has %d", path, r+2, len(row), len(header))
		}
		for col, field := range row {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"%s: row %d column %q: %s", path, r+2, header[col], err.Error()).WithCause(err)
			}
			if col == 0 {
				timestamps[r] = v
			} else {
				columns[col-1][r] = v
			}
		}
	}

	signals := make([]*schema.Signal, 0, len(columns))
	for i, values := range columns {
		s := &schema.Signal{Label: header[i+1], Timestamps: timestamps, Values: values}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return NewSignals(path, signals), nil
}

func (c *CSVCodec) Write(path string, in *Interface) error {
	signals := in.Signals()
	if len(signals) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "nothing to write to %s", path)
	}
	base := signals[0].Timestamps
	for _, s := range signals {
		if s.SampleWidth() != 1 {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"signal %q is not scalar; the CSV layout cannot hold it, use sig.json", s.Label)
		}
		if len(s.Timestamps) != len(base) {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"signal %q has %d samples, expected %d; CSV needs a shared timeline",
				s.Label, len(s.Timestamps), len(base))
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"create %s: %s", path, err.Error()).WithCause(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := make([]string, 0, len(signals)+1)
	header = append(header, "time")
	for _, s := range signals {
		header = append(header, s.Label)
	}
	if err := w.Write(header); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "write %s: %s", path, err.Error()).WithCause(err)
	}

	row := make([]string, len(signals)+1)
	for i, t := range base {
		row[0] = strconv.FormatFloat(t, 'g', -1, 64)
		for j, s := range signals {
			row[j+1] = strconv.FormatFloat(s.Values[i], 'g', -1, 64)
		}
		if err := w.Write(row); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "write %s: %s", path, err.Error()).WithCause(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "flush %s: %s", path, err.Error()).WithCause(err)
	}
	return nil
}

var _ Codec = (*CSVCodec)(nil)
