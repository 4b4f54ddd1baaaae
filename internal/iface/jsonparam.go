package iface

import (
	"encoding/json"
	"os"

	"github.com/heliossim/helios/pkg/schema"
)

// ParameterJSONCodec reads and writes parameter sets as a JSON container.
// A parameter value may be a scalar number, a flat array, or a nested array
// of equal-length rows (decoded row-major).
type ParameterJSONCodec struct{}

type parameterDocument struct {
	Parameters []parameterEntry `json:"parameters"`
}

type parameterEntry struct {
	Label       string          `json:"label"`
	Description string          `json:"description,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	Value       json.RawMessage `json:"value"`
}

func (c *ParameterJSONCodec) Kind() Kind        { return KindParameters }
func (c *ParameterJSONCodec) Extension() string { return ".json" }

func (c *ParameterJSONCodec) Read(path string) (*Interface, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"read %s: %s", path, err.Error()).WithCause(err)
	}

	var doc parameterDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"parse %s: %s", path, err.Error()).WithCause(err)
	}
	if len(doc.Parameters) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s: parameter container holds no parameters", path)
	}

	params := make([]*schema.Parameter, 0, len(doc.Parameters))
	for _, entry := range doc.Parameters {
		values, rows, cols, err := decodeNumericValue(entry.Value)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"%s: parameter %q: %s", path, entry.Label, err.Error()).WithCause(err)
		}
		p := &schema.Parameter{
			Label:       entry.Label,
			Description: entry.Description,
			Unit:        entry.Unit,
			Values:      values,
			Rows:        rows,
			Cols:        cols,
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return NewParameters(path, params), nil
}

func (c *ParameterJSONCodec) Write(path string, in *Interface) error {
	if in.Kind() != KindParameters {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"cannot write %s interface as a parameter container", in.Kind())
	}

	doc := parameterDocument{}
	for _, p := range in.Parameters() {
		value, err := encodeNumericValue(p.Values, p.Rows, p.Cols)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeStore,
				"encode parameter %q: %s", p.Label, err.Error()).WithCause(err)
		}
		doc.Parameters = append(doc.Parameters, parameterEntry{
			Label:       p.Label,
			Description: p.Description,
			Unit:        p.Unit,
			Value:       value,
		})
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"encode %s: %s", path, err.Error()).WithCause(err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"write %s: %s", path, err.Error()).WithCause(err)
	}
	return nil
}

// decodeNumericValue accepts a scalar, a flat array, or a nested array of
// equal-length rows, and returns flattened row-major values with the
// inferred shape. Scalars report shape (0, 0).
func decodeNumericValue(raw json.RawMessage) ([]float64, int, int, error) {
	var scalar float64
	if err := json.Unmarshal(raw, &scalar); err == nil {
		return []float64{scalar}, 0, 0, nil
	}

	var flat []float64
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, 0, len(flat), nil
	}

	var nested [][]float64
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, 0, 0, schema.NewError(schema.ErrCodeValidation,
			"value must be a number, an array of numbers, or an array of arrays")
	}
	if len(nested) == 0 {
		return nil, 0, 0, schema.NewError(schema.ErrCodeValidation, "empty nested array")
	}
	cols := len(nested[0])
	values := make([]float64, 0, len(nested)*cols)
	for i, row := range nested {
		if len(row) != cols {
			return nil, 0, 0, schema.NewErrorf(schema.ErrCodeValidation,
				"ragged nested array: row %d has %d values, expected %d", i, len(row), cols)
		}
		values = append(values, row...)
	}
	return values, len(nested), cols, nil
}

// encodeNumericValue is the inverse of decodeNumericValue.
func encodeNumericValue(values []float64, rows, cols int) (json.RawMessage, error) {
	switch {
	case rows == 0 && cols == 0:
		if len(values) != 1 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"scalar shape with %d values", len(values))
		}
		return json.Marshal(values[0])
	case rows == 0:
		return json.Marshal(values)
	default:
		nested := make([][]float64, rows)
		for r := 0; r < rows; r++ {
			nested[r] = values[r*cols : (r+1)*cols]
		}
		return json.Marshal(nested)
	}
}

var _ Codec = (*ParameterJSONCodec)(nil)
