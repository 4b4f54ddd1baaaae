package schema

import (
	"encoding/json"
	"fmt"
)

// VarRole enumerates the roles a dictionary variable can play.
type VarRole string

const (
	RoleInput     VarRole = "input"
	RoleOutput    VarRole = "output"
	RoleParameter VarRole = "parameter"
)

// VarKind is derived from a variable's declared shape.
type VarKind string

const (
	KindScalar  VarKind = "scalar"
	KindArray1D VarKind = "array1d"
	KindArray2D VarKind = "array2d"
)

// DefaultEntryPoint is the exported symbol bound when the dictionary does
// not declare one.
const DefaultEntryPoint = "helios_simunit"

// DataDictionary describes a simulation unit's foreign variable layout and
// its entry-point symbol.
type DataDictionary struct {
	EntryPoint string      `json:"entry_point,omitempty"`
	Variables  []DictEntry `json:"variables"`
}

// Entry returns the declared entry-point symbol, falling back to the default.
func (d *DataDictionary) Entry() string {
	if d.EntryPoint != "" {
		return d.EntryPoint
	}
	return DefaultEntryPoint
}

// DictEntry is one variable declaration in a data dictionary.
type DictEntry struct {
	Name         string        `json:"name"`
	Datatype     string        `json:"datatype"`
	Shape        []int         `json:"shape,omitempty"` // [] scalar, [n] 1D, [rows, cols] 2D
	Role         VarRole       `json:"role"`
	Default      *float64      `json:"default,omitempty"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// Kind derives the variable kind from the declared shape.
func (e *DictEntry) Kind() VarKind {
	switch len(e.Shape) {
	case 0:
		return KindScalar
	case 1:
		return KindArray1D
	default:
		return KindArray2D
	}
}

// Count returns the total number of elements the variable holds.
func (e *DictEntry) Count() int {
	n := 1
	for _, d := range e.Shape {
		n *= d
	}
	return n
}

// DatatypeSize returns the byte size of a supported dictionary datatype.
// ok is false for unknown datatypes.
func DatatypeSize(datatype string) (size int, ok bool) {
	switch datatype {
	case "float64", "double":
		return 8, true
	case "float32", "float":
		return 4, true
	case "int64", "uint64":
		return 8, true
	case "int32", "uint32":
		return 4, true
	case "int16", "uint16":
		return 2, true
	case "int8", "uint8", "bool":
		return 1, true
	default:
		return 0, false
	}
}

// Alternative is one item of a dictionary entry's alternatives list: either
// the name of a workflow signal or a constant literal (scalar, 1D or 2D
// array, flattened row-major).
type Alternative struct {
	Name    string
	Literal []float64
	Rows    int
	Cols    int
}

// IsLiteral reports whether the alternative is a constant literal.
func (a *Alternative) IsLiteral() bool {
	return a.Name == ""
}

// UnmarshalJSON accepts a string (signal name), a number (scalar literal),
// a flat array (1D literal) or a nested array (2D literal).
func (a *Alternative) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Name = s
		return nil
	}

	var scalar float64
	if err := json.Unmarshal(data, &scalar); err == nil {
		a.Literal = []float64{scalar}
		return nil
	}

	var flat []float64
	if err := json.Unmarshal(data, &flat); err == nil {
		a.Literal = flat
		a.Cols = len(flat)
		return nil
	}

	var nested [][]float64
	if err := json.Unmarshal(data, &nested); err == nil {
		if len(nested) == 0 {
			return fmt.Errorf("alternative: empty 2D literal")
		}
		cols := len(nested[0])
		for i, row := range nested {
			if len(row) != cols {
				return fmt.Errorf("alternative: ragged 2D literal at row %d", i)
			}
			a.Literal = append(a.Literal, row...)
		}
		a.Rows = len(nested)
		a.Cols = cols
		return nil
	}

	return fmt.Errorf("alternative: expected string, number or numeric array, got %s", string(data))
}

// MarshalJSON emits the same forms UnmarshalJSON accepts.
func (a Alternative) MarshalJSON() ([]byte, error) {
	if !a.IsLiteral() {
		return json.Marshal(a.Name)
	}
	switch {
	case a.Rows > 0:
		nested := make([][]float64, a.Rows)
		for r := 0; r < a.Rows; r++ {
			nested[r] = a.Literal[r*a.Cols : (r+1)*a.Cols]
		}
		return json.Marshal(nested)
	case a.Cols > 0:
		return json.Marshal(a.Literal)
	default:
		return json.Marshal(a.Literal[0])
	}
}
