package iface

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/heliossim/helios/pkg/schema"
)

// DCMCodec reads and writes the DCM calibration exchange format used by
// automotive calibration tools. Supported blocks: FESTWERT (scalar),
// FESTWERTEBLOCK (1D array, or 2D via the "cols @ rows" size notation).
// LANGNAME and EINHEIT_W carry description and unit.
type DCMCodec struct{}

func (c *DCMCodec) Kind() Kind        { return KindParameters }
func (c *DCMCodec) Extension() string { return ".dcm" }

func (c *DCMCodec) Read(path string) (*Interface, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"open %s: %s", path, err.Error()).WithCause(err)
	}
	defer f.Close()

	var params []*schema.Parameter
	var cur *schema.Parameter
	var wantValues int
	lineNo := 0

	fail := func(format string, args ...any) error {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"%s:%d: %s", path, lineNo, fmt.Sprintf(format, args...))
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "!") {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "KONSERVIERUNG_FORMAT":
			continue

		case "FESTWERT":
			if len(fields) != 2 {
				return nil, fail("FESTWERT needs exactly one name")
			}
			if cur != nil {
				return nil, fail("FESTWERT %s opened inside unterminated block %q", fields[1], cur.Label)
			}
			cur = &schema.Parameter{Label: fields[1]}
			wantValues = 1

		case "FESTWERTEBLOCK":
			if cur != nil {
				return nil, fail("FESTWERTEBLOCK opened inside unterminated block %q", cur.Label)
			}
			label, rows, cols, err := parseBlockHeader(fields)
			if err != nil {
				return nil, fail("%s", err.Error())
			}
			cur = &schema.Parameter{Label: label, Rows: rows, Cols: cols}
			wantValues = cols
			if rows > 0 {
				wantValues *= rows
			}

		case "LANGNAME":
			if cur == nil {
				return nil, fail("LANGNAME outside a block")
			}
			cur.Description = strings.Trim(strings.TrimPrefix(line, "LANGNAME"), " \t\"")

		case "EINHEIT_W":
			if cur == nil {
				return nil, fail("EINHEIT_W outside a block")
			}
			cur.Unit = strings.Trim(strings.TrimPrefix(line, "EINHEIT_W"), " \t\"")

		case "WERT":
			if cur == nil {
				return nil, fail("WERT outside a block")
			}
			for _, field := range fields[1:] {
				v, err := strconv.ParseFloat(field, 64)
				if err != nil {
					return nil, fail("bad value %q in block %q", field, cur.Label)
				}
				cur.Values = append(cur.Values, v)
			}

		case "END":
			if cur == nil {
				return nil, fail("END outside a block")
			}
			if len(cur.Values) != wantValues {
				return nil, fail("block %q declares %d values, got %d",
					cur.Label, wantValues, len(cur.Values))
			}
			params = append(params, cur)
			cur = nil

		default:
			// Ignore block keywords this build does not consume (FUNKTION,
			// TEXT, SSTX, ...).
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"read %s: %s", path, err.Error()).WithCause(err)
	}
	if cur != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s: unterminated block %q", path, cur.Label)
	}
	if len(params) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s: no FESTWERT or FESTWERTEBLOCK entries found", path)
	}
	return NewParameters(path, params), nil
}

// parseBlockHeader handles "FESTWERTEBLOCK name N" for 1D blocks and
// "FESTWERTEBLOCK name COLS @ ROWS" for matrices.
func parseBlockHeader(fields []string) (label string, rows, cols int, err error) {
	switch len(fields) {
	case 3:
		label = fields[1]
		cols, err = strconv.Atoi(fields[2])
		if err != nil || cols < 1 {
			return "", 0, 0, fmt.Errorf("bad FESTWERTEBLOCK size %q", fields[2])
		}
		return label, 0, cols, nil
	case 5:
		if fields[3] != "@" {
			return "", 0, 0, fmt.Errorf("expected \"COLS @ ROWS\" in FESTWERTEBLOCK header")
		}
		label = fields[1]
		cols, err = strconv.Atoi(fields[2])
		if err != nil || cols < 1 {
			return "", 0, 0, fmt.Errorf("bad FESTWERTEBLOCK column count %q", fields[2])
		}
		rows, err = strconv.Atoi(fields[4])
		if err != nil || rows < 1 {
			return "", 0, 0, fmt.Errorf("bad FESTWERTEBLOCK row count %q", fields[4])
		}
		return label, rows, cols, nil
	default:
		return "", 0, 0, fmt.Errorf("malformed FESTWERTEBLOCK header")
	}
}

func (c *DCMCodec) Write(path string, in *Interface) error {
	if in.Kind() != KindParameters {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"cannot write %s interface as DCM", in.Kind())
	}

	var b strings.Builder
	b.WriteString("KONSERVIERUNG_FORMAT 2.0\n\n")
	for _, p := range in.Parameters() {
		rows, cols := p.Shape()
		switch {
		case rows == 0 && cols == 0:
			fmt.Fprintf(&b, "FESTWERT %s\n", p.Label)
		case rows == 0:
			fmt.Fprintf(&b, "FESTWERTEBLOCK %s %d\n", p.Label, cols)
		default:
			fmt.Fprintf(&b, "FESTWERTEBLOCK %s %d @ %d\n", p.Label, cols, rows)
		}
		if p.Description != "" {
			fmt.Fprintf(&b, "   LANGNAME \"%s\"\n", p.Description)
		}
		if p.Unit != "" {
			fmt.Fprintf(&b, "   EINHEIT_W \"%s\"\n", p.Unit)
		}
		if rows > 0 {
			for r := 0; r < rows; r++ {
				b.WriteString("   WERT")
				for _, v := range p.Values[r*cols : (r+1)*cols] {
					b.WriteString(" " + strconv.FormatFloat(v, 'g', -1, 64))
				}
				b.WriteString("\n")
			}
		} else {
			b.WriteString("   WERT")
			for _, v := range p.Values {
				b.WriteString(" " + strconv.FormatFloat(v, 'g', -1, 64))
			}
			b.WriteString("\n")
		}
		b.WriteString("END\n\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"write %s: %s", path, err.Error()).WithCause(err)
	}
	return nil
}

var _ Codec = (*DCMCodec)(nil)
