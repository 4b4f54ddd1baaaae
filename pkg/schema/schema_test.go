package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalValidate(t *testing.T) {
	tests := []struct {
		name    string
		sig     Signal
		wantErr bool
	}{
		{
			name: "scalar ok",
			sig:  Signal{Label: "v", Timestamps: []float64{0, 1, 2}, Values: []float64{1, 2, 3}},
		},
		{
			name:    "length mismatch",
			sig:     Signal{Label: "v", Timestamps: []float64{0, 1}, Values: []float64{1}},
			wantErr: true,
		},
		{
			name:    "non-monotonic timestamps",
			sig:     Signal{Label: "v", Timestamps: []float64{0, 2, 1}, Values: []float64{1, 2, 3}},
			wantErr: true,
		},
		{
			name: "2x2 samples",
			sig: Signal{
				Label: "m", Rows: 2, Cols: 2,
				Timestamps: []float64{0, 1},
				Values:     []float64{1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sig.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParameterValidate(t *testing.T) {
	p := Parameter{Label: "k", Values: []float64{1, 2, 3}, Cols: 3}
	assert.NoError(t, p.Validate())

	bad := Parameter{Label: "k", Values: []float64{1, 2}, Rows: 2, Cols: 3}
	assert.Error(t, bad.Validate())
}

func TestWorkflowPreservesDeclarationOrder(t *testing.T) {
	raw := `{
		"zeta": {"type": "data", "mode": "read", "path": ["a.csv"]},
		"alpha": {"type": "sim_unit", "library": "u.so", "data_dictionary": "dd.json", "step_size_ms": 10, "input": ["zeta"]},
		"omega": {"type": "data", "mode": "write", "input": ["alpha"], "output_format": "csv"}
	}`

	var wf Workflow
	require.NoError(t, json.Unmarshal([]byte(raw), &wf))
	assert.Equal(t, []string{"zeta", "alpha", "omega"}, wf.Names)
	assert.Equal(t, ElementSimUnit, wf.Get("alpha").Type)

	out, err := json.Marshal(&wf)
	require.NoError(t, err)

	var roundTrip Workflow
	require.NoError(t, json.Unmarshal(out, &roundTrip))
	assert.Equal(t, wf.Names, roundTrip.Names)
}

func TestWorkflowRejectsDuplicateNames(t *testing.T) {
	raw := `{
		"a": {"type": "data", "mode": "read", "path": ["x.csv"]},
		"a": {"type": "data", "mode": "read", "path": ["y.csv"]}
	}`
	var wf Workflow
	err := json.Unmarshal([]byte(raw), &wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestElementReferences(t *testing.T) {
	e := Element{
		Input:     []string{"meas", "meas"},
		Parameter: []string{"calib"},
		Init:      []string{"meas", "seed"},
	}
	assert.Equal(t, []string{"meas", "calib", "seed"}, e.References())
}

func TestAlternativeUnmarshal(t *testing.T) {
	var alt Alternative
	require.NoError(t, json.Unmarshal([]byte(`"sig_b"`), &alt))
	assert.False(t, alt.IsLiteral())
	assert.Equal(t, "sig_b", alt.Name)

	require.NoError(t, json.Unmarshal([]byte(`5.0`), &alt))
	alt = Alternative{}
	require.NoError(t, json.Unmarshal([]byte(`5.0`), &alt))
	assert.True(t, alt.IsLiteral())
	assert.Equal(t, []float64{5}, alt.Literal)

	alt = Alternative{}
	require.NoError(t, json.Unmarshal([]byte(`[[1,2,3],[4,5,6]]`), &alt))
	assert.Equal(t, 2, alt.Rows)
	assert.Equal(t, 3, alt.Cols)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, alt.Literal)

	alt = Alternative{}
	assert.Error(t, json.Unmarshal([]byte(`{"no": "objects"}`), &alt))
	assert.Error(t, json.Unmarshal([]byte(`[[1,2],[3]]`), &alt))
}

func TestDictEntryKind(t *testing.T) {
	assert.Equal(t, KindScalar, (&DictEntry{}).Kind())
	assert.Equal(t, KindArray1D, (&DictEntry{Shape: []int{4}}).Kind())
	assert.Equal(t, KindArray2D, (&DictEntry{Shape: []int{2, 3}}).Kind())
	assert.Equal(t, 6, (&DictEntry{Shape: []int{2, 3}}).Count())
}

func TestHeliosErrorFormatting(t *testing.T) {
	err := NewErrorf(ErrCodeSchema, "duplicate variable %q", "x").WithElement("sim")
	assert.Equal(t, `[SCHEMA_ERROR] element sim: duplicate variable "x"`, err.Error())
}
