package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliossim/helios/pkg/schema"
)

func parseWorkflow(t *testing.T, raw string) *schema.Workflow {
	t.Helper()
	var wf schema.Workflow
	require.NoError(t, json.Unmarshal([]byte(raw), &wf))
	return &wf
}

const validWorkflowJSON = `{
  "meas": {"type": "data", "mode": "read", "path": ["input/run.csv"]},
  "calib": {"type": "parameter", "mode": "read", "path": ["input/calib.json"]},
  "model": {
    "type": "sim_unit",
    "library": "lib/model.so",
    "data_dictionary": "lib/model.dict.json",
    "step_size_ms": 10,
    "input": ["meas"],
    "parameter": ["calib"]
  },
  "result": {"type": "data", "mode": "write", "path": ["out"], "output_format": "csv", "input": ["model"]}
}`

func newValidator(t *testing.T) *WorkflowValidator {
	t.Helper()
	wv, err := NewWorkflowValidator()
	require.NoError(t, err)
	return wv
}

func TestValidateAcceptsCompleteWorkflow(t *testing.T) {
	wv := newValidator(t)
	result := wv.Validate(parseWorkflow(t, validWorkflowJSON))
	assert.True(t, result.Valid(), "unexpected errors: %+v", result.Errors)
}

func TestValidateStructural(t *testing.T) {
	wv := newValidator(t)

	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "missing type discriminator",
			raw:  `{"a": {"mode": "read", "path": ["x.csv"]}}`,
		},
		{
			name: "unknown element type",
			raw:  `{"a": {"type": "lookup_table"}}`,
		},
		{
			name: "sim_unit missing library",
			raw:  `{"a": {"type": "sim_unit", "data_dictionary": "d.json", "step_size_ms": 1}}`,
		},
		{
			name: "non-positive step size",
			raw:  `{"a": {"type": "sim_unit", "library": "l.so", "data_dictionary": "d.json", "step_size_ms": 0}}`,
		},
		{
			name: "plugin missing command",
			raw:  `{"a": {"type": "plugin"}}`,
		},
		{
			name: "unknown field",
			raw:  `{"a": {"type": "data", "mode": "read", "path": ["x.csv"], "retries": 3}}`,
		},
		{
			name: "unknown field on sim_unit",
			raw:  `{"a": {"type": "sim_unit", "library": "l.so", "data_dictionary": "d.json", "step_size_ms": 1, "threads": 4}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := wv.Validate(parseWorkflow(t, tt.raw))
			assert.False(t, result.Valid())
		})
	}
}

func TestValidateSemantic(t *testing.T) {
	wv := newValidator(t)

	tests := []struct {
		name    string
		raw     string
		wantMsg string
	}{
		{
			name:    "unknown reference",
			raw:     `{"w": {"type": "data", "mode": "write", "path": ["out"], "input": ["ghost"]}}`,
			wantMsg: "non-existent element",
		},
		{
			name:    "self reference",
			raw:     `{"w": {"type": "data", "mode": "write", "path": ["out"], "input": ["w"]}}`,
			wantMsg: "references itself",
		},
		{
			name:    "read element with references",
			raw:     `{"r": {"type": "data", "mode": "read", "path": ["x.csv"], "input": ["r2"]}, "r2": {"type": "data", "mode": "read", "path": ["y.csv"]}}`,
			wantMsg: "cannot reference",
		},
		{
			name:    "write element without references",
			raw:     `{"w": {"type": "data", "mode": "write", "path": ["out"]}}`,
			wantMsg: "needs at least one input reference",
		},
		{
			name:    "read element without path",
			raw:     `{"r": {"type": "data", "mode": "read"}}`,
			wantMsg: "at least one path",
		},
		{
			name: "vstack pattern without enough groups",
			raw: `{"meas": {"type": "data", "mode": "read", "path": ["x.csv"]},
			      "m": {"type": "sim_unit", "library": "l.so", "data_dictionary": "d.json",
			            "step_size_ms": 1, "input": ["meas"], "vstack_pattern": "^m_\\d+$"}}`,
			wantMsg: "capture groups",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := wv.Validate(parseWorkflow(t, tt.raw))
			require.False(t, result.Valid())
			found := false
			for _, issue := range result.Errors {
				if strings.Contains(issue.Message, tt.wantMsg) {
					found = true
				}
			}
			assert.True(t, found, "no error mentioning %q in %+v", tt.wantMsg, result.Errors)
		})
	}
}

func TestValidateDAGCycle(t *testing.T) {
	wv := newValidator(t)
	raw := `{
	  "a": {"type": "data", "mode": "write", "path": ["out"], "input": ["b"]},
	  "b": {"type": "data", "mode": "write", "path": ["out"], "input": ["a"]}
	}`
	result := wv.Validate(parseWorkflow(t, raw))
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "cycle")
	assert.Contains(t, result.Errors[0].Message, "a")
	assert.Contains(t, result.Errors[0].Message, "b")
}

func TestValidateDAGMultipleSinks(t *testing.T) {
	wv := newValidator(t)
	raw := `{
	  "meas": {"type": "data", "mode": "read", "path": ["x.csv"]},
	  "w1": {"type": "data", "mode": "write", "path": ["out"], "input": ["meas"]},
	  "w2": {"type": "data", "mode": "write", "path": ["out"], "input": ["meas"]}
	}`
	result := wv.Validate(parseWorkflow(t, raw))
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "2 sink elements")
	assert.Contains(t, result.Errors[0].Message, "w1")
	assert.Contains(t, result.Errors[0].Message, "w2")
}

func TestOrderDeterministic(t *testing.T) {
	wf := parseWorkflow(t, validWorkflowJSON)

	order, err := Order(wf)
	require.NoError(t, err)
	assert.Equal(t, []string{"meas", "calib", "model", "result"}, order)

	// Repeat runs give the same order.
	for i := 0; i < 5; i++ {
		again, err := Order(wf)
		require.NoError(t, err)
		assert.Equal(t, order, again)
	}
}

func TestOrderRespectsDependencies(t *testing.T) {
	// "calib" is declared after the unit that consumes it.
	raw := `{
	  "model": {
	    "type": "sim_unit", "library": "l.so", "data_dictionary": "d.json",
	    "step_size_ms": 1, "parameter": ["calib"]
	  },
	  "calib": {"type": "parameter", "mode": "read", "path": ["c.json"]},
	  "out": {"type": "data", "mode": "write", "path": ["out"], "input": ["model"]}
	}`
	order, err := Order(parseWorkflow(t, raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"calib", "model", "out"}, order)
}

func TestSinks(t *testing.T) {
	wf := parseWorkflow(t, validWorkflowJSON)
	assert.Equal(t, []string{"result"}, Sinks(wf))
}

func TestValidateDictionary(t *testing.T) {
	wv := newValidator(t)

	valid := &schema.DataDictionary{
		Variables: []schema.DictEntry{
			{Name: "u", Datatype: "float64", Role: schema.RoleInput},
			{Name: "k", Datatype: "float64", Role: schema.RoleParameter},
			{Name: "y", Datatype: "float64", Role: schema.RoleOutput},
		},
	}
	assert.NoError(t, wv.ValidateDictionary(valid))

	tests := []struct {
		name string
		dict *schema.DataDictionary
	}{
		{
			name: "duplicate variable name",
			dict: &schema.DataDictionary{Variables: []schema.DictEntry{
				{Name: "x", Datatype: "float64", Role: schema.RoleInput},
				{Name: "x", Datatype: "float64", Role: schema.RoleOutput},
			}},
		},
		{
			name: "unsupported datatype",
			dict: &schema.DataDictionary{Variables: []schema.DictEntry{
				{Name: "x", Datatype: "complex128", Role: schema.RoleOutput},
			}},
		},
		{
			name: "output with default",
			dict: &schema.DataDictionary{Variables: []schema.DictEntry{
				{Name: "y", Datatype: "float64", Role: schema.RoleOutput, Default: ptr(1.0)},
			}},
		},
		{
			name: "no output variable",
			dict: &schema.DataDictionary{Variables: []schema.DictEntry{
				{Name: "u", Datatype: "float64", Role: schema.RoleInput},
			}},
		},
		{
			name: "literal alternative not first",
			dict: &schema.DataDictionary{Variables: []schema.DictEntry{
				{Name: "u", Datatype: "float64", Role: schema.RoleInput,
					Alternatives: []schema.Alternative{{Name: "sig_a"}, {Literal: []float64{1}}}},
				{Name: "y", Datatype: "float64", Role: schema.RoleOutput},
			}},
		},
		{
			name: "literal shape mismatch",
			dict: &schema.DataDictionary{Variables: []schema.DictEntry{
				{Name: "u", Datatype: "float64", Shape: []int{3}, Role: schema.RoleInput,
					Alternatives: []schema.Alternative{{Literal: []float64{1, 2}, Cols: 2}}},
				{Name: "y", Datatype: "float64", Role: schema.RoleOutput},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, wv.ValidateDictionary(tt.dict))
		})
	}
}

func ptr(v float64) *float64 { return &v }
