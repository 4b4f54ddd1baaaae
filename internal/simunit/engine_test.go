package simunit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliossim/helios/pkg/schema"
)

// fakeBinding is an in-memory stand-in for a shared library: Invoke applies
// a step function over the variable store.
type fakeBinding struct {
	vars    map[string][]float64
	step    func(vars map[string][]float64)
	invokes int
}

func newFakeBinding(dict *schema.DataDictionary, step func(vars map[string][]float64)) *fakeBinding {
	vars := make(map[string][]float64, len(dict.Variables))
	for i := range dict.Variables {
		v := &dict.Variables[i]
		vars[v.Name] = make([]float64, v.Count())
	}
	return &fakeBinding{vars: vars, step: step}
}

func (b *fakeBinding) Write(name string, values []float64) error {
	copy(b.vars[name], values)
	return nil
}

func (b *fakeBinding) Read(name string) ([]float64, error) {
	out := make([]float64, len(b.vars[name]))
	copy(out, b.vars[name])
	return out, nil
}

func (b *fakeBinding) Invoke() error {
	b.invokes++
	if b.step != nil {
		b.step(b.vars)
	}
	return nil
}

func (b *fakeBinding) Close() error { return nil }

func gainDict() *schema.DataDictionary {
	return &schema.DataDictionary{
		Variables: []schema.DictEntry{
			{Name: "k", Datatype: "float64", Role: schema.RoleParameter, Default: ptr(1.0)},
			{Name: "u", Datatype: "float64", Role: schema.RoleInput},
			{Name: "y", Datatype: "float64", Role: schema.RoleOutput},
		},
	}
}

func ptr(v float64) *float64 { return &v }

func gainStep(vars map[string][]float64) {
	vars["y"][0] = vars["k"][0] * vars["u"][0]
}

func TestEngineRunsGainUnit(t *testing.T) {
	dict := gainDict()
	binding := newFakeBinding(dict, gainStep)
	eng, err := New(binding, Config{Dictionary: dict, StepSizeMs: 100}, nil)
	require.NoError(t, err)

	signals := []*schema.Signal{
		{Label: "u", Timestamps: []float64{0, 0.1, 0.2, 0.3}, Values: []float64{0, 1, 2, 3}},
	}
	params := []*schema.Parameter{{Label: "k", Values: []float64{2.0}}}

	out, err := eng.Run(context.Background(), signals, params)
	require.NoError(t, err)
	require.Len(t, out, 1)

	y := out[0]
	assert.Equal(t, "y", y.Label)
	assert.InDeltaSlice(t, []float64{0, 0.1, 0.2, 0.3}, y.Timestamps, 1e-9)
	assert.Equal(t, []float64{0, 2, 4, 6}, y.Values)
	assert.Equal(t, 4, binding.invokes)
}

func TestEngineInputPrecedence(t *testing.T) {
	ctx := context.Background()

	signals := []*schema.Signal{
		{Label: "u", Timestamps: []float64{0, 0.1}, Values: []float64{10, 10}},
		{Label: "u_alt", Timestamps: []float64{0, 0.1}, Values: []float64{20, 20}},
	}

	run := func(t *testing.T, entry schema.DictEntry, sigs []*schema.Signal) float64 {
		t.Helper()
		dict := &schema.DataDictionary{Variables: []schema.DictEntry{
			entry,
			{Name: "y", Datatype: "float64", Role: schema.RoleOutput},
		}}
		binding := newFakeBinding(dict, func(vars map[string][]float64) {
			vars["y"][0] = vars[entry.Name][0]
		})
		eng, err := New(binding, Config{Dictionary: dict, StepSizeMs: 100}, nil)
		require.NoError(t, err)
		out, err := eng.Run(ctx, sigs, nil)
		require.NoError(t, err)
		return out[0].Values[0]
	}

	t.Run("literal first alternative wins over signals", func(t *testing.T) {
		got := run(t, schema.DictEntry{
			Name: "u", Datatype: "float64", Role: schema.RoleInput,
			Alternatives: []schema.Alternative{{Literal: []float64{5.0}}, {Name: "u_alt"}},
		}, signals)
		assert.Equal(t, 5.0, got)
	})

	t.Run("alternative name wins over logical name", func(t *testing.T) {
		got := run(t, schema.DictEntry{
			Name: "u", Datatype: "float64", Role: schema.RoleInput,
			Alternatives: []schema.Alternative{{Name: "u_alt"}},
		}, signals)
		assert.Equal(t, 20.0, got)
	})

	t.Run("logical name match", func(t *testing.T) {
		got := run(t, schema.DictEntry{
			Name: "u", Datatype: "float64", Role: schema.RoleInput,
		}, signals)
		assert.Equal(t, 10.0, got)
	})

	t.Run("default when nothing matches", func(t *testing.T) {
		got := run(t, schema.DictEntry{
			Name: "v", Datatype: "float64", Role: schema.RoleInput, Default: ptr(7.0),
		}, signals)
		assert.Equal(t, 7.0, got)
	})

	t.Run("zero as last resort", func(t *testing.T) {
		got := run(t, schema.DictEntry{
			Name: "v", Datatype: "float64", Role: schema.RoleInput,
		}, signals)
		assert.Equal(t, 0.0, got)
	})
}

func TestEngineCancelConditionTruncates(t *testing.T) {
	dict := &schema.DataDictionary{Variables: []schema.DictEntry{
		{Name: "u", Datatype: "float64", Role: schema.RoleInput},
		{Name: "acc", Datatype: "float64", Role: schema.RoleOutput},
	}}
	binding := newFakeBinding(dict, func(vars map[string][]float64) {
		vars["acc"][0] += vars["u"][0]
	})

	eng, err := New(binding, Config{
		Dictionary:      dict,
		StepSizeMs:      100,
		CancelCondition: "acc >= 5.0",
	}, nil)
	require.NoError(t, err)

	ts := make([]float64, 10)
	vals := make([]float64, 10)
	for i := range ts {
		ts[i] = float64(i) * 0.1
		vals[i] = 1.0
	}
	out, err := eng.Run(context.Background(),
		[]*schema.Signal{{Label: "u", Timestamps: ts, Values: vals}}, nil)
	require.NoError(t, err)

	// acc reaches 5.0 on the 5th step; samples after that are dropped.
	acc := out[0]
	assert.Len(t, acc.Values, 5)
	assert.Equal(t, 5.0, acc.Values[4])
	assert.Equal(t, 5, binding.invokes)
}

func TestEngineCancelConditionCEL(t *testing.T) {
	dict := &schema.DataDictionary{Variables: []schema.DictEntry{
		{Name: "u", Datatype: "float64", Role: schema.RoleInput},
		{Name: "acc", Datatype: "float64", Role: schema.RoleOutput},
	}}
	binding := newFakeBinding(dict, func(vars map[string][]float64) {
		vars["acc"][0] += vars["u"][0]
	})

	eng, err := New(binding, Config{
		Dictionary:      dict,
		StepSizeMs:      100,
		CancelCondition: "vars.acc >= 3.0",
		ConditionEngine: "cel",
	}, nil)
	require.NoError(t, err)

	ts := []float64{0, 0.1, 0.2, 0.3, 0.4}
	out, err := eng.Run(context.Background(),
		[]*schema.Signal{{Label: "u", Timestamps: ts, Values: []float64{1, 1, 1, 1, 1}}}, nil)
	require.NoError(t, err)
	assert.Len(t, out[0].Values, 3)
}

func TestEngineHorizonFromUnboundSignals(t *testing.T) {
	// u resolves to its constant literal, but the supplied signal still
	// defines the simulation horizon.
	dict := &schema.DataDictionary{Variables: []schema.DictEntry{
		{Name: "u", Datatype: "float64", Role: schema.RoleInput,
			Alternatives: []schema.Alternative{{Literal: []float64{5.0}}}},
		{Name: "y", Datatype: "float64", Role: schema.RoleOutput},
	}}
	binding := newFakeBinding(dict, func(vars map[string][]float64) {
		vars["y"][0] = vars["u"][0]
	})
	eng, err := New(binding, Config{Dictionary: dict, StepSizeMs: 100}, nil)
	require.NoError(t, err)

	out, err := eng.Run(context.Background(), []*schema.Signal{
		{Label: "u", Timestamps: []float64{0, 0.1, 0.2, 0.3}, Values: []float64{1, 2, 3, 4}},
	}, nil)
	require.NoError(t, err)

	y := out[0]
	assert.Len(t, y.Timestamps, 4)
	assert.Equal(t, []float64{5, 5, 5, 5}, y.Values)
}

func TestEngineResamplesBeforeGrouping(t *testing.T) {
	dict := &schema.DataDictionary{Variables: []schema.DictEntry{
		{Name: "m", Datatype: "float64", Shape: []int{2}, Role: schema.RoleInput},
		{Name: "m_out", Datatype: "float64", Shape: []int{2}, Role: schema.RoleOutput},
	}}
	binding := newFakeBinding(dict, func(vars map[string][]float64) {
		copy(vars["m_out"], vars["m"])
	})
	eng, err := New(binding, Config{Dictionary: dict, StepSizeMs: 100}, nil)
	require.NoError(t, err)

	// The family members live on disjoint timelines; resampling onto the
	// union grid aligns them before they are stacked.
	out, err := eng.Run(context.Background(), []*schema.Signal{
		{Label: "m_1", Timestamps: []float64{0, 0.1}, Values: []float64{1, 1}},
		{Label: "m_2", Timestamps: []float64{0.2, 0.3}, Values: []float64{2, 2}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "m_out_1", out[0].Label)
	assert.Len(t, out[0].Timestamps, 4)
	assert.Equal(t, []float64{1, 1, 1, 1}, out[0].Values)
	assert.Equal(t, "m_out_2", out[1].Label)
	assert.Equal(t, []float64{2, 2, 2, 2}, out[1].Values)
}

func TestEngineUnionRangeAndBoundaryHold(t *testing.T) {
	dict := &schema.DataDictionary{Variables: []schema.DictEntry{
		{Name: "a", Datatype: "float64", Role: schema.RoleInput},
		{Name: "b", Datatype: "float64", Role: schema.RoleInput},
		{Name: "sum", Datatype: "float64", Role: schema.RoleOutput},
	}}
	binding := newFakeBinding(dict, func(vars map[string][]float64) {
		vars["sum"][0] = vars["a"][0] + vars["b"][0]
	})
	eng, err := New(binding, Config{Dictionary: dict, StepSizeMs: 100}, nil)
	require.NoError(t, err)

	// a covers [0, 0.2], b covers [0.2, 0.4]; the grid spans the union.
	out, err := eng.Run(context.Background(), []*schema.Signal{
		{Label: "a", Timestamps: []float64{0, 0.2}, Values: []float64{1, 1}},
		{Label: "b", Timestamps: []float64{0.2, 0.4}, Values: []float64{10, 10}},
	}, nil)
	require.NoError(t, err)

	sum := out[0]
	assert.Equal(t, []float64{0, 0.1, 0.2, 0.30000000000000004, 0.4}, sum.Timestamps)
	// b holds its first sample before 0.2, a holds its last after 0.2.
	assert.Equal(t, []float64{11, 11, 11, 11, 11}, sum.Values)
}

func TestEngineVstackRoundTrip(t *testing.T) {
	dict := &schema.DataDictionary{Variables: []schema.DictEntry{
		{Name: "m", Datatype: "float64", Shape: []int{3}, Role: schema.RoleInput},
		{Name: "m_out", Datatype: "float64", Shape: []int{3}, Role: schema.RoleOutput},
	}}
	binding := newFakeBinding(dict, func(vars map[string][]float64) {
		for i, v := range vars["m"] {
			vars["m_out"][i] = 2 * v
		}
	})
	eng, err := New(binding, Config{Dictionary: dict, StepSizeMs: 100}, nil)
	require.NoError(t, err)

	// m_1..m_3 are grouped into the array variable m; the array output is
	// expanded back into m_out_1..m_out_3.
	ts := []float64{0, 0.1}
	out, err := eng.Run(context.Background(), []*schema.Signal{
		{Label: "m_1", Timestamps: ts, Values: []float64{1, 1}},
		{Label: "m_2", Timestamps: ts, Values: []float64{2, 2}},
		{Label: "m_3", Timestamps: ts, Values: []float64{3, 3}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "m_out_1", out[0].Label)
	assert.Equal(t, []float64{2, 2}, out[0].Values)
	assert.Equal(t, "m_out_3", out[2].Label)
	assert.Equal(t, []float64{6, 6}, out[2].Values)
}

func TestEngineNoInputSignals(t *testing.T) {
	dict := gainDict()
	eng, err := New(newFakeBinding(dict, gainStep), Config{Dictionary: dict, StepSizeMs: 100}, nil)
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), nil, nil)
	require.Error(t, err)
	var herr *schema.HeliosError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, schema.ErrCodeRuntime, herr.Code)
}

func TestEngineContextCancellation(t *testing.T) {
	dict := gainDict()
	eng, err := New(newFakeBinding(dict, gainStep), Config{Dictionary: dict, StepSizeMs: 100}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = eng.Run(ctx, []*schema.Signal{
		{Label: "u", Timestamps: []float64{0, 0.1}, Values: []float64{1, 1}},
	}, nil)
	require.Error(t, err)
	var herr *schema.HeliosError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, schema.ErrCodeCancelled, herr.Code)
}
