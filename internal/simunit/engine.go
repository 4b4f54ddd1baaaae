package simunit

import (
	"context"
	"log/slog"

	"github.com/heliossim/helios/internal/expressions"
	"github.com/heliossim/helios/internal/logging"
	"github.com/heliossim/helios/pkg/schema"
)

// Binding is the foreign surface the step loop drives: write variable
// values, invoke one simulation step, read variable values back.
type Binding interface {
	// Write stores values into the bound variable, converting from float64
	// to the variable's declared datatype.
	Write(name string, values []float64) error
	// Read returns the bound variable's current values as float64.
	Read(name string) ([]float64, error)
	// Invoke executes one step of the unit's entry point.
	Invoke() error
	Close() error
}

// Config carries the per-element settings of a simulation unit.
type Config struct {
	Dictionary      *schema.DataDictionary
	StepSizeMs      float64
	CancelCondition string
	ConditionEngine string
	VstackPattern   string
}

// Engine runs a simulation unit over resampled input signals: it resolves
// dictionary variables against the provided signals and parameters, steps
// the unit across the simulation grid, and collects output signals.
type Engine struct {
	binding Binding
	cfg     Config
	stacker *Stacker
	cond    expressions.Engine
	logger  *slog.Logger
}

// resolvedInput is an input variable's value source for the step loop:
// either a constant or a resampled signal.
type resolvedInput struct {
	entry    *schema.DictEntry
	constant []float64
	signal   *schema.Signal
}

// New creates an engine for one simulation unit element.
func New(binding Binding, cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.Dictionary == nil {
		return nil, schema.NewError(schema.ErrCodeSchema, "missing data dictionary")
	}
	if cfg.StepSizeMs <= 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"step size must be positive, got %g ms", cfg.StepSizeMs)
	}

	stacker, err := NewStacker(cfg.VstackPattern)
	if err != nil {
		return nil, err
	}

	var cond expressions.Engine
	if cfg.CancelCondition != "" {
		cond, err = expressions.ForName(cfg.ConditionEngine)
		if err != nil {
			return nil, err
		}
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{binding: binding, cfg: cfg, stacker: stacker, cond: cond, logger: logger}, nil
}

// Run executes the unit over the union time range of the supplied input
// signals and returns the output signals, expanded back into indexed scalar
// families where the outputs are arrays.
func (e *Engine) Run(ctx context.Context, signals []*schema.Signal, params []*schema.Parameter) ([]*schema.Signal, error) {
	if err := e.writeParameters(params); err != nil {
		return nil, err
	}

	// The horizon spans the union time range of every supplied input signal,
	// whether or not a dictionary variable ends up bound to it.
	grid := Grid(signals, e.cfg.StepSizeMs/1000.0)
	if len(grid) == 0 {
		return nil, schema.NewError(schema.ErrCodeRuntime,
			"no input signals to derive the simulation horizon from")
	}

	// Resample everything onto the grid before grouping, so vstack family
	// members are guaranteed a shared timeline.
	resampled := make([]*schema.Signal, len(signals))
	for i, s := range signals {
		resampled[i] = Resample(s, grid)
	}
	grouped, err := e.stacker.Group(resampled)
	if err != nil {
		return nil, err
	}

	inputs, err := e.resolveInputs(grouped)
	if err != nil {
		return nil, err
	}

	outputs := e.outputEntries()
	collected := make(map[string][]float64, len(outputs))

	logging.LogWith(ctx, e.logger).Debug("simulation start",
		"steps", len(grid), "step_size_ms", e.cfg.StepSizeMs,
		"t_start", grid[0], "t_end", grid[len(grid)-1])

	steps := 0
	cancelled := false
	for i := range grid {
		select {
		case <-ctx.Done():
			return nil, schema.NewError(schema.ErrCodeCancelled, "simulation aborted").
				WithCause(ctx.Err())
		default:
		}

		for _, in := range inputs {
			values := in.constant
			if in.signal != nil {
				values = in.signal.Sample(i)
			}
			if err := e.binding.Write(in.entry.Name, values); err != nil {
				return nil, err
			}
		}

		if err := e.binding.Invoke(); err != nil {
			return nil, err
		}

		for _, out := range outputs {
			values, err := e.binding.Read(out.Name)
			if err != nil {
				return nil, err
			}
			collected[out.Name] = append(collected[out.Name], values...)
		}
		steps = i + 1

		if e.cond != nil {
			stop, err := e.evaluateCancel(ctx, inputs, outputs, i)
			if err != nil {
				return nil, err
			}
			if stop {
				cancelled = true
				break
			}
		}
	}

	if cancelled {
		logging.LogWith(ctx, e.logger).Info("cancel condition met",
			"condition", e.cfg.CancelCondition, "steps", steps, "of", len(grid))
	}

	var results []*schema.Signal
	for _, out := range outputs {
		s := &schema.Signal{
			Label:      out.Name,
			Timestamps: grid[:steps],
			Values:     collected[out.Name],
		}
		switch out.Kind() {
		case schema.KindArray1D:
			s.Cols = out.Shape[0]
		case schema.KindArray2D:
			s.Rows = out.Shape[0]
			s.Cols = out.Shape[1]
		}
		results = append(results, e.stacker.Ungroup(s)...)
	}
	return results, nil
}

// writeParameters resolves parameter variables by name, falling back to the
// declared default and finally to zero, and writes them once before the loop.
func (e *Engine) writeParameters(params []*schema.Parameter) error {
	byName := make(map[string]*schema.Parameter, len(params))
	for _, p := range params {
		byName[p.Label] = p
	}

	for i := range e.cfg.Dictionary.Variables {
		v := &e.cfg.Dictionary.Variables[i]
		if v.Role != schema.RoleParameter {
			continue
		}

		values, err := parameterValues(v, byName[v.Name])
		if err != nil {
			return err
		}
		if err := e.binding.Write(v.Name, values); err != nil {
			return err
		}
	}
	return nil
}

func parameterValues(v *schema.DictEntry, p *schema.Parameter) ([]float64, error) {
	if p != nil {
		if len(p.Values) == v.Count() {
			return p.Values, nil
		}
		// A scalar record broadcasts across array variables.
		if len(p.Values) == 1 {
			return broadcast(p.Values[0], v.Count()), nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeBinding,
			"parameter %q holds %d values, variable needs %d", v.Name, len(p.Values), v.Count())
	}
	if v.Default != nil {
		return broadcast(*v.Default, v.Count()), nil
	}
	return make([]float64, v.Count()), nil
}

// resolveInputs maps each input variable to its value source. Precedence:
// a constant literal as the first alternatives entry, then a signal matching
// an alternatives name in order, then a signal matching the variable name,
// then the declared default, then zero. The signals must already be
// resampled and grouped.
func (e *Engine) resolveInputs(signals []*schema.Signal) ([]*resolvedInput, error) {
	byLabel := make(map[string]*schema.Signal, len(signals))
	for _, s := range signals {
		byLabel[s.Label] = s
	}

	var inputs []*resolvedInput

	for i := range e.cfg.Dictionary.Variables {
		v := &e.cfg.Dictionary.Variables[i]
		if v.Role != schema.RoleInput {
			continue
		}

		in := &resolvedInput{entry: v}
		switch {
		case len(v.Alternatives) > 0 && v.Alternatives[0].IsLiteral():
			in.constant = v.Alternatives[0].Literal

		case pickAlternative(v, byLabel) != nil:
			in.signal = pickAlternative(v, byLabel)

		case byLabel[v.Name] != nil:
			in.signal = byLabel[v.Name]

		case v.Default != nil:
			in.constant = broadcast(*v.Default, v.Count())

		default:
			in.constant = make([]float64, v.Count())
		}

		if in.signal != nil && in.signal.SampleWidth() != v.Count() {
			return nil, schema.NewErrorf(schema.ErrCodeBinding,
				"signal %q carries %d values per sample, variable %q needs %d",
				in.signal.Label, in.signal.SampleWidth(), v.Name, v.Count())
		}
		if in.constant != nil && len(in.constant) != v.Count() {
			return nil, schema.NewErrorf(schema.ErrCodeBinding,
				"literal for %q holds %d values, variable needs %d",
				v.Name, len(in.constant), v.Count())
		}

		inputs = append(inputs, in)
	}
	return inputs, nil
}

func pickAlternative(v *schema.DictEntry, byLabel map[string]*schema.Signal) *schema.Signal {
	for i := range v.Alternatives {
		alt := &v.Alternatives[i]
		if alt.IsLiteral() {
			continue
		}
		if s := byLabel[alt.Name]; s != nil {
			return s
		}
	}
	return nil
}

func (e *Engine) outputEntries() []*schema.DictEntry {
	var out []*schema.DictEntry
	for i := range e.cfg.Dictionary.Variables {
		if e.cfg.Dictionary.Variables[i].Role == schema.RoleOutput {
			out = append(out, &e.cfg.Dictionary.Variables[i])
		}
	}
	return out
}

// evaluateCancel builds the expression namespace from the current values of
// every dictionary variable (scalars as float64, arrays as []float64) and
// evaluates the cancel condition. Any non-false, non-nil result stops the run.
func (e *Engine) evaluateCancel(ctx context.Context, inputs []*resolvedInput, outputs []*schema.DictEntry, step int) (bool, error) {
	vars := make(map[string]any, len(e.cfg.Dictionary.Variables))

	read := func(entry *schema.DictEntry) error {
		values, err := e.binding.Read(entry.Name)
		if err != nil {
			return err
		}
		if entry.Kind() == schema.KindScalar {
			vars[entry.Name] = values[0]
		} else {
			vars[entry.Name] = values
		}
		return nil
	}

	for _, in := range inputs {
		if err := read(in.entry); err != nil {
			return false, err
		}
	}
	for i := range e.cfg.Dictionary.Variables {
		v := &e.cfg.Dictionary.Variables[i]
		if v.Role != schema.RoleInput {
			if err := read(v); err != nil {
				return false, err
			}
		}
	}

	result, err := e.cond.Evaluate(ctx, e.cfg.CancelCondition, vars)
	if err != nil {
		return false, err
	}
	stop, ok := result.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeRuntime,
			"cancel condition %q evaluated to %T, want bool", e.cfg.CancelCondition, result)
	}
	return stop, nil
}

func broadcast(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
