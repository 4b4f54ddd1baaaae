package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/heliossim/helios/internal/cache"
	"github.com/heliossim/helios/internal/iface"
	"github.com/heliossim/helios/internal/logging"
	"github.com/heliossim/helios/internal/plugin"
	"github.com/heliossim/helios/internal/simunit"
	"github.com/heliossim/helios/internal/store"
	"github.com/heliossim/helios/internal/validation"
	"github.com/heliossim/helios/pkg/schema"
)

// OpenLibrary binds a simulation unit shared library. Injectable so tests
// can run the scheduler without native libraries.
type OpenLibrary func(path string, dict *schema.DataDictionary) (simunit.Binding, error)

// Options configure a Scheduler. Store and OutputDir are optional; a nil
// OpenLibrary binds real shared libraries.
type Options struct {
	Store       store.Store
	Logger      *slog.Logger
	OutputDir   string
	OpenLibrary OpenLibrary
	Now         func() time.Time
}

// Scheduler executes a workflow: validation, deterministic ordering, element
// dispatch, content-hash registration, and metadata write-back.
type Scheduler struct {
	validator *validation.WorkflowValidator
	resolver  *iface.Resolver
	cache     *cache.Store
	opts      Options
}

// Result summarizes a completed run.
type Result struct {
	RunID    string
	Order    []string
	Hashes   map[string]string
	Produced map[string][]string
	// AugmentedWorkflow is the path of the workflow copy annotated with
	// content hashes and produced files.
	AugmentedWorkflow string
}

// New creates a Scheduler.
func New(opts Options) (*Scheduler, error) {
	validator, err := validation.NewWorkflowValidator()
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OpenLibrary == nil {
		opts.OpenLibrary = func(path string, dict *schema.DataDictionary) (simunit.Binding, error) {
			return simunit.Open(path, dict)
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		validator: validator,
		resolver:  iface.NewResolver(),
		cache:     cache.New(),
		opts:      opts,
	}, nil
}

// Run loads, validates and executes the workflow at workflowPath. Execution
// aborts on the first failing element; results of elements that already
// completed stay registered and persisted.
func (s *Scheduler) Run(ctx context.Context, workflowPath string) (*Result, error) {
	raw, err := os.ReadFile(workflowPath)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"read workflow %s: %s", workflowPath, err.Error()).WithCause(err)
	}
	var wf schema.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"parse workflow %s: %s", workflowPath, err.Error()).WithCause(err)
	}

	vres := s.validator.Validate(&wf)
	for _, w := range vres.Warnings {
		s.opts.Logger.Warn("workflow warning", "path", w.Path, "message", w.Message)
	}
	if err := vres.ToError(); err != nil {
		return nil, err
	}

	order, err := validation.Order(&wf)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	baseDir := filepath.Dir(workflowPath)
	startedAt := s.opts.Now()

	if s.opts.Store != nil {
		err := s.opts.Store.CreateRun(ctx, &store.Run{
			ID: runID, Workflow: workflowPath, Status: store.RunRunning, StartedAt: startedAt.UTC(),
		})
		if err != nil {
			return nil, err
		}
	}

	result := &Result{
		RunID:    runID,
		Order:    order,
		Hashes:   make(map[string]string),
		Produced: make(map[string][]string),
	}
	registry := make(map[string]*iface.Interface, wf.Len())

	logging.LogWith(ctx, s.opts.Logger).Info("run start",
		"workflow", workflowPath, "elements", wf.Len())

	for _, name := range order {
		elem := wf.Get(name)
		elemCtx := logging.WithElement(ctx, name)
		elemStart := s.opts.Now()

		in, produced, err := s.runElement(elemCtx, name, elem, baseDir, registry)

		status := store.RunCompleted
		if err != nil {
			status = store.RunFailed
		}
		if s.opts.Store != nil {
			rec := &store.ElementRecord{
				RunID: runID, Name: name, Type: string(elem.Type),
				DurationMs: s.opts.Now().Sub(elemStart).Milliseconds(),
				Status:     status, Produced: produced,
			}
			if in != nil {
				rec.ContentHash = in.Hash()
			}
			if serr := s.opts.Store.RecordElement(elemCtx, rec); serr != nil {
				logging.LogWith(elemCtx, s.opts.Logger).Warn("record element failed", "error", serr)
			}
		}

		if err != nil {
			if herr, ok := err.(*schema.HeliosError); ok && herr.Element == "" {
				herr.Element = name
			}
			s.finishRun(ctx, runID, store.RunFailed, err.Error())
			return result, err
		}

		registry[name] = in
		result.Hashes[name] = in.Hash()
		result.Produced[name] = produced
		elem.HashList = []string{in.Hash()}
		elem.Produced = produced

		logging.LogWith(elemCtx, s.opts.Logger).Info("element done",
			"type", elem.Type, "hash", in.Hash()[:8],
			"duration_ms", s.opts.Now().Sub(elemStart).Milliseconds())
	}

	augmented, err := s.writeAugmentedWorkflow(&wf, workflowPath, baseDir, startedAt)
	if err != nil {
		s.finishRun(ctx, runID, store.RunFailed, err.Error())
		return result, err
	}
	result.AugmentedWorkflow = augmented

	s.finishRun(ctx, runID, store.RunCompleted, "")
	logging.LogWith(ctx, s.opts.Logger).Info("run complete", "augmented_workflow", augmented)
	return result, nil
}

func (s *Scheduler) finishRun(ctx context.Context, runID, status, errMsg string) {
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.FinishRun(ctx, runID, status, errMsg); err != nil {
		s.opts.Logger.Warn("finish run failed", "run_id", runID, "error", err)
	}
}

// runElement dispatches one element and returns its registered interface and
// any files it produced.
func (s *Scheduler) runElement(ctx context.Context, name string, elem *schema.Element, baseDir string, registry map[string]*iface.Interface) (*iface.Interface, []string, error) {
	select {
	case <-ctx.Done():
		return nil, nil, schema.NewError(schema.ErrCodeCancelled, "run aborted").WithCause(ctx.Err())
	default:
	}

	switch elem.Type {
	case schema.ElementData, schema.ElementParameter:
		if elem.Mode == schema.ModeRead {
			in, err := s.runRead(name, elem, baseDir)
			return in, nil, err
		}
		return s.runWrite(name, elem, baseDir, registry)
	case schema.ElementSimUnit:
		in, err := s.runSimUnit(ctx, name, elem, baseDir, registry)
		return in, nil, err
	case schema.ElementPlugin:
		in, err := s.runPlugin(ctx, name, elem, registry)
		return in, nil, err
	default:
		return nil, nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown element type %q", elem.Type)
	}
}

func wantedKind(t schema.ElementType) iface.Kind {
	if t == schema.ElementParameter {
		return iface.KindParameters
	}
	return iface.KindSignals
}

// runRead loads one or more files into a single interface, applies the label
// filter, and interns the result.
func (s *Scheduler) runRead(name string, elem *schema.Element, baseDir string) (*iface.Interface, error) {
	kind := wantedKind(elem.Type)
	var signals []*schema.Signal
	var params []*schema.Parameter

	for _, p := range elem.Path {
		resolved := resolvePath(baseDir, p)
		codec, err := s.resolver.ForPath(resolved)
		if err != nil {
			return nil, err
		}
		if codec.Kind() != kind {
			return nil, schema.NewErrorf(schema.ErrCodeUnsupported,
				"%s holds %s, element %q needs %s", p, codec.Kind(), name, kind)
		}
		in, err := codec.Read(resolved)
		if err != nil {
			return nil, err
		}
		signals = append(signals, in.Signals()...)
		params = append(params, in.Parameters()...)
	}

	var merged *iface.Interface
	if kind == iface.KindSignals {
		merged = iface.NewSignals(name, signals)
	} else {
		merged = iface.NewParameters(name, params)
	}

	filtered, err := s.applySourceFilter(merged, elem.Source, name)
	if err != nil {
		return nil, err
	}
	canonical, reused := s.cache.Intern(filtered)
	if reused {
		s.opts.Logger.Debug("interface reused from cache", "element", name, "hash", canonical.Hash()[:8])
	}
	return canonical, nil
}

// runWrite merges upstream content, persists it in the configured format
// under a timestamped name, and interns the merged interface.
func (s *Scheduler) runWrite(name string, elem *schema.Element, baseDir string, registry map[string]*iface.Interface) (*iface.Interface, []string, error) {
	kind := wantedKind(elem.Type)
	signals, params, err := s.collect(elem.References(), kind, registry)
	if err != nil {
		return nil, nil, err
	}

	var merged *iface.Interface
	if kind == iface.KindSignals {
		merged = iface.NewSignals(name, signals)
	} else {
		merged = iface.NewParameters(name, params)
	}
	merged, err = s.applySourceFilter(merged, elem.Source, name)
	if err != nil {
		return nil, nil, err
	}
	canonical, _ := s.cache.Intern(merged)

	format := elem.OutputFormat
	if format == "" {
		if kind == iface.KindSignals {
			format = "sig.json"
		} else {
			format = "json"
		}
	}
	codec, err := s.resolver.ForFormat(format, kind)
	if err != nil {
		return nil, nil, err
	}

	dir := resolvePath(baseDir, elem.Path[0])
	if s.opts.OutputDir != "" {
		dir = s.opts.OutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeStore,
			"create output directory %s: %s", dir, err.Error()).WithCause(err)
	}

	file := OutputPath(dir, name, canonical.Hash(), s.opts.Now(), format)
	if err := codec.Write(file, canonical); err != nil {
		return nil, nil, err
	}
	return canonical, []string{file}, nil
}

// runSimUnit binds the element's shared library through its data dictionary
// and steps it over the upstream signals.
func (s *Scheduler) runSimUnit(ctx context.Context, name string, elem *schema.Element, baseDir string, registry map[string]*iface.Interface) (*iface.Interface, error) {
	dict, err := simunit.LoadDictionary(resolvePath(baseDir, elem.DataDictionary))
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateDictionary(dict); err != nil {
		return nil, err
	}

	signals, params, err := s.collectSimUnitRefs(elem, registry)
	if err != nil {
		return nil, err
	}

	binding, err := s.opts.OpenLibrary(resolvePath(baseDir, elem.Library), dict)
	if err != nil {
		return nil, err
	}
	defer binding.Close()

	eng, err := simunit.New(binding, simunit.Config{
		Dictionary:      dict,
		StepSizeMs:      elem.StepSizeMs,
		CancelCondition: elem.CancelCondition,
		ConditionEngine: elem.ConditionEngine,
		VstackPattern:   elem.VstackPattern,
	}, s.opts.Logger)
	if err != nil {
		return nil, err
	}

	out, err := eng.Run(ctx, signals, params)
	if err != nil {
		return nil, err
	}

	canonical, _ := s.cache.Intern(iface.NewSignals(name, out))
	return canonical, nil
}

// runPlugin executes a plugin element over its upstream content.
func (s *Scheduler) runPlugin(ctx context.Context, name string, elem *schema.Element, registry map[string]*iface.Interface) (*iface.Interface, error) {
	signals, params, err := s.collectSimUnitRefs(elem, registry)
	if err != nil {
		return nil, err
	}

	adapter, err := plugin.New(elem.Command, elem.Config, s.opts.Logger)
	if err != nil {
		return nil, err
	}
	outSignals, outParams, err := adapter.Run(ctx, name, signals, params)
	if err != nil {
		return nil, err
	}

	var in *iface.Interface
	if len(outSignals) > 0 {
		in = iface.NewSignals(name, outSignals)
	} else {
		in = iface.NewParameters(name, outParams)
	}
	canonical, _ := s.cache.Intern(in)
	return canonical, nil
}

// collect resolves references to already-materialized interfaces of one
// kind. A missing registry entry here means the ordering is broken, which is
// a structural bug, not a user error.
func (s *Scheduler) collect(refs []string, kind iface.Kind, registry map[string]*iface.Interface) ([]*schema.Signal, []*schema.Parameter, error) {
	var signals []*schema.Signal
	var params []*schema.Parameter
	for _, ref := range refs {
		in, ok := registry[ref]
		if !ok {
			return nil, nil, schema.NewErrorf(schema.ErrCodeStructural,
				"reference %q was not materialized before its consumer", ref)
		}
		if in.Kind() != kind {
			return nil, nil, schema.NewErrorf(schema.ErrCodeValidation,
				"reference %q holds %s, expected %s", ref, in.Kind(), kind)
		}
		signals = append(signals, in.Signals()...)
		params = append(params, in.Parameters()...)
	}
	return signals, params, nil
}

// collectSimUnitRefs gathers signals from input and init references and
// parameters from parameter references.
func (s *Scheduler) collectSimUnitRefs(elem *schema.Element, registry map[string]*iface.Interface) ([]*schema.Signal, []*schema.Parameter, error) {
	var sigRefs []string
	sigRefs = append(sigRefs, elem.Input...)
	sigRefs = append(sigRefs, elem.Init...)

	signals, _, err := s.collect(sigRefs, iface.KindSignals, registry)
	if err != nil {
		return nil, nil, err
	}
	_, params, err := s.collect(elem.Parameter, iface.KindParameters, registry)
	if err != nil {
		return nil, nil, err
	}
	return signals, params, nil
}

func (s *Scheduler) applySourceFilter(in *iface.Interface, filter []string, name string) (*iface.Interface, error) {
	if filter == nil {
		return in, nil
	}
	if in.Kind() == iface.KindSignals {
		signals, err := in.FilterSignals(filter)
		if err != nil {
			return nil, err
		}
		return iface.NewSignals(name, signals), nil
	}
	params, err := in.FilterParameters(filter)
	if err != nil {
		return nil, err
	}
	return iface.NewParameters(name, params), nil
}

// writeAugmentedWorkflow persists a copy of the workflow annotated with the
// content hashes and produced files of the finished run.
func (s *Scheduler) writeAugmentedWorkflow(wf *schema.Workflow, workflowPath, baseDir string, ts time.Time) (string, error) {
	dir := s.opts.OutputDir
	if dir == "" {
		dir = baseDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore,
			"create output directory %s: %s", dir, err.Error()).WithCause(err)
	}

	raw, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore,
			"encode augmented workflow: %s", err.Error()).WithCause(err)
	}

	path := AugmentedWorkflowPath(dir, workflowPath, ts)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore,
			"write augmented workflow %s: %s", path, err.Error()).WithCause(err)
	}
	return path, nil
}
