package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/heliossim/helios/internal/logging"
	"github.com/heliossim/helios/pkg/schema"
)

// Request is the JSON document a plugin process receives on stdin.
type Request struct {
	Element    string              `json:"element"`
	Config     map[string]any      `json:"config,omitempty"`
	Signals    []*schema.Signal    `json:"signals,omitempty"`
	Parameters []*schema.Parameter `json:"parameters,omitempty"`
}

// Response is the JSON document a plugin process writes to stdout. A
// non-empty error field fails the element even when the process exits zero.
type Response struct {
	Signals    []*schema.Signal    `json:"signals,omitempty"`
	Parameters []*schema.Parameter `json:"parameters,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Adapter runs a workflow plugin element as an external process. The command
// line is interpreted by the shell, receives the request on stdin and must
// write a Response to stdout. Stderr is passed through to the log.
type Adapter struct {
	command string
	config  map[string]any
	logger  *slog.Logger
}

// New creates an adapter for one plugin element.
func New(command string, config map[string]any, logger *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(command) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "plugin command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{command: command, config: config, logger: logger}, nil
}

// Run executes the plugin with the given upstream content and returns the
// signals and parameters it produced.
func (a *Adapter) Run(ctx context.Context, element string, signals []*schema.Signal, params []*schema.Parameter) ([]*schema.Signal, []*schema.Parameter, error) {
	payload, err := json.Marshal(Request{
		Element:    element,
		Config:     a.config,
		Signals:    signals,
		Parameters: params,
	})
	if err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeRuntime,
			"encode plugin request: %s", err.Error()).WithCause(err).WithElement(element)
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", a.command)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.LogWith(ctx, a.logger).Debug("plugin start", "command", a.command)
	err = cmd.Run()

	if stderr.Len() > 0 {
		logging.LogWith(ctx, a.logger).Info("plugin stderr",
			"output", strings.TrimSpace(stderr.String()))
	}

	if ctx.Err() != nil {
		return nil, nil, schema.NewError(schema.ErrCodeCancelled, "plugin aborted").
			WithCause(ctx.Err()).WithElement(element)
	}
	if err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeRuntime,
			"plugin command failed: %s", err.Error()).
			WithCause(err).
			WithElement(element).
			WithDetails(map[string]any{"stderr": tail(stderr.String(), 2048)})
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeRuntime,
			"plugin produced invalid JSON: %s", err.Error()).
			WithCause(err).
			WithElement(element).
			WithDetails(map[string]any{"stdout": tail(stdout.String(), 2048)})
	}
	if resp.Error != "" {
		return nil, nil, schema.NewErrorf(schema.ErrCodeRuntime,
			"plugin reported: %s", resp.Error).WithElement(element)
	}
	if len(resp.Signals) == 0 && len(resp.Parameters) == 0 {
		return nil, nil, schema.NewError(schema.ErrCodeRuntime,
			"plugin produced no signals or parameters").WithElement(element)
	}
	// An element registers one interface of one kind; mixed output has no
	// home and would otherwise be silently dropped downstream.
	if len(resp.Signals) > 0 && len(resp.Parameters) > 0 {
		return nil, nil, schema.NewErrorf(schema.ErrCodeRuntime,
			"plugin produced both %d signals and %d parameters, want one kind",
			len(resp.Signals), len(resp.Parameters)).WithElement(element)
	}

	for _, s := range resp.Signals {
		if err := s.Validate(); err != nil {
			return nil, nil, err
		}
	}
	for _, p := range resp.Parameters {
		if err := p.Validate(); err != nil {
			return nil, nil, err
		}
	}
	return resp.Signals, resp.Parameters, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
