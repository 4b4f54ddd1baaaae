package iface

import (
	"encoding/json"
	"os"

	"github.com/heliossim/helios/pkg/schema"
)

// SignalJSONCodec reads and writes the native signal container. Unlike CSV it
// carries per-signal timelines, units and shapes, so it can hold vector and
// matrix signals losslessly.
type SignalJSONCodec struct{}

type signalDocument struct {
	Signals []*schema.Signal `json:"signals"`
}

func (c *SignalJSONCodec) Kind() Kind        { return KindSignals }
func (c *SignalJSONCodec) Extension() string { return ".sig.json" }

func (c *SignalJSONCodec) Read(path string) (*Interface, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"read %s: %s", path, err.Error()).WithCause(err)
	}

	var doc signalDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"parse %s: %s", path, err.Error()).WithCause(err)
	}
	if len(doc.Signals) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s: signal container holds no signals", path)
	}
	for _, s := range doc.Signals {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return NewSignals(path, doc.Signals), nil
}

func (c *SignalJSONCodec) Write(path string, in *Interface) error {
	if in.Kind() != KindSignals {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"cannot write %s interface as a signal container", in.Kind())
	}
	raw, err := json.MarshalIndent(signalDocument{Signals: in.Signals()}, "", "  ")
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

var _ Codec = (*SignalJSONCodec)(nil)
