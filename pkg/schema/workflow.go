package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ElementType enumerates the kinds of workflow elements.
type ElementType string

const (
	ElementData      ElementType = "data"
	ElementParameter ElementType = "parameter"
	ElementSimUnit   ElementType = "sim_unit"
	ElementPlugin    ElementType = "plugin"
)

// Element modes for data/parameter elements.
const (
	ModeRead  = "read"
	ModeWrite = "write"
)

// Element is a single workflow element. One flat struct carries the fields
// of all four element types; the JSON Schema constrains which fields are
// allowed per type.
type Element struct {
	Type ElementType `json:"type"`

	// data / parameter
	Mode         string   `json:"mode,omitempty"`
	Path         []string `json:"path,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"`
	Source       []string `json:"source,omitempty"` // label filter (regex list)

	// sim_unit
	Library         string  `json:"library,omitempty"`
	DataDictionary  string  `json:"data_dictionary,omitempty"`
	StepSizeMs      float64 `json:"step_size_ms,omitempty"`
	CancelCondition string  `json:"cancel_condition,omitempty"`
	ConditionEngine string  `json:"condition_engine,omitempty"` // expr (default) | cel
	VstackPattern   string  `json:"vstack_pattern,omitempty"`

	// plugin
	Command string         `json:"command,omitempty"`
	Config  map[string]any `json:"config,omitempty"`

	// declared references to other elements
	Input     []string `json:"input,omitempty"`
	Parameter []string `json:"parameter,omitempty"`
	Init      []string `json:"init,omitempty"`

	// execution metadata, filled in by the scheduler and written back
	// into the augmented workflow file
	HashList []string `json:"hash_list,omitempty"`
	Produced []string `json:"produced,omitempty"`
}

// References returns the declared reference set in stable declaration order
// (input, then parameter, then init), duplicates removed.
func (e *Element) References() []string {
	seen := make(map[string]bool)
	var refs []string
	for _, group := range [][]string{e.Input, e.Parameter, e.Init} {
		for _, name := range group {
			if !seen[name] {
				seen[name] = true
				refs = append(refs, name)
			}
		}
	}
	return refs
}

// Workflow is the parsed workflow description: a mapping from unique element
// name to element configuration. Declaration order is preserved so that
// scheduling ties break deterministically.
type Workflow struct {
	Names    []string
	Elements map[string]*Element

	// raw is the document the workflow was decoded from. Struct decoding
	// drops unknown fields, so schema validation runs against these bytes.
	raw []byte
}

// Raw returns the original JSON document, or nil for a workflow built in
// code rather than decoded.
func (w *Workflow) Raw() []byte {
	return w.raw
}

// Get returns the named element, or nil.
func (w *Workflow) Get(name string) *Element {
	return w.Elements[name]
}

// Len returns the number of elements.
func (w *Workflow) Len() int {
	return len(w.Names)
}

// UnmarshalJSON decodes the element mapping while recording declaration
// order. Duplicate element names are rejected.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("workflow: expected top-level object, got %v", tok)
	}

	w.Names = nil
	w.Elements = make(map[string]*Element)
	w.raw = append([]byte(nil), data...)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name := tok.(string)
		if _, dup := w.Elements[name]; dup {
			return fmt.Errorf("workflow: duplicate element name %q", name)
		}

		var elem Element
		if err := dec.Decode(&elem); err != nil {
			return fmt.Errorf("workflow: element %q: %w", name, err)
		}
		w.Names = append(w.Names, name)
		w.Elements[name] = &elem
	}

	_, err = dec.Token() // closing brace
	return err
}

// MarshalJSON encodes the elements in their recorded order.
func (w *Workflow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range w.Names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(w.Elements[name])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
