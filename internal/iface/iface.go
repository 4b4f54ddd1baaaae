package iface

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"

	"github.com/heliossim/helios/pkg/schema"
)

// Kind discriminates signal-bearing from parameter-bearing interfaces.
type Kind string

const (
	KindSignals    Kind = "signals"
	KindParameters Kind = "parameters"
)

// Interface is a named, ordered collection of Signals or Parameters bound to
// a source file or a computed origin. Instances are immutable once
// constructed; the pipeline shares them across consumers through the
// content-hash cache, so transformations must build new instances instead of
// mutating.
type Interface struct {
	kind    Kind
	origin  string
	signals []*schema.Signal
	params  []*schema.Parameter

	hashOnce sync.Once
	hash     string
}

// NewSignals constructs an immutable signal interface.
func NewSignals(origin string, signals []*schema.Signal) *Interface {
	return &Interface{kind: KindSignals, origin: origin, signals: signals}
}

// NewParameters constructs an immutable parameter interface.
func NewParameters(origin string, params []*schema.Parameter) *Interface {
	return &Interface{kind: KindParameters, origin: origin, params: params}
}

// Kind returns the interface kind.
func (i *Interface) Kind() Kind { return i.kind }

// Origin returns the source path or computed origin of the collection.
func (i *Interface) Origin() string { return i.origin }

// Signals returns the ordered signal collection (nil for parameter interfaces).
func (i *Interface) Signals() []*schema.Signal { return i.signals }

// Parameters returns the ordered parameter collection (nil for signal interfaces).
func (i *Interface) Parameters() []*schema.Parameter { return i.params }

// Labels returns the labels of the contained records in order.
func (i *Interface) Labels() []string {
	var labels []string
	for _, s := range i.signals {
		labels = append(labels, s.Label)
	}
	for _, p := range i.params {
		labels = append(labels, p.Label)
	}
	return labels
}

// FilterSignals returns the signals whose labels match the given label
// filter (see ResolveLabelFilter). A nil filter returns all signals.
func (i *Interface) FilterSignals(filter []string) ([]*schema.Signal, error) {
	if filter == nil {
		return i.signals, nil
	}
	selected, err := ResolveLabelFilter(filter, i.Labels())
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(selected))
	for _, label := range selected {
		want[label] = true
	}
	var out []*schema.Signal
	for _, s := range i.signals {
		if want[s.Label] {
			out = append(out, s)
		}
	}
	return out, nil
}

// FilterParameters is the parameter counterpart of FilterSignals.
func (i *Interface) FilterParameters(filter []string) ([]*schema.Parameter, error) {
	if filter == nil {
		return i.params, nil
	}
	selected, err := ResolveLabelFilter(filter, i.Labels())
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(selected))
	for _, label := range selected {
		want[label] = true
	}
	var out []*schema.Parameter
	for _, p := range i.params {
		if want[p.Label] {
			out = append(out, p)
		}
	}
	return out, nil
}

// Hash returns the deterministic content hash of the collection. The hash
// covers the normalized record content, not the source path, so two
// interfaces loaded from different files with identical content converge to
// the same key.
func (i *Interface) Hash() string {
	i.hashOnce.Do(func() {
		h := sha256.New()
		h.Write([]byte(i.kind))
		for _, s := range i.signals {
			hashString(h, s.Label)
			hashString(h, s.Unit)
			hashInts(h, s.Rows, s.Cols)
			hashFloats(h, s.Timestamps)
			hashFloats(h, s.Values)
		}
		for _, p := range i.params {
			hashString(h, p.Label)
			hashString(h, p.Description)
			hashString(h, p.Unit)
			hashInts(h, p.Rows, p.Cols)
			hashFloats(h, p.Values)
		}
		i.hash = hex.EncodeToString(h.Sum(nil))
	})
	return i.hash
}

type hashWriter interface {
	Write(p []byte) (int, error)
}

func hashString(h hashWriter, s string) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
	h.Write(buf[:])
	h.Write([]byte(s))
}

func hashInts(h hashWriter, vals ...int) {
	var buf [8]byte
	for _, v := range vals {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
}

func hashFloats(h hashWriter, vals []float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(vals)))
	h.Write(buf[:])
	for _, v := range vals {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
}
