package iface

import (
	"strings"

	"github.com/heliossim/helios/pkg/schema"
)

// Codec reads and writes one on-disk representation of an interface.
type Codec interface {
	// Kind reports whether the codec carries signals or parameters.
	Kind() Kind
	// Extension is the canonical file suffix, including the leading dot.
	Extension() string
	Read(path string) (*Interface, error)
	Write(path string, in *Interface) error
}

// Resolver maps file extensions to codecs. Extensions may be multi-part
// (".sig.json"); resolution picks the longest registered suffix of the path.
type Resolver struct {
	byExt map[string]Codec
}

// NewResolver returns a resolver with the built-in codecs registered:
// CSV and signal-JSON for data elements, JSON and DCM for parameter elements.
func NewResolver() *Resolver {
	r := &Resolver{byExt: make(map[string]Codec)}
	r.Register(&CSVCodec{})
	r.Register(&SignalJSONCodec{})
	r.Register(&ParameterJSONCodec{})
	r.Register(&DCMCodec{})
	return r
}

// Register adds a codec under its canonical extension.
func (r *Resolver) Register(c Codec) {
	r.byExt[strings.ToLower(c.Extension())] = c
}

// ForPath resolves the codec for a file path by its longest matching suffix.
// Recognized-but-unsupported measurement formats get a dedicated error so
// users learn the format itself is the problem, not the path.
func (r *Resolver) ForPath(path string) (Codec, error) {
	lower := strings.ToLower(path)

	var best Codec
	bestLen := 0
	for ext, c := range r.byExt {
		if strings.HasSuffix(lower, ext) && len(ext) > bestLen {
			best, bestLen = c, len(ext)
		}
	}
	if best != nil {
		return best, nil
	}

	for _, ext := range []string{".mf4", ".mdf", ".mat"} {
		if strings.HasSuffix(lower, ext) {
			return nil, schema.NewErrorf(schema.ErrCodeUnsupported,
				"measurement format %q is not supported in this build", ext).
				WithDetails(map[string]any{"path": path})
		}
	}

	return nil, schema.NewErrorf(schema.ErrCodeUnsupported,
		"no codec registered for %q", path).
		WithDetails(map[string]any{"path": path, "registered": r.extensions()})
}

// ForFormat resolves a codec by output format name ("csv", "sig.json",
// "json", "dcm") restricted to the given kind.
func (r *Resolver) ForFormat(format string, kind Kind) (Codec, error) {
	ext := strings.ToLower(format)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	c, ok := r.byExt[ext]
	if !ok || c.Kind() != kind {
		return nil, schema.NewErrorf(schema.ErrCodeUnsupported,
			"no %s codec for output format %q", kind, format).
			WithDetails(map[string]any{"registered": r.extensions()})
	}
	return c, nil
}

func (r *Resolver) extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}
