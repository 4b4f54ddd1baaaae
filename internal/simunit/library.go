//go:build darwin || linux || freebsd

package simunit

import (
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/heliossim/helios/pkg/schema"
)

// varSlot is the backing storage for one dictionary variable. The buffer is
// owned by the Library and its address is passed to the entry point, so it
// must never be reallocated while the library is open.
type varSlot struct {
	entry    *schema.DictEntry
	elemSize int
	count    int
	buf      []byte
}

// Library binds a simulation unit shared library through its data
// dictionary. The entry point is called with one pointer per dictionary
// variable: parameters first in declaration order, then inputs and outputs
// in declaration order. Buffers are allocated once at open time and written
// in place between steps.
type Library struct {
	handle uintptr
	entry  uintptr
	slots  map[string]*varSlot
	args   []uintptr
	closed bool
}

// maxCallArgs is purego's SyscallN argument limit; exceeding it panics
// inside the foreign call, so over-long dictionaries are rejected up front.
const maxCallArgs = 15

// Open loads the shared library at path and resolves the dictionary's entry
// point. The dictionary must already be validated.
func Open(path string, dict *schema.DataDictionary) (*Library, error) {
	if len(dict.Variables) > maxCallArgs {
		return nil, schema.NewErrorf(schema.ErrCodeBinding,
			"entry point %q would take %d pointer arguments, the foreign call supports at most %d",
			dict.Entry(), len(dict.Variables), maxCallArgs)
	}

	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBinding,
			"load library %s: %s", path, err.Error()).WithCause(err)
	}

	entry, err := purego.Dlsym(handle, dict.Entry())
	if err != nil {
		purego.Dlclose(handle)
		return nil, schema.NewErrorf(schema.ErrCodeBinding,
			"entry point %q not found in %s: %s", dict.Entry(), path, err.Error()).WithCause(err)
	}

	lib := &Library{
		handle: handle,
		entry:  entry,
		slots:  make(map[string]*varSlot, len(dict.Variables)),
	}

	appendSlot := func(v *schema.DictEntry) error {
		size, ok := schema.DatatypeSize(v.Datatype)
		if !ok {
			return schema.NewErrorf(schema.ErrCodeBinding,
				"variable %q: unsupported datatype %q", v.Name, v.Datatype)
		}
		slot := &varSlot{
			entry:    v,
			elemSize: size,
			count:    v.Count(),
			buf:      make([]byte, size*v.Count()),
		}
		lib.slots[v.Name] = slot
		lib.args = append(lib.args, uintptr(unsafe.Pointer(&slot.buf[0])))
		return nil
	}

	for i := range dict.Variables {
		if dict.Variables[i].Role == schema.RoleParameter {
			if err := appendSlot(&dict.Variables[i]); err != nil {
				purego.Dlclose(handle)
				return nil, err
			}
		}
	}
	for i := range dict.Variables {
		if dict.Variables[i].Role != schema.RoleParameter {
			if err := appendSlot(&dict.Variables[i]); err != nil {
				purego.Dlclose(handle)
				return nil, err
			}
		}
	}

	return lib, nil
}

// Write converts float64 values to the variable's datatype and stores them
// into its bound buffer.
func (l *Library) Write(name string, values []float64) error {
	slot, ok := l.slots[name]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeBinding, "unknown variable %q", name)
	}
	if len(values) != slot.count {
		return schema.NewErrorf(schema.ErrCodeBinding,
			"variable %q holds %d values, got %d", name, slot.count, len(values))
	}
	for i, v := range values {
		p := unsafe.Pointer(&slot.buf[i*slot.elemSize])
		switch slot.entry.Datatype {
		case "float64", "double":
			*(*float64)(p) = v
		case "float32", "float":
			*(*float32)(p) = float32(v)
		case "int64":
			*(*int64)(p) = int64(v)
		case "uint64":
			*(*uint64)(p) = uint64(v)
		case "int32":
			*(*int32)(p) = int32(v)
		case "uint32":
			*(*uint32)(p) = uint32(v)
		case "int16":
			*(*int16)(p) = int16(v)
		case "uint16":
			*(*uint16)(p) = uint16(v)
		case "int8":
			*(*int8)(p) = int8(v)
		case "uint8":
			*(*uint8)(p) = uint8(v)
		case "bool":
			b := byte(0)
			if v != 0 {
				b = 1
			}
			*(*byte)(p) = b
		}
	}
	return nil
}

// Read returns the variable's current buffer contents as float64 values.
func (l *Library) Read(name string) ([]float64, error) {
	slot, ok := l.slots[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeBinding, "unknown variable %q", name)
	}
	values := make([]float64, slot.count)
	for i := range values {
		p := unsafe.Pointer(&slot.buf[i*slot.elemSize])
		switch slot.entry.Datatype {
		case "float64", "double":
			values[i] = *(*float64)(p)
		case "float32", "float":
			values[i] = float64(*(*float32)(p))
		case "int64":
			values[i] = float64(*(*int64)(p))
		case "uint64":
			values[i] = float64(*(*uint64)(p))
		case "int32":
			values[i] = float64(*(*int32)(p))
		case "uint32":
			values[i] = float64(*(*uint32)(p))
		case "int16":
			values[i] = float64(*(*int16)(p))
		case "uint16":
			values[i] = float64(*(*uint16)(p))
		case "int8":
			values[i] = float64(*(*int8)(p))
		case "uint8":
			values[i] = float64(*(*uint8)(p))
		case "bool":
			if *(*byte)(p) != 0 {
				values[i] = 1
			}
		}
	}
	return values, nil
}

// Invoke calls the entry point with the fixed pointer argument vector.
func (l *Library) Invoke() error {
	if l.closed {
		return schema.NewError(schema.ErrCodeBinding, "library is closed")
	}
	purego.SyscallN(l.entry, l.args...)
	return nil
}

// Close unloads the shared library. The bound buffers become invalid.
func (l *Library) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if err := purego.Dlclose(l.handle); err != nil {
		return schema.NewErrorf(schema.ErrCodeBinding,
			"unload library: %s", err.Error()).WithCause(err)
	}
	return nil
}

var _ Binding = (*Library)(nil)
