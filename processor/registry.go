package processor

import (
	"go/types"
	"iter"
)

// Registry accumulates the steps found during one session. Entries are kept in
// the order they were added and are never removed.
//
// A Registry is not safe for concurrent use. Sessions only touch it from a
// single goroutine.
type Registry struct {
	entries []*StepMetadata
	byFunc  map[*types.Func]*StepMetadata
	byKey   map[funcKey]*StepMetadata
}

// funcKey identifies a function across type-checked copies of its package. A
// package loaded with its tests is one such copy: packages that import it see
// the copy without tests, whose objects are distinct.
type funcKey struct {
	pkg, recv, name string
}

func keyOf(fn *types.Func) funcKey {
	k := funcKey{name: fn.Name()}
	if fn.Pkg() != nil {
		k.pkg = fn.Pkg().Path()
	}
	if recv := fn.Signature().Recv(); recv != nil {
		t := types.Unalias(recv.Type())
		if ptr, ok := t.(*types.Pointer); ok {
			t = types.Unalias(ptr.Elem())
		}
		if named, ok := t.(*types.Named); ok {
			k.recv = named.Obj().Name()
		} else {
			k.recv = t.String()
		}
	}
	return k
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byFunc: map[*types.Func]*StepMetadata{},
		byKey:  map[funcKey]*StepMetadata{},
	}
}

// Add appends the given metadata. Callers must not add the same declaration
// twice.
func (r *Registry) Add(m *StepMetadata) {
	r.entries = append(r.entries, m)
	if m.Func != nil {
		if r.byFunc == nil {
			r.byFunc = map[*types.Func]*StepMetadata{}
			r.byKey = map[funcKey]*StepMetadata{}
		}
		r.byFunc[m.Func] = m
		r.byKey[keyOf(m.Func)] = m
	}
}

// All returns the entries in insertion order. The returned slice is a copy.
func (r *Registry) All() []*StepMetadata {
	res := make([]*StepMetadata, len(r.entries))
	copy(res, r.entries)
	return res
}

// Entries returns an iterator over the entries in insertion order. It may be
// ranged over more than once.
func (r *Registry) Entries() iter.Seq[*StepMetadata] {
	return func(yield func(*StepMetadata) bool) {
		for _, m := range r.entries {
			if !yield(m) {
				return
			}
		}
	}
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Lookup returns the metadata for the given function, if it is a step. A
// function from another copy of a step's package, like the one importers of a
// package see when the package was loaded with its tests, is matched by
// package path, receiver and name.
func (r *Registry) Lookup(fn *types.Func) (*StepMetadata, bool) {
	if fn == nil {
		return nil, false
	}
	if m, ok := r.byFunc[fn]; ok {
		return m, true
	}
	if m, ok := r.byFunc[fn.Origin()]; ok {
		return m, true
	}
	m, ok := r.byKey[keyOf(fn.Origin())]
	return m, ok
}

// ForPackage returns the entries declared in the package with the given
// import path, in insertion order.
func (r *Registry) ForPackage(pkgPath string) []*StepMetadata {
	var res []*StepMetadata
	for _, m := range r.entries {
		if m.Package == pkgPath {
			res = append(res, m)
		}
	}
	return res
}
