// Package extreg holds the compile-time extension registry: the
// mapping the code generator uses to resolve a `require`d
// extension name and its namespaced function calls down to the
// (extension id, sub-op) pairs the VM dispatches on.
//
// This is an explicit value threaded
// through compilation rather than the process-wide singleton the
// original LumaLang compiler used.
package extreg

import "fmt"

// Function describes one extension-namespaced callable: its sub-op
// within the extension, how many arguments it takes, and whether it
// leaves a result in R0.
type Function struct {
	SubOp        byte
	ArgCount     int
	ReturnsValue bool
}

// Extension is a named group of host functions identified by an 8-bit id.
type Extension struct {
	ID        byte
	Functions map[string]Function
}

// Registry is the set of extensions known to a compilation.
type Registry struct {
	byName map[string]Extension
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byName: make(map[string]Extension)}
}

// Register adds an extension under the given name. Registering the
// same name twice overwrites the earlier entry.
func (r *Registry) Register(name string, ext Extension) {
	r.byName[name] = ext
}

// Lookup resolves a `require`d extension name to its descriptor.
func (r *Registry) Lookup(name string) (Extension, bool) {
	ext, ok := r.byName[name]
	return ext, ok
}

// Resolve resolves a namespaced call `namespace.function` to the
// (extension id, function descriptor) the code generator needs to
// emit an EXT instruction.
func (r *Registry) Resolve(namespace, function string) (byte, Function, error) {
	ext, ok := r.byName[namespace]
	if !ok {
		return 0, Function{}, fmt.Errorf("unknown extension: %s", namespace)
	}
	fn, ok := ext.Functions[function]
	if !ok {
		return 0, Function{}, fmt.Errorf("unknown extension function: %s.%s", namespace, function)
	}
	return ext.ID, fn, nil
}

// Standard returns the registry populated with the extensions named in
// the toolchain's standard extensions: neopixel (id 0x01) and microphone (id 0x02),
// matching original_source/tools/compiler/Extension.h.
func Standard() *Registry {
	r := New()
	r.Register("neopixel", Extension{
		ID: 0x01,
		Functions: map[string]Function{
			"set_rgb":  {SubOp: 0x00, ArgCount: 4, ReturnsValue: false},
			"fill_rgb": {SubOp: 0x01, ArgCount: 3, ReturnsValue: false},
			"show":     {SubOp: 0x02, ArgCount: 0, ReturnsValue: false},
			"clear":    {SubOp: 0x03, ArgCount: 0, ReturnsValue: false},
			"num_leds": {SubOp: 0x04, ArgCount: 0, ReturnsValue: true},
		},
	})
	r.Register("microphone", Extension{
		ID: 0x02,
		Functions: map[string]Function{
			"read": {SubOp: 0x00, ArgCount: 0, ReturnsValue: true},
		},
	})
	return r
}
