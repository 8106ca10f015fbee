package bpfobj

import (
	"github.com/frobware/go-bpfobj/kernel"
	"github.com/frobware/go-bpfobj/runtime"
)

// MapConstructor builds a typed map accessor over a kernel map handle.
type MapConstructor func(o *Object, h runtime.MapHandle) (MapAccessor, error)

// ProgramConstructor builds a typed program wrapper over a kernel
// program handle.
type ProgramConstructor func(o *Object, h runtime.ProgramHandle) (Program, error)

// Registry maps kernel map and program types to accessor
// constructors. Objects consult their registry when discovering the
// contents of a loaded object; types with no entry surface as a
// NoImplementationError from the corresponding Object.Map or
// Object.Prog call.
type Registry struct {
	maps     map[kernel.MapType]MapConstructor
	programs map[kernel.ProgramType]ProgramConstructor
}

// NewRegistry returns a registry pre-populated with the built-in
// accessors. Callers can override or extend it before passing it to
// Open via WithRegistry.
func NewRegistry() *Registry {
	r := &Registry{
		maps:     make(map[kernel.MapType]MapConstructor),
		programs: make(map[kernel.ProgramType]ProgramConstructor),
	}

	r.RegisterMap(kernel.MapTypeHash, newHashMap)
	r.RegisterMap(kernel.MapTypeLRUHash, newHashMap)
	r.RegisterMap(kernel.MapTypePerCPUHash, newPerCPUHash)
	r.RegisterMap(kernel.MapTypeLRUPerCPUHash, newPerCPUHash)
	r.RegisterMap(kernel.MapTypeArray, newArray)
	r.RegisterMap(kernel.MapTypePerCPUArray, newPerCPUArray)
	r.RegisterMap(kernel.MapTypeCgroupArray, newCgroupArray)
	r.RegisterMap(kernel.MapTypeQueue, newQueueStack)
	r.RegisterMap(kernel.MapTypeStack, newQueueStack)
	r.RegisterMap(kernel.MapTypeRingbuf, newRingbuf)

	r.RegisterProgram(kernel.ProgramTypeSocketFilter, newGenericProgram)
	r.RegisterProgram(kernel.ProgramTypeKprobe, newKprobeProgram)
	r.RegisterProgram(kernel.ProgramTypeTracepoint, newTracepointProgram)
	r.RegisterProgram(kernel.ProgramTypeRawTracepoint, newProbeProgram)
	r.RegisterProgram(kernel.ProgramTypeXDP, newXDPProgram)
	r.RegisterProgram(kernel.ProgramTypeSchedCls, newGenericProgram)
	r.RegisterProgram(kernel.ProgramTypeSchedAct, newGenericProgram)
	r.RegisterProgram(kernel.ProgramTypeTracing, newProbeProgram)

	return r
}

// RegisterMap installs (or replaces) the constructor for a map type.
func (r *Registry) RegisterMap(t kernel.MapType, ctor MapConstructor) {
	r.maps[t] = ctor
}

// RegisterProgram installs (or replaces) the constructor for a
// program type.
func (r *Registry) RegisterProgram(t kernel.ProgramType, ctor ProgramConstructor) {
	r.programs[t] = ctor
}

func (r *Registry) mapConstructor(t kernel.MapType) (MapConstructor, error) {
	ctor, ok := r.maps[t]
	if !ok {
		return nil, &NoImplementationError{Kind: "map", Type: t.String()}
	}
	return ctor, nil
}

func (r *Registry) programConstructor(t kernel.ProgramType) (ProgramConstructor, error) {
	ctor, ok := r.programs[t]
	if !ok {
		return nil, &NoImplementationError{Kind: "program", Type: t.String()}
	}
	return ctor, nil
}
