package bpfobj

import "fmt"

// NoImplementationError is returned when an object contains a map or
// program whose kernel type has no registered accessor constructor.
type NoImplementationError struct {
	Kind string // "map" or "program"
	Type string // kernel type name
}

func (e *NoImplementationError) Error() string {
	return fmt.Sprintf("no %s implementation for %s", e.Kind, e.Type)
}

// LayoutMismatchError is returned when a registered key or value
// layout does not match the size the kernel reports for the map.
type LayoutMismatchError struct {
	Map  string
	What string // "key" or "value"
	Want int    // size the kernel reports
	Got  int    // size of the registered layout
}

func (e *LayoutMismatchError) Error() string {
	return fmt.Sprintf("map %s: %s layout is %d bytes, kernel reports %d", e.Map, e.What, e.Got, e.Want)
}

// TypeNotConfiguredError is returned when a map is accessed before its
// key or value layout has been registered.
type TypeNotConfiguredError struct {
	Map  string
	What string // "key" or "value"
}

func (e *TypeNotConfiguredError) Error() string {
	return fmt.Sprintf("map %s: no %s type registered; call Register%sType first", e.Map, e.What, titleWhat(e.What))
}

func titleWhat(w string) string {
	if w == "key" {
		return "Key"
	}
	return "Value"
}

// KeyNotFoundError is returned when a lookup or delete misses. Err
// carries the kernel error.
type KeyNotFoundError struct {
	Map string
	Err error
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("map %s: key not found: %v", e.Map, e.Err)
}

func (e *KeyNotFoundError) Unwrap() error { return e.Err }

// UpdateError is returned when a map update is rejected by the kernel.
type UpdateError struct {
	Map string
	Err error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("map %s: update failed: %v", e.Map, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// CapacityError is returned when a push on a full queue or stack is
// rejected.
type CapacityError struct {
	Map string
	Err error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("map %s: capacity exceeded: %v", e.Map, e.Err)
}

func (e *CapacityError) Unwrap() error { return e.Err }

// EmptyError is returned when popping or peeking an empty queue or
// stack.
type EmptyError struct {
	Map string
}

func (e *EmptyError) Error() string {
	return fmt.Sprintf("map %s is empty", e.Map)
}

// UnsupportedOperationError is returned for operations a specific map
// or program type does not permit, such as changing an array's key
// type or test-running a kprobe program.
type UnsupportedOperationError struct {
	Op     string
	Reason string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// OpenError is returned when the runtime cannot open an object file.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open BPF object %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// LoadError is returned when loading the object into the kernel fails.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load BPF object %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// AlreadyLoadedError is returned when Load is called a second time on
// the same object.
type AlreadyLoadedError struct {
	Path string
}

func (e *AlreadyLoadedError) Error() string {
	return fmt.Sprintf("BPF object %s is already loaded", e.Path)
}

// NotLoadedError is returned when an operation that requires a loaded
// object runs before Load completes.
type NotLoadedError struct {
	Path string
	Op   string
}

func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("%s: BPF object %s is not loaded", e.Op, e.Path)
}

// AttachError is returned when attaching a program to its hook fails.
type AttachError struct {
	Program string
	Err     error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("attach program %s: %v", e.Program, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// MapNotFoundError is returned by Object.Map for a name the discovery
// walk did not record.
type MapNotFoundError struct {
	Name string
}

func (e *MapNotFoundError) Error() string {
	return fmt.Sprintf("no such map %q", e.Name)
}

// ProgramNotFoundError is returned by Object.Prog for a name the
// discovery walk did not record.
type ProgramNotFoundError struct {
	Name string
}

func (e *ProgramNotFoundError) Error() string {
	return fmt.Sprintf("no such program %q", e.Name)
}

// RingbufInitError is returned when creating the ring buffer polling
// context fails.
type RingbufInitError struct {
	Map string
	Err error
}

func (e *RingbufInitError) Error() string {
	return fmt.Sprintf("create ring buffer context for map %s: %v", e.Map, e.Err)
}

func (e *RingbufInitError) Unwrap() error { return e.Err }

// RingbufAddError is returned when adding a further ring buffer map to
// an existing polling context fails.
type RingbufAddError struct {
	Map string
	Err error
}

func (e *RingbufAddError) Error() string {
	return fmt.Sprintf("add map %s to ring buffer context: %v", e.Map, e.Err)
}

func (e *RingbufAddError) Unwrap() error { return e.Err }

// NoRingbufsError is returned by Consume and Poll when no ring buffer
// callback has been registered on the object.
type NoRingbufsError struct{}

func (e *NoRingbufsError) Error() string {
	return "no ring buffers registered; register a callback first"
}
