// Package runtime defines the call boundary to the wrapped eBPF
// runtime library. Every kernel-facing operation the accessor layer
// performs goes through these interfaces; the only implementation that
// performs real I/O lives in runtime/ebpf.
//
// Binding is by Go method signature, so a mismatch between the core
// and an adapter is a compile-time error rather than a runtime one.
package runtime

import (
	"errors"

	"github.com/frobware/go-bpfobj/kernel"
)

// Sentinel errors adapters translate kernel failures into. Adapters
// wrap them (errors.Is matches) so the original errno text survives.
var (
	// ErrKeyNotExist reports a missing key, an exhausted get-next-key
	// cursor, or an empty queue/stack.
	ErrKeyNotExist = errors.New("key does not exist")
	// ErrKeyExist reports a create-only update of an existing key.
	ErrKeyExist = errors.New("key already exists")
	// ErrNoSpace reports a full map or queue/stack.
	ErrNoSpace = errors.New("map is full")
	// ErrNotSupported reports an operation the program or map type
	// does not support.
	ErrNotSupported = errors.New("operation not supported")
)

// Runtime is the entry point to the wrapped library.
type Runtime interface {
	// Open parses a compiled BPF object file and returns a handle to
	// it. The object is not loaded into the kernel yet.
	Open(path string) (ObjectHandle, error)

	// RaiseMemlockLimit lifts RLIMIT_MEMLOCK so map creation is not
	// rejected on kernels that charge BPF memory against it.
	RaiseMemlockLimit() error

	// PossibleCPUs returns the number of CPUs the kernel sizes
	// per-CPU map values for.
	PossibleCPUs() (int, error)

	// NewRingContext creates the polling context for ring buffer
	// maps, registering m with fn as its first member.
	NewRingContext(m MapHandle, fn RingHandler) (RingContext, error)
}

// ObjectHandle is an opened BPF object. Maps and Programs are valid
// only after Load succeeds.
type ObjectHandle interface {
	// SetVariable overwrites a global variable (.rodata/.data/.bss)
	// before load.
	SetVariable(name string, data []byte) error

	// Load loads all maps and programs into the kernel.
	Load() error

	Maps() []MapHandle
	Programs() []ProgramHandle

	// Close releases the object and every map and program it owns.
	Close() error
}

// MapHandle is one kernel map. All keys and values are raw bytes of
// exactly the sizes reported by Info; the typed layer above is
// responsible for layout enforcement.
//
// Queue and stack maps use nil keys for Lookup, Update and
// LookupAndDelete.
type MapHandle interface {
	Info() kernel.MapInfo

	Lookup(key []byte) ([]byte, error)
	Update(key, value []byte, flags kernel.UpdateFlags) error
	Delete(key []byte) error

	// NextKey returns the key following key. A nil key means "first
	// key"; an exhausted cursor returns ErrKeyNotExist.
	NextKey(key []byte) ([]byte, error)

	// LookupAndDelete pops an element (queue/stack maps).
	LookupAndDelete(key []byte) ([]byte, error)

	// LookupPerCPU and UpdatePerCPU transfer one value slot per
	// possible CPU for per-CPU map types.
	LookupPerCPU(key []byte) ([][]byte, error)
	UpdatePerCPU(key []byte, values [][]byte, flags kernel.UpdateFlags) error
}

// ProgramHandle is one kernel program.
type ProgramHandle interface {
	Info() kernel.ProgramInfo

	// Run executes the program via the kernel's test-run facility and
	// returns its raw 32-bit return value. Programs whose type does
	// not support test runs return ErrNotSupported.
	Run(input []byte, repeat int) (uint32, error)

	// Attach attaches the program to the hook encoded in its ELF
	// section. Types whose hook needs extra parameters (for example
	// XDP, which needs an interface) return ErrNotSupported.
	Attach() (LinkHandle, error)

	// AttachXDP attaches an XDP program to a network interface.
	AttachXDP(ifindex int) (LinkHandle, error)
}

// LinkHandle is an established program attachment.
type LinkHandle interface {
	Close() error
}

// RingHandler consumes one raw ring buffer record. A non-zero return
// stops the poll loop at the next record boundary.
type RingHandler func(record []byte) int

// RingContext multiplexes event delivery for one or more ring buffer
// maps. At most one exists per object; it is created lazily by the
// first callback registration and freed exactly once.
type RingContext interface {
	// Add registers a further ring buffer map on the context.
	Add(m MapHandle, fn RingHandler) error

	// Consume drains all currently queued records without blocking
	// and returns the number of records delivered.
	Consume() (int, error)

	// Poll blocks up to timeoutMs milliseconds (negative to block
	// indefinitely) for at least one record, drains what is
	// available, and returns the number of records delivered.
	Poll(timeoutMs int) (int, error)

	Close() error
}
