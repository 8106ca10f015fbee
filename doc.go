// Package bpfobj manages compiled BPF object files: open, load,
// attach, typed access to maps and programs, and teardown.
//
// An Object is opened from an ELF object file and loaded into the
// kernel at most once. After loading, its maps and programs are
// available through typed accessors keyed by name:
//
//	obj, err := bpfobj.Open("prog.bpf.o")
//	if err != nil { ... }
//	defer obj.Close()
//
//	if err := obj.Load(ctx); err != nil { ... }
//	if err := obj.Attach(ctx); err != nil { ... }
//
//	acc, err := obj.Map("counts")
//	if err != nil { ... }
//	counts := acc.(*bpfobj.Map)
//	counts.RegisterKeyType(uint32(0))
//	counts.RegisterValueType(uint64(0))
//
//	var n uint64
//	err = counts.Get(uint32(7), &n)
//
// Key and value layouts are registered from prototype Go values and
// checked against the sizes the kernel reports. Encoding follows
// encoding/binary in native byte order, which does not insert
// alignment padding: struct layouts shared with BPF C code must spell
// out padding fields explicitly.
//
// Which accessor a map gets is decided by a Registry mapping kernel
// map and program types to constructors; NewRegistry returns the
// built-in set and can be extended or overridden per object.
//
// All kernel I/O goes through the runtime package's interfaces. The
// default implementation wraps github.com/cilium/ebpf; tests
// substitute a fake via WithRuntime.
package bpfobj
