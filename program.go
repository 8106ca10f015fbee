package bpfobj

import (
	"fmt"
	"log/slog"

	"github.com/frobware/go-bpfobj/kernel"
	"github.com/frobware/go-bpfobj/runtime"
)

// Program is the interface every typed program wrapper implements.
// Callers obtain one from Object.Prog and assert to the concrete type
// (for example *XDPProgram) for type-specific operations.
type Program interface {
	Name() string
	Type() kernel.ProgramType
	Info() kernel.ProgramInfo

	// Invoke executes the program once through the kernel's test-run
	// facility, passing input as its context data (nil for none), and
	// returns the program's return value reinterpreted as a signed
	// 16-bit integer. Program types without test-run support return
	// an UnsupportedOperationError.
	Invoke(input []byte) (int16, error)

	// attach attaches the program to the hook encoded in its ELF
	// section. Types whose hook needs extra parameters report
	// runtime.ErrNotSupported and are skipped by Object.Attach.
	attach() (runtime.LinkHandle, error)
}

// programBase implements the common invoke and attach behaviour.
type programBase struct {
	obj    *Object
	h      runtime.ProgramHandle
	info   kernel.ProgramInfo
	logger *slog.Logger
}

func (p *programBase) Name() string             { return p.info.Name }
func (p *programBase) Type() kernel.ProgramType { return p.info.Type }
func (p *programBase) Info() kernel.ProgramInfo { return p.info }
func (p *programBase) FD() int                  { return p.info.FD }

func (p *programBase) Invoke(input []byte) (int16, error) {
	ret, err := p.h.Run(input, 1)
	if err != nil {
		return 0, fmt.Errorf("invoke program %s: %w", p.info.Name, err)
	}
	// The kernel reports the return value in an unsigned 32-bit
	// field; programs return signed 16-bit values.
	return int16(ret), nil
}

func (p *programBase) attach() (runtime.LinkHandle, error) {
	return p.h.Attach()
}

// GenericProgram wraps program types without type-specific behaviour:
// invokable via test run, attached (where the hook allows) by
// Object.Attach.
type GenericProgram struct {
	programBase
}

func newGenericProgram(o *Object, h runtime.ProgramHandle) (Program, error) {
	return &GenericProgram{programBase{obj: o, h: h, info: h.Info(), logger: o.logger}}, nil
}

// probeProgram covers the hook-driven tracing types (kprobe,
// tracepoint, raw tracepoint) that the kernel cannot test-run.
type probeProgram struct {
	programBase
}

func newProbeProgram(o *Object, h runtime.ProgramHandle) (Program, error) {
	return &probeProgram{programBase{obj: o, h: h, info: h.Info(), logger: o.logger}}, nil
}

// Invoke always fails: the kernel does not support test-running
// probe-attached program types.
func (p *probeProgram) Invoke(input []byte) (int16, error) {
	return 0, &UnsupportedOperationError{
		Op:     "invoke program " + p.info.Name,
		Reason: p.info.Type.String() + " programs cannot be invoked with a test run",
	}
}

// KprobeProgram is a kernel-probe program. It attaches to the
// function named in its ELF section during Object.Attach and cannot
// be invoked synchronously.
type KprobeProgram struct {
	probeProgram
}

func newKprobeProgram(o *Object, h runtime.ProgramHandle) (Program, error) {
	return &KprobeProgram{probeProgram{programBase{obj: o, h: h, info: h.Info(), logger: o.logger}}}, nil
}

// TracepointProgram is a tracepoint program. It attaches to the
// tracepoint named in its ELF section during Object.Attach and cannot
// be invoked synchronously.
type TracepointProgram struct {
	probeProgram
}

func newTracepointProgram(o *Object, h runtime.ProgramHandle) (Program, error) {
	return &TracepointProgram{probeProgram{programBase{obj: o, h: h, info: h.Info(), logger: o.logger}}}, nil
}

// XDPProgram is an XDP program. Attachment needs a network interface,
// so it is skipped by Object.Attach and done explicitly through
// AttachXDP.
type XDPProgram struct {
	programBase
}

func newXDPProgram(o *Object, h runtime.ProgramHandle) (Program, error) {
	return &XDPProgram{programBase{obj: o, h: h, info: h.Info(), logger: o.logger}}, nil
}

// AttachXDP attaches the program to the network interface with the
// given index. The returned attachment is owned by the object and
// released on Close.
func (p *XDPProgram) AttachXDP(ifindex int) error {
	lnk, err := p.h.AttachXDP(ifindex)
	if err != nil {
		return &AttachError{Program: p.info.Name, Err: err}
	}
	p.obj.retainLink(lnk)
	return nil
}

// attach reports not-supported: XDP needs an interface index.
func (p *XDPProgram) attach() (runtime.LinkHandle, error) {
	return nil, fmt.Errorf("XDP attachment needs an interface: %w", runtime.ErrNotSupported)
}
