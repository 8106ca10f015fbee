// Package ebpf implements the runtime boundary using cilium/ebpf.
// It is the only package that performs kernel I/O.
package ebpf

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"

	"github.com/frobware/go-bpfobj/runtime"
)

// adapter implements runtime.Runtime using cilium/ebpf.
type adapter struct {
	logger *slog.Logger
}

// Option configures the adapter.
type Option func(*adapter)

// WithLogger sets the logger for kernel operations.
func WithLogger(logger *slog.Logger) Option {
	return func(a *adapter) {
		a.logger = logger
	}
}

// New creates a cilium/ebpf-backed runtime.
func New(opts ...Option) (runtime.Runtime, error) {
	a := &adapter{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "kernel")
	return a, nil
}

// Open parses the object file at path. Loading needs root; checking
// here turns a late EPERM out of the load into an immediate, clear
// failure.
func (a *adapter) Open(path string) (runtime.ObjectHandle, error) {
	if os.Geteuid() != 0 {
		return nil, fmt.Errorf("loading BPF objects requires root (euid %d)", os.Geteuid())
	}

	spec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return nil, fmt.Errorf("load collection spec: %w", err)
	}

	sections := make(map[string]string, len(spec.Programs))
	for name, prog := range spec.Programs {
		sections[name] = prog.SectionName
	}

	return &objectHandle{
		path:     path,
		spec:     spec,
		sections: sections,
		logger:   a.logger,
	}, nil
}

// RaiseMemlockLimit lifts RLIMIT_MEMLOCK to infinity. Kernels before
// 5.11 charge BPF map memory against it and reject map creation with
// EPERM once exhausted.
func (a *adapter) RaiseMemlockLimit() error {
	limit := unix.Rlimit{
		Cur: unix.RLIM_INFINITY,
		Max: unix.RLIM_INFINITY,
	}
	if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &limit); err != nil {
		return fmt.Errorf("setrlimit RLIMIT_MEMLOCK: %w", err)
	}
	return nil
}

func (a *adapter) PossibleCPUs() (int, error) {
	return ebpf.PossibleCPU()
}

func (a *adapter) NewRingContext(m runtime.MapHandle, fn runtime.RingHandler) (runtime.RingContext, error) {
	mh, ok := m.(*mapHandle)
	if !ok {
		return nil, fmt.Errorf("map handle %T does not belong to this runtime", m)
	}
	return newRingContext(mh, fn, a.logger)
}

// translate maps cilium/ebpf and errno failures onto the runtime
// sentinels, keeping the original text.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ebpf.ErrKeyNotExist):
		return fmt.Errorf("%w: %s", runtime.ErrKeyNotExist, err)
	case errors.Is(err, ebpf.ErrKeyExist):
		return fmt.Errorf("%w: %s", runtime.ErrKeyExist, err)
	case errors.Is(err, unix.E2BIG), errors.Is(err, unix.ENOSPC):
		return fmt.Errorf("%w: %s", runtime.ErrNoSpace, err)
	case errors.Is(err, ebpf.ErrNotSupported), errors.Is(err, unix.EOPNOTSUPP):
		return fmt.Errorf("%w: %s", runtime.ErrNotSupported, err)
	default:
		return err
	}
}
