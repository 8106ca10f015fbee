package bpfobj

import (
	"log/slog"

	"github.com/frobware/go-bpfobj/logging"
	"github.com/frobware/go-bpfobj/runtime"
	ebpfruntime "github.com/frobware/go-bpfobj/runtime/ebpf"
	"github.com/frobware/go-bpfobj/store"
)

// Option configures an Object at Open time.
type Option func(*Object)

// WithRuntime substitutes the kernel runtime. The default is the
// cilium/ebpf adapter; tests substitute a fake.
func WithRuntime(rt runtime.Runtime) Option {
	return func(o *Object) { o.rt = rt }
}

// WithRegistry substitutes the accessor registry. The default is
// NewRegistry().
func WithRegistry(r *Registry) Option {
	return func(o *Object) { o.registry = r }
}

// WithLogger sets the logger. The default is built from the
// BPFOBJ_LOG environment variable.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Object) { o.logger = logger }
}

// WithInit registers a hook that runs after open and before load,
// typically to set global variables (.rodata constants and the like).
func WithInit(fn func(VariableSetter) error) Option {
	return func(o *Object) { o.initFn = fn }
}

// WithStore records a snapshot of the loaded object in st after load
// and deletes it on Close. Store failures are logged, never fatal.
func WithStore(st store.Store) Option {
	return func(o *Object) { o.st = st }
}

// WithoutRlimitBump disables the default RLIMIT_MEMLOCK raise before
// load. Needed only when the process manages its own limits.
func WithoutRlimitBump() Option {
	return func(o *Object) { o.bumpRlimit = false }
}

// WithAutoCleanup registers a GC-driven safety net that closes the
// object if it becomes unreachable without Close having been called.
// Deterministic Close remains the primary cleanup path; safety-net
// failures are logged, never surfaced.
func WithAutoCleanup() Option {
	return func(o *Object) { o.autoCleanup = true }
}

func defaultLogger() *slog.Logger {
	logger, err := logging.FromEnv()
	if err != nil {
		return logging.Default()
	}
	return logger
}

func defaultRuntime(logger *slog.Logger) (runtime.Runtime, error) {
	return ebpfruntime.New(ebpfruntime.WithLogger(logger))
}
