package bpfobj

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	goruntime "runtime"
	"sort"
	"sync"
	"time"

	"github.com/frobware/go-bpfobj/runtime"
	"github.com/frobware/go-bpfobj/store"
)

// VariableSetter sets global variables of an object between open and
// load. Values are marshalled with the same fixed-size layout rules
// as map keys and values.
type VariableSetter interface {
	Set(name string, value any) error
}

type varSetter struct {
	h runtime.ObjectHandle
}

func (v varSetter) Set(name string, value any) error {
	l, err := layoutOf(value)
	if err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	data, err := l.marshal(value)
	if err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	return v.h.SetVariable(name, data)
}

// objectResources holds everything Close must release. It is split
// from Object so the optional GC safety net can reference it without
// keeping the Object itself alive.
type objectResources struct {
	mu           sync.Mutex
	handle       runtime.ObjectHandle
	links        []runtime.LinkHandle
	ringCtx      runtime.RingContext
	ringHandlers []runtime.RingHandler
	pollInFlight bool
	closed       bool
}

// close releases the ring context, attachments and the object handle,
// exactly once. It fails without releasing anything while a ring
// buffer poll is in flight.
func (r *objectResources) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if r.pollInFlight {
		return fmt.Errorf("close: ring buffer poll in progress")
	}
	r.closed = true

	var firstErr error
	if r.ringCtx != nil {
		if err := r.ringCtx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close ring buffer context: %w", err)
		}
		r.ringCtx = nil
	}
	r.ringHandlers = nil
	for i := len(r.links) - 1; i >= 0; i-- {
		if err := r.links[i].Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("detach program: %w", err)
		}
	}
	r.links = nil
	if r.handle != nil {
		if err := r.handle.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Object manages the lifecycle of one BPF object file: open, load,
// attach, typed access to its maps and programs, and teardown.
// Deterministic Close is the primary cleanup path; WithAutoCleanup
// adds a GC-driven safety net for objects that escape it.
//
// An Object is not safe for concurrent use, with one exception: ring
// buffer Consume and Poll may run on a dedicated goroutine while
// other goroutines only read maps.
type Object struct {
	path     string
	rt       runtime.Runtime
	registry *Registry
	logger   *slog.Logger
	st       store.Store

	initFn      func(VariableSetter) error
	bumpRlimit  bool
	autoCleanup bool

	res     *objectResources
	cleanup goruntime.Cleanup
	loaded  bool

	maps     map[string]MapAccessor
	mapErrs  map[string]error
	progs    map[string]Program
	progErrs map[string]error
}

// Open parses the compiled BPF object file at path and returns a
// manager for it. Nothing is loaded into the kernel until Load.
func Open(path string, opts ...Option) (*Object, error) {
	o := &Object{
		path:       path,
		bumpRlimit: true,
		res:        &objectResources{},
		maps:       make(map[string]MapAccessor),
		mapErrs:    make(map[string]error),
		progs:      make(map[string]Program),
		progErrs:   make(map[string]error),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = defaultLogger()
	}
	if o.rt == nil {
		rt, err := defaultRuntime(o.logger)
		if err != nil {
			return nil, &OpenError{Path: path, Err: err}
		}
		o.rt = rt
	}
	o.logger = o.logger.With("component", "object", "path", path)
	if o.registry == nil {
		o.registry = NewRegistry()
	}

	h, err := o.rt.Open(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	o.res.handle = h

	if o.autoCleanup {
		logger := o.logger
		o.cleanup = goruntime.AddCleanup(o, func(res *objectResources) {
			if err := res.close(); err != nil {
				logger.Warn("cleanup of leaked BPF object failed", "error", err)
			}
		}, o.res)
	}

	o.logger.Debug("opened BPF object")
	return o, nil
}

// LoadAndAttach opens, loads and attaches the object at path in one
// call. On any failure the partially set up object is closed.
func LoadAndAttach(ctx context.Context, path string, opts ...Option) (*Object, error) {
	o, err := Open(path, opts...)
	if err != nil {
		return nil, err
	}
	if err := o.Load(ctx); err != nil {
		o.Close()
		return nil, err
	}
	if err := o.Attach(ctx); err != nil {
		o.Close()
		return nil, err
	}
	return o, nil
}

// Path returns the object file path this manager was opened with.
func (o *Object) Path() string { return o.path }

// Load loads the object's maps and programs into the kernel and
// discovers typed accessors for them. It may be called at most once.
func (o *Object) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.loaded {
		return &AlreadyLoadedError{Path: o.path}
	}
	o.res.mu.Lock()
	closed := o.res.closed
	h := o.res.handle
	o.res.mu.Unlock()
	if closed {
		return &NotLoadedError{Path: o.path, Op: "load"}
	}

	if o.bumpRlimit {
		if err := o.rt.RaiseMemlockLimit(); err != nil {
			return &LoadError{Path: o.path, Err: fmt.Errorf("raise memlock limit: %w", err)}
		}
	}
	if o.initFn != nil {
		if err := o.initFn(varSetter{h: h}); err != nil {
			return &LoadError{Path: o.path, Err: fmt.Errorf("init hook: %w", err)}
		}
	}

	start := time.Now()
	if err := h.Load(); err != nil {
		return &LoadError{Path: o.path, Err: err}
	}
	o.loaded = true
	o.discover(h)
	o.logger.Info("loaded BPF object",
		"maps", len(o.maps), "programs", len(o.progs),
		"duration", time.Since(start))

	o.saveSnapshot(ctx)
	return nil
}

// discover walks the loaded object and builds the name-indexed
// accessor tables. A map or program whose accessor cannot be built is
// skipped and logged; the failure is replayed from Map or Prog.
func (o *Object) discover(h runtime.ObjectHandle) {
	for _, mh := range h.Maps() {
		info := mh.Info()
		ctor, err := o.registry.mapConstructor(info.Type)
		if err != nil {
			o.logger.Warn("skipping map without accessor", "map", info.Name, "type", info.Type)
			o.mapErrs[info.Name] = err
			continue
		}
		acc, err := ctor(o, mh)
		if err != nil {
			o.logger.Warn("skipping map, accessor construction failed",
				"map", info.Name, "type", info.Type, "error", err)
			o.mapErrs[info.Name] = err
			continue
		}
		o.maps[info.Name] = acc
	}
	for _, ph := range h.Programs() {
		info := ph.Info()
		ctor, err := o.registry.programConstructor(info.Type)
		if err != nil {
			o.logger.Warn("skipping program without accessor", "program", info.Name, "type", info.Type)
			o.progErrs[info.Name] = err
			continue
		}
		prog, err := ctor(o, ph)
		if err != nil {
			o.logger.Warn("skipping program, accessor construction failed",
				"program", info.Name, "type", info.Type, "error", err)
			o.progErrs[info.Name] = err
			continue
		}
		o.progs[info.Name] = prog
	}
}

// saveSnapshot records the loaded object in the configured store.
// Snapshot failures are logged, never fatal: the store is advisory.
func (o *Object) saveSnapshot(ctx context.Context) {
	if o.st == nil {
		return
	}
	rec := store.ObjectRecord{
		Path:     o.path,
		PID:      os.Getpid(),
		LoadedAt: time.Now(),
	}
	for _, m := range o.Maps() {
		info := m.Info()
		rec.Maps = append(rec.Maps, store.MapRecord{
			Name:       info.Name,
			Type:       info.Type.String(),
			KeySize:    info.KeySize,
			ValueSize:  info.ValueSize,
			MaxEntries: info.MaxEntries,
		})
	}
	for _, p := range o.Programs() {
		rec.Programs = append(rec.Programs, store.ProgramRecord{
			Name: p.Name(),
			Type: p.Type().String(),
		})
	}
	if err := o.st.Save(ctx, rec); err != nil {
		o.logger.Warn("failed to save object snapshot", "error", err)
	}
}

// Attach attaches every auto-attachable program to the hook encoded
// in its ELF section. Programs whose attachment needs extra
// parameters (XDP, for example) are skipped and must be attached
// explicitly. Attachments made before a failure stay in place and are
// released by Close.
func (o *Object) Attach(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !o.loaded {
		return &NotLoadedError{Path: o.path, Op: "attach"}
	}
	for _, name := range sortedKeys(o.progs) {
		p := o.progs[name]
		lnk, err := p.attach()
		if err != nil {
			if isNotSupported(err) {
				o.logger.Debug("skipping program, not auto-attachable",
					"program", name, "type", p.Type())
				continue
			}
			return &AttachError{Program: name, Err: err}
		}
		o.retainLink(lnk)
		o.logger.Debug("attached program", "program", name, "type", p.Type())
	}
	return nil
}

func (o *Object) retainLink(lnk runtime.LinkHandle) {
	o.res.mu.Lock()
	o.res.links = append(o.res.links, lnk)
	o.res.mu.Unlock()
}

// Map returns the typed accessor for the named map. The caller
// asserts the result to its concrete type (*Map, *Array, *PerCPUMap,
// *QueueStack, *Ringbuf, ...).
func (o *Object) Map(name string) (MapAccessor, error) {
	if !o.loaded {
		return nil, &NotLoadedError{Path: o.path, Op: "map " + name}
	}
	if acc, ok := o.maps[name]; ok {
		return acc, nil
	}
	if err, ok := o.mapErrs[name]; ok {
		return nil, err
	}
	return nil, &MapNotFoundError{Name: name}
}

// Prog returns the typed wrapper for the named program.
func (o *Object) Prog(name string) (Program, error) {
	if !o.loaded {
		return nil, &NotLoadedError{Path: o.path, Op: "program " + name}
	}
	if p, ok := o.progs[name]; ok {
		return p, nil
	}
	if err, ok := o.progErrs[name]; ok {
		return nil, err
	}
	return nil, &ProgramNotFoundError{Name: name}
}

// Maps returns all discovered map accessors, sorted by name.
func (o *Object) Maps() []MapAccessor {
	out := make([]MapAccessor, 0, len(o.maps))
	for _, name := range sortedKeys(o.maps) {
		out = append(out, o.maps[name])
	}
	return out
}

// Programs returns all discovered program wrappers, sorted by name.
func (o *Object) Programs() []Program {
	out := make([]Program, 0, len(o.progs))
	for _, name := range sortedKeys(o.progs) {
		out = append(out, o.progs[name])
	}
	return out
}

// addRingbuf registers fn for records from r, creating the shared
// polling context on first registration. The handler is retained
// until Close.
func (o *Object) addRingbuf(r *Ringbuf, fn runtime.RingHandler) error {
	o.res.mu.Lock()
	defer o.res.mu.Unlock()

	if o.res.closed {
		return &RingbufAddError{Map: r.Name(), Err: fmt.Errorf("object is closed")}
	}
	if o.res.ringCtx == nil {
		ctx, err := o.rt.NewRingContext(r.h, fn)
		if err != nil {
			return &RingbufInitError{Map: r.Name(), Err: err}
		}
		o.res.ringCtx = ctx
	} else {
		if err := o.res.ringCtx.Add(r.h, fn); err != nil {
			return &RingbufAddError{Map: r.Name(), Err: err}
		}
	}
	o.res.ringHandlers = append(o.res.ringHandlers, fn)
	o.logger.Debug("registered ring buffer callback", "map", r.Name())
	return nil
}

// RingbufConsume drains all queued records from every registered ring
// buffer without blocking and returns the number of records
// delivered to callbacks.
func (o *Object) RingbufConsume() (int, error) {
	ctx, err := o.beginRingOp()
	if err != nil {
		return 0, err
	}
	defer o.endRingOp()
	return ctx.Consume()
}

// RingbufPoll waits up to timeout for records on any registered ring
// buffer, drains what arrived, and returns the number of records
// delivered to callbacks. A negative timeout blocks indefinitely.
func (o *Object) RingbufPoll(timeout time.Duration) (int, error) {
	ctx, err := o.beginRingOp()
	if err != nil {
		return 0, err
	}
	defer o.endRingOp()

	timeoutMs := -1
	if timeout >= 0 {
		timeoutMs = int(timeout.Milliseconds())
	}
	return ctx.Poll(timeoutMs)
}

func (o *Object) beginRingOp() (runtime.RingContext, error) {
	o.res.mu.Lock()
	defer o.res.mu.Unlock()
	if o.res.ringCtx == nil {
		return nil, &NoRingbufsError{}
	}
	if o.res.pollInFlight {
		return nil, fmt.Errorf("ring buffer poll already in progress")
	}
	o.res.pollInFlight = true
	return o.res.ringCtx, nil
}

func (o *Object) endRingOp() {
	o.res.mu.Lock()
	o.res.pollInFlight = false
	o.res.mu.Unlock()
}

// Close detaches programs, frees the ring buffer context and releases
// the object. It is idempotent. Close fails, releasing nothing, while
// a ring buffer poll is in flight.
func (o *Object) Close() error {
	o.res.mu.Lock()
	alreadyClosed := o.res.closed
	o.res.mu.Unlock()

	err := o.res.close()
	if err != nil {
		return err
	}
	if alreadyClosed {
		return nil
	}

	if o.autoCleanup {
		o.cleanup.Stop()
	}
	if o.st != nil && o.loaded {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if derr := o.st.Delete(ctx, o.path); derr != nil {
			o.logger.Warn("failed to delete object snapshot", "error", derr)
		}
	}
	o.logger.Debug("closed BPF object")
	return nil
}

func isNotSupported(err error) bool {
	return errors.Is(err, runtime.ErrNotSupported)
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
