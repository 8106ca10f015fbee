package bpfobj_test

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	bpfobj "github.com/frobware/go-bpfobj"
	"github.com/frobware/go-bpfobj/kernel"
	"github.com/frobware/go-bpfobj/runtime"
)

// testLogger returns a logger for tests. By default it discards all
// output. Set BPFOBJ_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("BPFOBJ_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRuntime implements runtime.Runtime against in-memory state.
type fakeRuntime struct {
	obj           *fakeObject
	cpus          int
	memlockRaises int
	rings         []*fakeRing
}

func newFakeRuntime(obj *fakeObject) *fakeRuntime {
	return &fakeRuntime{obj: obj, cpus: 4}
}

func (r *fakeRuntime) Open(path string) (runtime.ObjectHandle, error) {
	if r.obj == nil {
		return nil, fmt.Errorf("no object at %s", path)
	}
	return r.obj, nil
}

func (r *fakeRuntime) RaiseMemlockLimit() error {
	r.memlockRaises++
	return nil
}

func (r *fakeRuntime) PossibleCPUs() (int, error) {
	return r.cpus, nil
}

func (r *fakeRuntime) NewRingContext(m runtime.MapHandle, fn runtime.RingHandler) (runtime.RingContext, error) {
	ring := &fakeRing{}
	if err := ring.Add(m, fn); err != nil {
		return nil, err
	}
	r.rings = append(r.rings, ring)
	return ring, nil
}

// fakeObject implements runtime.ObjectHandle.
type fakeObject struct {
	maps      []runtime.MapHandle
	progs     []runtime.ProgramHandle
	variables map[string][]byte
	loaded    bool
	loadErr   error
	closed    bool
}

func newFakeObject() *fakeObject {
	return &fakeObject{variables: make(map[string][]byte)}
}

func (o *fakeObject) SetVariable(name string, data []byte) error {
	if o.loaded {
		return fmt.Errorf("already loaded")
	}
	o.variables[name] = append([]byte(nil), data...)
	return nil
}

func (o *fakeObject) Load() error {
	if o.loadErr != nil {
		return o.loadErr
	}
	o.loaded = true
	return nil
}

func (o *fakeObject) Maps() []runtime.MapHandle         { return o.maps }
func (o *fakeObject) Programs() []runtime.ProgramHandle { return o.progs }

func (o *fakeObject) Close() error {
	o.closed = true
	return nil
}

// fakeMap implements runtime.MapHandle over an ordered in-memory
// table. Queue and stack types implement their nil-key push and pop
// protocol; per-CPU types store one chunk per CPU.
type fakeMap struct {
	info    kernel.MapInfo
	cpus    int
	entries map[string][]byte
	percpu  map[string][][]byte
	order   []string
	// phantoms are keys the cursor reports but lookups miss,
	// simulating deletion between get-next-key and lookup.
	phantoms map[string]bool
	fifo     [][]byte
}

func newFakeMap(name string, typ kernel.MapType, keySize, valueSize, maxEntries uint32) *fakeMap {
	return &fakeMap{
		info: kernel.MapInfo{
			Name:       name,
			Type:       typ,
			KeySize:    keySize,
			ValueSize:  valueSize,
			MaxEntries: maxEntries,
			FD:         42,
		},
		cpus:     4,
		entries:  make(map[string][]byte),
		percpu:   make(map[string][][]byte),
		phantoms: make(map[string]bool),
	}
}

func (m *fakeMap) Info() kernel.MapInfo { return m.info }

func (m *fakeMap) isQueueStack() bool {
	return m.info.Type == kernel.MapTypeQueue || m.info.Type == kernel.MapTypeStack
}

func (m *fakeMap) Lookup(key []byte) ([]byte, error) {
	if m.isQueueStack() {
		return m.peek()
	}
	v, ok := m.entries[string(key)]
	if !ok || m.phantoms[string(key)] {
		return nil, fmt.Errorf("%w: lookup", runtime.ErrKeyNotExist)
	}
	return append([]byte(nil), v...), nil
}

func (m *fakeMap) Update(key, value []byte, flags kernel.UpdateFlags) error {
	if m.isQueueStack() {
		return m.push(value)
	}
	k := string(key)
	_, exists := m.entries[k]
	switch {
	case flags == kernel.UpdateNoExist && exists:
		return fmt.Errorf("%w: update", runtime.ErrKeyExist)
	case flags == kernel.UpdateExist && !exists:
		return fmt.Errorf("%w: update", runtime.ErrKeyNotExist)
	}
	if !exists {
		if uint32(len(m.entries)) >= m.info.MaxEntries {
			return fmt.Errorf("%w: update", runtime.ErrNoSpace)
		}
		m.order = append(m.order, k)
	}
	m.entries[k] = append([]byte(nil), value...)
	return nil
}

func (m *fakeMap) Delete(key []byte) error {
	k := string(key)
	if _, ok := m.entries[k]; !ok {
		return fmt.Errorf("%w: delete", runtime.ErrKeyNotExist)
	}
	delete(m.entries, k)
	delete(m.phantoms, k)
	for i, existing := range m.order {
		if existing == k {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *fakeMap) NextKey(key []byte) ([]byte, error) {
	if len(m.order) == 0 {
		return nil, fmt.Errorf("%w: next key", runtime.ErrKeyNotExist)
	}
	if key == nil {
		return []byte(m.order[0]), nil
	}
	for i, existing := range m.order {
		if existing == string(key) {
			if i+1 == len(m.order) {
				return nil, fmt.Errorf("%w: next key", runtime.ErrKeyNotExist)
			}
			return []byte(m.order[i+1]), nil
		}
	}
	// Unknown cursor key restarts from the front, like the kernel.
	return []byte(m.order[0]), nil
}

func (m *fakeMap) LookupAndDelete(key []byte) ([]byte, error) {
	if !m.isQueueStack() {
		return nil, fmt.Errorf("%w: lookup-and-delete", runtime.ErrNotSupported)
	}
	v, err := m.peek()
	if err != nil {
		return nil, err
	}
	if m.info.Type == kernel.MapTypeStack {
		m.fifo = m.fifo[:len(m.fifo)-1]
	} else {
		m.fifo = m.fifo[1:]
	}
	return v, nil
}

func (m *fakeMap) peek() ([]byte, error) {
	if len(m.fifo) == 0 {
		return nil, fmt.Errorf("%w: empty", runtime.ErrKeyNotExist)
	}
	if m.info.Type == kernel.MapTypeStack {
		return append([]byte(nil), m.fifo[len(m.fifo)-1]...), nil
	}
	return append([]byte(nil), m.fifo[0]...), nil
}

func (m *fakeMap) push(value []byte) error {
	if uint32(len(m.fifo)) >= m.info.MaxEntries {
		return fmt.Errorf("%w: push", runtime.ErrNoSpace)
	}
	m.fifo = append(m.fifo, append([]byte(nil), value...))
	return nil
}

func (m *fakeMap) LookupPerCPU(key []byte) ([][]byte, error) {
	chunks, ok := m.percpu[string(key)]
	if !ok {
		return nil, fmt.Errorf("%w: per-CPU lookup", runtime.ErrKeyNotExist)
	}
	out := make([][]byte, len(chunks))
	for i, c := range chunks {
		out[i] = append([]byte(nil), c...)
	}
	return out, nil
}

func (m *fakeMap) UpdatePerCPU(key []byte, values [][]byte, flags kernel.UpdateFlags) error {
	k := string(key)
	if len(values) != m.cpus {
		return fmt.Errorf("expected %d chunks, got %d", m.cpus, len(values))
	}
	if _, exists := m.percpu[k]; !exists {
		m.order = append(m.order, k)
	}
	chunks := make([][]byte, len(values))
	for i, v := range values {
		chunks[i] = append([]byte(nil), v...)
	}
	m.percpu[k] = chunks
	return nil
}

// fakeProgram implements runtime.ProgramHandle.
type fakeProgram struct {
	info       kernel.ProgramInfo
	runRet     uint32
	runErr     error
	runs       []int
	attachable bool
	links      []*fakeLink
	xdpIfaces  []int
}

func newFakeProgram(name string, typ kernel.ProgramType) *fakeProgram {
	return &fakeProgram{
		info:       kernel.ProgramInfo{Name: name, Type: typ, FD: 7},
		attachable: true,
	}
}

func (p *fakeProgram) Info() kernel.ProgramInfo { return p.info }

func (p *fakeProgram) Run(input []byte, repeat int) (uint32, error) {
	if p.runErr != nil {
		return 0, p.runErr
	}
	p.runs = append(p.runs, repeat)
	return p.runRet, nil
}

func (p *fakeProgram) Attach() (runtime.LinkHandle, error) {
	if !p.attachable {
		return nil, fmt.Errorf("%w: attach", runtime.ErrNotSupported)
	}
	lnk := &fakeLink{}
	p.links = append(p.links, lnk)
	return lnk, nil
}

func (p *fakeProgram) AttachXDP(ifindex int) (runtime.LinkHandle, error) {
	p.xdpIfaces = append(p.xdpIfaces, ifindex)
	lnk := &fakeLink{}
	p.links = append(p.links, lnk)
	return lnk, nil
}

type fakeLink struct {
	closed bool
}

func (l *fakeLink) Close() error {
	l.closed = true
	return nil
}

// fakeRing implements runtime.RingContext. Tests enqueue raw records
// per member and Consume/Poll deliver them.
type fakeRing struct {
	members []ringEntry
	closed  bool
}

type ringEntry struct {
	m       runtime.MapHandle
	fn      runtime.RingHandler
	pending [][]byte
}

func (r *fakeRing) Add(m runtime.MapHandle, fn runtime.RingHandler) error {
	if r.closed {
		return fmt.Errorf("ring context closed")
	}
	r.members = append(r.members, ringEntry{m: m, fn: fn})
	return nil
}

// inject queues a record for the member draining map name.
func (r *fakeRing) inject(name string, record []byte) {
	for i := range r.members {
		if r.members[i].m.Info().Name == name {
			r.members[i].pending = append(r.members[i].pending, record)
			return
		}
	}
	panic("no ring member for map " + name)
}

func (r *fakeRing) Consume() (int, error) {
	count := 0
	for i := range r.members {
		m := &r.members[i]
		for len(m.pending) > 0 {
			record := m.pending[0]
			m.pending = m.pending[1:]
			count++
			if m.fn(record) != 0 {
				return count, nil
			}
		}
	}
	return count, nil
}

func (r *fakeRing) Poll(timeoutMs int) (int, error) {
	for i := range r.members {
		if len(r.members[i].pending) > 0 {
			return r.Consume()
		}
	}
	return 0, nil
}

func (r *fakeRing) Close() error {
	r.closed = true
	return nil
}

// fixture bundles a fake runtime with an opened, loadable object.
type fixture struct {
	t   *testing.T
	rt  *fakeRuntime
	fo  *fakeObject
	obj *bpfobj.Object
}

// newFixture opens an object over the fake runtime. The caller
// populates fo with maps and programs before calling.
func newFixture(t *testing.T, fo *fakeObject, opts ...bpfobj.Option) *fixture {
	t.Helper()
	rt := newFakeRuntime(fo)
	opts = append([]bpfobj.Option{
		bpfobj.WithRuntime(rt),
		bpfobj.WithLogger(testLogger()),
	}, opts...)
	obj, err := bpfobj.Open("test.bpf.o", opts...)
	require.NoError(t, err, "open object")
	t.Cleanup(func() { obj.Close() })
	return &fixture{t: t, rt: rt, fo: fo, obj: obj}
}

// ring returns the single ring context the fake runtime created.
func (f *fixture) ring() *fakeRing {
	f.t.Helper()
	require.Len(f.t, f.rt.rings, 1, "expected exactly one ring context")
	return f.rt.rings[0]
}
