package bpfobj

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/frobware/go-bpfobj/kernel"
	"github.com/frobware/go-bpfobj/runtime"
)

// align8 rounds n up to the next multiple of 8. The kernel transfers
// per-CPU value slots in 8-byte aligned chunks.
func align8(n int) int {
	return (n + 7) &^ 7
}

// widenPerCPUPrototype promotes integer prototypes narrower than 8
// bytes to their 8-byte equivalents, matching how the kernel pads
// per-CPU slots.
func widenPerCPUPrototype(prototype any) any {
	switch prototype.(type) {
	case int8, int16, int32, int:
		return int64(0)
	case uint8, uint16, uint32, uint:
		return uint64(0)
	}
	return prototype
}

// PerCPUMap is a typed accessor over a per-CPU hash map
// (BPF_MAP_TYPE_PERCPU_HASH and BPF_MAP_TYPE_LRU_PERCPU_HASH). It
// composes the keyed behaviour of Map with a per-CPU value transform:
// every element holds one independent value slot per possible CPU,
// and Get and Set transfer all slots at once.
//
// The slots are written by different CPUs without synchronisation, so
// the values read back are individually coherent but not mutually
// consistent.
type PerCPUMap struct {
	Map
	slots   int
	aligned int // per-slot transfer size
	elem    *layout
}

func newPerCPUHash(o *Object, h runtime.MapHandle) (MapAccessor, error) {
	info := h.Info()
	cpus, err := o.rt.PossibleCPUs()
	if err != nil {
		return nil, fmt.Errorf("map %s: possible CPUs: %w", info.Name, err)
	}
	return &PerCPUMap{
		Map: Map{
			h:      h,
			info:   info,
			logger: o.logger,
			lru:    info.Type == kernel.MapTypeLRUPerCPUHash,
		},
		slots:   cpus,
		aligned: align8(int(info.ValueSize)),
	}, nil
}

// CPUs returns the number of value slots per element, one per
// possible CPU.
func (m *PerCPUMap) CPUs() int { return m.slots }

// RegisterValueType registers the per-slot value layout. Integer
// prototypes narrower than 8 bytes are widened automatically; any
// other layout must already be a multiple of 8 bytes, and the widened
// size must match the kernel's aligned per-slot size.
func (m *PerCPUMap) RegisterValueType(prototype any) error {
	widened := widenPerCPUPrototype(prototype)
	l, err := layoutOf(widened)
	if err != nil {
		return fmt.Errorf("map %s: value prototype: %w", m.info.Name, err)
	}
	if l.size%8 != 0 {
		return &LayoutMismatchError{Map: m.info.Name, What: "value", Want: m.aligned, Got: l.size}
	}
	if l.size != m.aligned {
		return &LayoutMismatchError{Map: m.info.Name, What: "value", Want: m.aligned, Got: l.size}
	}
	m.elem = &l
	return nil
}

// Get looks up key and decodes one value per possible CPU into
// valuesOut, which must be a pointer to a slice of the registered
// value type. The slice is resized to CPUs().
func (m *PerCPUMap) Get(key, valuesOut any) error {
	kb, err := m.keyBytes(key)
	if err != nil {
		return err
	}
	if m.elem == nil {
		return &TypeNotConfiguredError{Map: m.info.Name, What: "value"}
	}
	chunks, err := m.h.LookupPerCPU(kb)
	if err != nil {
		return &KeyNotFoundError{Map: m.info.Name, Err: err}
	}
	return m.decodeSlots(chunks, valuesOut)
}

func (m *PerCPUMap) decodeSlots(chunks [][]byte, valuesOut any) error {
	rv := reflect.ValueOf(valuesOut)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("map %s: per-CPU output must be a pointer to a slice, got %T", m.info.Name, valuesOut)
	}
	sliceType := rv.Elem().Type()
	out := reflect.MakeSlice(sliceType, len(chunks), len(chunks))
	for i, chunk := range chunks {
		if len(chunk) > m.aligned {
			chunk = chunk[:m.aligned]
		}
		if err := m.elem.unmarshal(chunk, out.Index(i).Addr().Interface()); err != nil {
			return fmt.Errorf("map %s: CPU %d: %w", m.info.Name, i, err)
		}
	}
	rv.Elem().Set(out)
	return nil
}

// Set writes one value per possible CPU under key. values must be a
// slice of the registered value type with exactly CPUs() elements.
func (m *PerCPUMap) Set(key, values any) error {
	return m.Update(key, values, kernel.UpdateAny)
}

// Update is Set with explicit update flags.
func (m *PerCPUMap) Update(key, values any, flags kernel.UpdateFlags) error {
	kb, err := m.keyBytes(key)
	if err != nil {
		return err
	}
	chunks, err := m.encodeSlots(values)
	if err != nil {
		return err
	}
	if err := m.h.UpdatePerCPU(kb, chunks, flags); err != nil {
		return &UpdateError{Map: m.info.Name, Err: err}
	}
	return nil
}

func (m *PerCPUMap) encodeSlots(values any) ([][]byte, error) {
	if m.elem == nil {
		return nil, &TypeNotConfiguredError{Map: m.info.Name, What: "value"}
	}
	rv, n, err := reflectSliceLen(values)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", m.info.Name, err)
	}
	if n != m.slots {
		return nil, fmt.Errorf("map %s: expected %d per-CPU values, got %d", m.info.Name, m.slots, n)
	}
	chunks := make([][]byte, n)
	for i := 0; i < n; i++ {
		b, err := m.elem.marshal(rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("map %s: CPU %d: %w", m.info.Name, i, err)
		}
		chunks[i] = b
	}
	return chunks, nil
}

// Iterate returns a cursor over the map. valueOut passed to Next must
// be a pointer to a slice of the registered value type, as for Get.
func (m *PerCPUMap) Iterate() *Iterator {
	return &Iterator{
		name:    m.info.Name,
		nextKey: m.h.NextKey,
		decodeKey: func(data []byte, out any) error {
			if m.key == nil {
				return &TypeNotConfiguredError{Map: m.info.Name, What: "key"}
			}
			return m.key.unmarshal(data, out)
		},
		lookup: func(key []byte, out any) error {
			if m.elem == nil {
				return &TypeNotConfiguredError{Map: m.info.Name, What: "value"}
			}
			chunks, err := m.h.LookupPerCPU(key)
			if err != nil {
				return err
			}
			return m.decodeSlots(chunks, out)
		},
	}
}

// PerCPUArray composes the per-CPU value transform with array
// semantics: fixed uint32 index key, delete as zero-fill.
type PerCPUArray struct {
	PerCPUMap
}

func newPerCPUArray(o *Object, h runtime.MapHandle) (MapAccessor, error) {
	acc, err := newPerCPUHash(o, h)
	if err != nil {
		return nil, err
	}
	a := &PerCPUArray{PerCPUMap: *acc.(*PerCPUMap)}
	a.lru = false
	a.fixedKey = true
	a.key = &layout{typ: reflect.TypeOf(uint32(0)), size: 4}
	return a, nil
}

// Delete overwrites every per-CPU slot at key with the zero value.
func (a *PerCPUArray) Delete(key any) error {
	kb, err := a.keyBytes(key)
	if err != nil {
		return err
	}
	if a.elem == nil {
		return &TypeNotConfiguredError{Map: a.info.Name, What: "value"}
	}
	chunks := make([][]byte, a.slots)
	for i := range chunks {
		chunks[i] = a.elem.zero()
	}
	if err := a.h.UpdatePerCPU(kb, chunks, kernel.UpdateAny); err != nil {
		if errors.Is(err, runtime.ErrKeyNotExist) {
			return &KeyNotFoundError{Map: a.info.Name, Err: err}
		}
		return &UpdateError{Map: a.info.Name, Err: err}
	}
	return nil
}

// Len returns the array's length, which is always its capacity.
func (a *PerCPUArray) Len() (int, error) {
	return int(a.info.MaxEntries), nil
}
