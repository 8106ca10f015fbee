package bpfobj

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/frobware/go-bpfobj/kernel"
	"github.com/frobware/go-bpfobj/runtime"
)

// MapAccessor is the interface every typed map wrapper implements.
// Callers obtain one from Object.Map and assert to the concrete type
// (*Map, *Array, *PerCPUMap, *PerCPUArray, *QueueStack, *Ringbuf) for
// type-specific operations.
type MapAccessor interface {
	Name() string
	Type() kernel.MapType
	Capacity() uint32
	Info() kernel.MapInfo
}

// Map is a typed accessor over a kernel hash map (BPF_MAP_TYPE_HASH
// and BPF_MAP_TYPE_LRU_HASH). Key and value layouts must be
// registered before any indexed access.
//
// Map does not serialise concurrent access from multiple goroutines;
// the kernel syscalls are the only safe concurrency boundary, so
// callers sharing an accessor across goroutines must coordinate
// externally.
type Map struct {
	h      runtime.MapHandle
	info   kernel.MapInfo
	logger *slog.Logger

	key      *layout
	value    *layout
	fixedKey bool // array family: key type is not user-registrable
	lru      bool
}

func newHashMap(o *Object, h runtime.MapHandle) (MapAccessor, error) {
	info := h.Info()
	return &Map{
		h:      h,
		info:   info,
		logger: o.logger,
		lru:    info.Type == kernel.MapTypeLRUHash,
	}, nil
}

func (m *Map) Name() string         { return m.info.Name }
func (m *Map) Type() kernel.MapType { return m.info.Type }
func (m *Map) Info() kernel.MapInfo { return m.info }
func (m *Map) Capacity() uint32     { return m.info.MaxEntries }
func (m *Map) FD() int              { return m.info.FD }

// RegisterKeyType registers the key layout from a prototype value.
// The encoded size must equal the key size the kernel reports.
func (m *Map) RegisterKeyType(prototype any) error {
	if m.fixedKey {
		return &UnsupportedOperationError{
			Op:     fmt.Sprintf("map %s: register key type", m.info.Name),
			Reason: "array maps always use a uint32 index key",
		}
	}
	l, err := layoutOf(prototype)
	if err != nil {
		return fmt.Errorf("map %s: key prototype: %w", m.info.Name, err)
	}
	if l.size != int(m.info.KeySize) {
		return &LayoutMismatchError{Map: m.info.Name, What: "key", Want: int(m.info.KeySize), Got: l.size}
	}
	m.key = &l
	return nil
}

// RegisterValueType registers the value layout from a prototype value.
// The encoded size must equal the value size the kernel reports.
func (m *Map) RegisterValueType(prototype any) error {
	l, err := layoutOf(prototype)
	if err != nil {
		return fmt.Errorf("map %s: value prototype: %w", m.info.Name, err)
	}
	if l.size != int(m.info.ValueSize) {
		return &LayoutMismatchError{Map: m.info.Name, What: "value", Want: int(m.info.ValueSize), Got: l.size}
	}
	m.value = &l
	return nil
}

func (m *Map) keyBytes(key any) ([]byte, error) {
	if m.key == nil {
		return nil, &TypeNotConfiguredError{Map: m.info.Name, What: "key"}
	}
	kb, err := m.key.marshal(key)
	if err != nil {
		return nil, fmt.Errorf("map %s: key: %w", m.info.Name, err)
	}
	return kb, nil
}

func (m *Map) valueBytes(value any) ([]byte, error) {
	if m.value == nil {
		return nil, &TypeNotConfiguredError{Map: m.info.Name, What: "value"}
	}
	vb, err := m.value.marshal(value)
	if err != nil {
		return nil, fmt.Errorf("map %s: value: %w", m.info.Name, err)
	}
	return vb, nil
}

// Get looks up key and decodes the element into valueOut, which must
// be a pointer to the registered value type. A missing key or any
// kernel failure surfaces as a KeyNotFoundError carrying the kernel
// error.
func (m *Map) Get(key, valueOut any) error {
	kb, err := m.keyBytes(key)
	if err != nil {
		return err
	}
	if m.value == nil {
		return &TypeNotConfiguredError{Map: m.info.Name, What: "value"}
	}
	vb, err := m.h.Lookup(kb)
	if err != nil {
		return &KeyNotFoundError{Map: m.info.Name, Err: err}
	}
	return m.value.unmarshal(vb, valueOut)
}

// Set inserts or replaces an element (create-or-update semantics).
func (m *Map) Set(key, value any) error {
	return m.Update(key, value, kernel.UpdateAny)
}

// Update writes an element under explicit flags: UpdateNoExist to
// create only, UpdateExist to replace only. The kernel's rejection,
// including capacity exhaustion on non-LRU hashes, surfaces as an
// UpdateError.
func (m *Map) Update(key, value any, flags kernel.UpdateFlags) error {
	kb, err := m.keyBytes(key)
	if err != nil {
		return err
	}
	vb, err := m.valueBytes(value)
	if err != nil {
		return err
	}
	if err := m.h.Update(kb, vb, flags); err != nil {
		return &UpdateError{Map: m.info.Name, Err: err}
	}
	return nil
}

// Delete removes an element. Deleting a key that is not present
// returns a KeyNotFoundError; repeated deletes of the same key are
// safe.
func (m *Map) Delete(key any) error {
	kb, err := m.keyBytes(key)
	if err != nil {
		return err
	}
	if err := m.h.Delete(kb); err != nil {
		if errors.Is(err, runtime.ErrKeyNotExist) {
			return &KeyNotFoundError{Map: m.info.Name, Err: err}
		}
		return &UpdateError{Map: m.info.Name, Err: err}
	}
	return nil
}

// Iterate returns a cursor over the map's elements, starting from the
// first key. Keys deleted between the cursor advance and the lookup
// are skipped. Concurrent mutation has kernel-defined semantics: the
// cursor may skip or repeat keys, exactly as the underlying
// get-next-key syscall does.
func (m *Map) Iterate() *Iterator {
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
			if m.value == nil {
				return &TypeNotConfiguredError{Map: m.info.Name, What: "value"}
			}
			vb, err := m.h.Lookup(key)
			if err != nil {
				return err
			}
			return m.value.unmarshal(vb, out)
		},
	}
}

// Len counts the map's elements by walking the key cursor. O(n)
// syscalls; the result is momentary under concurrent mutation.
func (m *Map) Len() (int, error) {
	n := 0
	var prev []byte
	for {
		next, err := m.h.NextKey(prev)
		if err != nil {
			if errors.Is(err, runtime.ErrKeyNotExist) {
				return n, nil
			}
			return n, fmt.Errorf("map %s: next key: %w", m.info.Name, err)
		}
		n++
		prev = next
	}
}

// Clear deletes every currently enumerable key. Best effort: entries
// inserted concurrently by kernel-side code may survive, and keys
// already gone by the time the delete lands are ignored.
func (m *Map) Clear() error {
	var keys [][]byte
	var prev []byte
	for {
		next, err := m.h.NextKey(prev)
		if err != nil {
			if errors.Is(err, runtime.ErrKeyNotExist) {
				break
			}
			return fmt.Errorf("map %s: next key: %w", m.info.Name, err)
		}
		keys = append(keys, next)
		prev = next
	}
	for _, kb := range keys {
		if err := m.h.Delete(kb); err != nil && !errors.Is(err, runtime.ErrKeyNotExist) {
			return &UpdateError{Map: m.info.Name, Err: err}
		}
	}
	return nil
}

// Iterator is a lazy cursor over a map's elements. It is restartable
// only from the beginning (a fresh Iterate call), never from an
// arbitrary point.
type Iterator struct {
	name      string
	nextKey   func(prev []byte) ([]byte, error)
	decodeKey func(data []byte, out any) error
	lookup    func(key []byte, out any) error

	prev []byte
	done bool
	err  error
}

// Next advances the cursor, decoding the next key into keyOut and its
// value into valueOut. A nil valueOut skips the per-key lookup and
// yields keys only. Next returns false when the cursor is exhausted
// or an error occurred; check Err afterwards.
func (it *Iterator) Next(keyOut, valueOut any) bool {
	if it.done || it.err != nil {
		return false
	}
	for {
		next, err := it.nextKey(it.prev)
		if err != nil {
			it.done = true
			if !errors.Is(err, runtime.ErrKeyNotExist) {
				it.err = fmt.Errorf("map %s: next key: %w", it.name, err)
			}
			return false
		}
		it.prev = next

		if valueOut != nil {
			if err := it.lookup(next, valueOut); err != nil {
				if errors.Is(err, runtime.ErrKeyNotExist) {
					// Deleted between cursor advance and lookup.
					continue
				}
				it.done = true
				it.err = fmt.Errorf("map %s: lookup during iteration: %w", it.name, err)
				return false
			}
		}
		if keyOut != nil {
			if err := it.decodeKey(next, keyOut); err != nil {
				it.done = true
				it.err = err
				return false
			}
		}
		return true
	}
}

// Err returns the first error encountered by Next.
func (it *Iterator) Err() error { return it.err }

// reflectSliceLen returns the length of a slice value, used by the
// per-CPU accessors to validate caller-provided value sets.
func reflectSliceLen(values any) (reflect.Value, int, error) {
	rv := reflect.ValueOf(values)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice {
		return reflect.Value{}, 0, fmt.Errorf("expected a slice of per-CPU values, got %T", values)
	}
	return rv, rv.Len(), nil
}
