package bpfobj

import (
	"reflect"

	"github.com/frobware/go-bpfobj/kernel"
	"github.com/frobware/go-bpfobj/runtime"
)

// Array is a typed accessor over a kernel array map. The key type is
// always a uint32 index and cannot be changed; only the value layout
// is registrable. Kernel arrays cannot shrink, so Delete overwrites
// the slot with the zero value instead, and Len always equals the
// capacity.
type Array struct {
	Map
}

func newArray(o *Object, h runtime.MapHandle) (MapAccessor, error) {
	a := &Array{Map: Map{
		h:        h,
		info:     h.Info(),
		logger:   o.logger,
		fixedKey: true,
	}}
	a.key = &layout{typ: reflect.TypeOf(uint32(0)), size: 4}
	return a, nil
}

// Delete overwrites the slot at key with the zero value. The value
// layout must be registered so the zero value's size is known.
func (a *Array) Delete(key any) error {
	kb, err := a.keyBytes(key)
	if err != nil {
		return err
	}
	if a.value == nil {
		return &TypeNotConfiguredError{Map: a.info.Name, What: "value"}
	}
	if err := a.h.Update(kb, a.value.zero(), kernel.UpdateAny); err != nil {
		return &UpdateError{Map: a.info.Name, Err: err}
	}
	return nil
}

// Len returns the array's length, which is always its capacity.
func (a *Array) Len() (int, error) {
	return int(a.info.MaxEntries), nil
}

// CgroupArray is an array holding cgroup file descriptors. Both key
// (uint32 index) and value (uint32 fd) layouts are fixed.
type CgroupArray struct {
	Array
}

func newCgroupArray(o *Object, h runtime.MapHandle) (MapAccessor, error) {
	acc, err := newArray(o, h)
	if err != nil {
		return nil, err
	}
	c := &CgroupArray{Array: *acc.(*Array)}
	c.value = &layout{typ: reflect.TypeOf(uint32(0)), size: 4}
	return c, nil
}

// RegisterValueType always fails: cgroup arrays hold uint32 file
// descriptors.
func (c *CgroupArray) RegisterValueType(prototype any) error {
	return &UnsupportedOperationError{
		Op:     "map " + c.info.Name + ": register value type",
		Reason: "cgroup arrays always hold uint32 cgroup file descriptors",
	}
}
