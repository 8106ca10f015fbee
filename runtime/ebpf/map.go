package ebpf

import (
	"fmt"
	"reflect"

	"github.com/cilium/ebpf"

	"github.com/frobware/go-bpfobj/kernel"
	"github.com/frobware/go-bpfobj/runtime"
)

// mapHandle adapts one *ebpf.Map. Queue and stack maps pass nil keys,
// which cilium/ebpf marshals as "no key".
type mapHandle struct {
	m    *ebpf.Map
	info kernel.MapInfo
}

func (h *mapHandle) Info() kernel.MapInfo { return h.info }

// keyArg converts a raw key to cilium/ebpf's marshalling input. A nil
// key must stay a typed nil, not a nil []byte, or it is marshalled as
// an empty value.
func keyArg(key []byte) any {
	if key == nil {
		return nil
	}
	return key
}

func (h *mapHandle) Lookup(key []byte) ([]byte, error) {
	value := make([]byte, h.info.ValueSize)
	if err := h.m.Lookup(keyArg(key), &value); err != nil {
		return nil, translate(err)
	}
	return value, nil
}

func (h *mapHandle) Update(key, value []byte, flags kernel.UpdateFlags) error {
	if err := h.m.Update(keyArg(key), value, ebpf.MapUpdateFlags(flags)); err != nil {
		return translate(err)
	}
	return nil
}

func (h *mapHandle) Delete(key []byte) error {
	if err := h.m.Delete(key); err != nil {
		return translate(err)
	}
	return nil
}

func (h *mapHandle) NextKey(key []byte) ([]byte, error) {
	next, err := h.m.NextKeyBytes(keyArg(key))
	if err != nil {
		return nil, translate(err)
	}
	if next == nil {
		return nil, fmt.Errorf("%w: cursor exhausted", runtime.ErrKeyNotExist)
	}
	return next, nil
}

func (h *mapHandle) LookupAndDelete(key []byte) ([]byte, error) {
	value := make([]byte, h.info.ValueSize)
	if err := h.m.LookupAndDelete(keyArg(key), &value); err != nil {
		return nil, translate(err)
	}
	return value, nil
}

// chunkType returns [ValueSize]byte, the per-CPU slot element type
// handed to cilium/ebpf's per-CPU marshalling.
func (h *mapHandle) chunkType() reflect.Type {
	return reflect.ArrayOf(int(h.info.ValueSize), reflect.TypeOf(byte(0)))
}

// align8 rounds n up to the next multiple of 8, the kernel's per-CPU
// slot stride.
func align8(n int) int {
	return (n + 7) &^ 7
}

// LookupPerCPU returns one 8-byte aligned chunk per possible CPU.
// cilium/ebpf strips the kernel's stride padding, so it is restored
// here to keep the handle contract uniform.
func (h *mapHandle) LookupPerCPU(key []byte) ([][]byte, error) {
	out := reflect.New(reflect.SliceOf(h.chunkType()))
	if err := h.m.Lookup(keyArg(key), out.Interface()); err != nil {
		return nil, translate(err)
	}

	slice := out.Elem()
	aligned := align8(int(h.info.ValueSize))
	chunks := make([][]byte, slice.Len())
	for i := range chunks {
		chunk := make([]byte, aligned)
		reflect.Copy(reflect.ValueOf(chunk), slice.Index(i))
		chunks[i] = chunk
	}
	return chunks, nil
}

// UpdatePerCPU takes one aligned chunk per possible CPU and writes
// the leading ValueSize bytes of each.
func (h *mapHandle) UpdatePerCPU(key []byte, values [][]byte, flags kernel.UpdateFlags) error {
	slice := reflect.MakeSlice(reflect.SliceOf(h.chunkType()), len(values), len(values))
	for i, chunk := range values {
		if len(chunk) < int(h.info.ValueSize) {
			return fmt.Errorf("per-CPU chunk %d is %d bytes, map %s values are %d",
				i, len(chunk), h.info.Name, h.info.ValueSize)
		}
		reflect.Copy(slice.Index(i), reflect.ValueOf(chunk[:h.info.ValueSize]))
	}
	if err := h.m.Update(keyArg(key), slice.Interface(), ebpf.MapUpdateFlags(flags)); err != nil {
		return translate(err)
	}
	return nil
}
