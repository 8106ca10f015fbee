package bpfobj_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bpfobj "github.com/frobware/go-bpfobj"
	"github.com/frobware/go-bpfobj/kernel"
)

func loadedPerCPU(t *testing.T, typ kernel.MapType, valueSize uint32) (*fixture, bpfobj.MapAccessor) {
	t.Helper()
	fo := newFakeObject()
	fo.maps = append(fo.maps, newFakeMap("counters", typ, 4, valueSize, 16))
	f := newFixture(t, fo)
	require.NoError(t, f.obj.Load(context.Background()))

	acc, err := f.obj.Map("counters")
	require.NoError(t, err)
	return f, acc
}

func TestPerCPUMapWidensNarrowPrototypes(t *testing.T) {
	_, acc := loadedPerCPU(t, kernel.MapTypePerCPUHash, 4)
	m, ok := acc.(*bpfobj.PerCPUMap)
	require.True(t, ok, "expected *bpfobj.PerCPUMap, got %T", acc)
	assert.Equal(t, 4, m.CPUs())

	// A 4-byte prototype widens to the kernel's 8-byte slot stride.
	require.NoError(t, m.RegisterValueType(uint32(0)))

	values := []uint64{10, 20, 30, 40}
	require.NoError(t, m.Set(uint32(1), values))

	var got []uint64
	require.NoError(t, m.Get(uint32(1), &got))
	assert.Equal(t, values, got)
}

func TestPerCPUMapRejectsMisalignedPrototype(t *testing.T) {
	_, acc := loadedPerCPU(t, kernel.MapTypePerCPUHash, 16)
	m := acc.(*bpfobj.PerCPUMap)

	type lopsided struct {
		A uint64
		B uint32
	}
	var mismatch *bpfobj.LayoutMismatchError
	err := m.RegisterValueType(lopsided{})
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 16, mismatch.Want)
	assert.Equal(t, 12, mismatch.Got)
}

func TestPerCPUMapSlotCountMismatch(t *testing.T) {
	_, acc := loadedPerCPU(t, kernel.MapTypePerCPUHash, 8)
	m := acc.(*bpfobj.PerCPUMap)
	require.NoError(t, m.RegisterValueType(uint64(0)))

	err := m.Set(uint32(1), []uint64{1, 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 4 per-CPU values")
}

func TestPerCPUMapIterate(t *testing.T) {
	_, acc := loadedPerCPU(t, kernel.MapTypePerCPUHash, 8)
	m := acc.(*bpfobj.PerCPUMap)
	require.NoError(t, m.RegisterValueType(uint64(0)))

	require.NoError(t, m.Set(uint32(1), []uint64{1, 1, 1, 1}))
	require.NoError(t, m.Set(uint32(2), []uint64{2, 2, 2, 2}))

	got := make(map[uint32]uint64)
	it := m.Iterate()
	var k uint32
	var vs []uint64
	for it.Next(&k, &vs) {
		var sum uint64
		for _, v := range vs {
			sum += v
		}
		got[k] = sum
	}
	require.NoError(t, it.Err())
	assert.Equal(t, map[uint32]uint64{1: 4, 2: 8}, got)
}

func TestLRUPerCPUHashConstructs(t *testing.T) {
	_, acc := loadedPerCPU(t, kernel.MapTypeLRUPerCPUHash, 8)
	m, ok := acc.(*bpfobj.PerCPUMap)
	require.True(t, ok, "expected *bpfobj.PerCPUMap, got %T", acc)
	assert.Equal(t, kernel.MapTypeLRUPerCPUHash, m.Type())
}

func TestPerCPUArrayDeleteZeroFills(t *testing.T) {
	_, acc := loadedPerCPU(t, kernel.MapTypePerCPUArray, 8)
	a, ok := acc.(*bpfobj.PerCPUArray)
	require.True(t, ok, "expected *bpfobj.PerCPUArray, got %T", acc)
	require.NoError(t, a.RegisterValueType(uint64(0)))

	var unsupported *bpfobj.UnsupportedOperationError
	err := a.RegisterKeyType(uint64(0))
	require.ErrorAs(t, err, &unsupported)

	require.NoError(t, a.Set(uint32(3), []uint64{7, 7, 7, 7}))
	require.NoError(t, a.Delete(uint32(3)))

	var got []uint64
	require.NoError(t, a.Get(uint32(3), &got))
	assert.Equal(t, []uint64{0, 0, 0, 0}, got)

	n, err := a.Len()
	require.NoError(t, err)
	assert.Equal(t, 16, n)
}
