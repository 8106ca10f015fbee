package bpfobj_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bpfobj "github.com/frobware/go-bpfobj"
	"github.com/frobware/go-bpfobj/kernel"
	"github.com/frobware/go-bpfobj/runtime"
)

// devMap is a minimal accessor used to extend the registry with a
// type the built-ins do not cover.
type devMap struct {
	info kernel.MapInfo
}

func (m *devMap) Name() string         { return m.info.Name }
func (m *devMap) Type() kernel.MapType { return m.info.Type }
func (m *devMap) Capacity() uint32     { return m.info.MaxEntries }
func (m *devMap) Info() kernel.MapInfo { return m.info }

func TestRegistryExtension(t *testing.T) {
	reg := bpfobj.NewRegistry()
	reg.RegisterMap(kernel.MapTypeDevMap, func(o *bpfobj.Object, h runtime.MapHandle) (bpfobj.MapAccessor, error) {
		return &devMap{info: h.Info()}, nil
	})

	fo := newFakeObject()
	fo.maps = append(fo.maps, newFakeMap("redirects", kernel.MapTypeDevMap, 4, 4, 64))
	f := newFixture(t, fo, bpfobj.WithRegistry(reg))
	require.NoError(t, f.obj.Load(context.Background()))

	m, err := f.obj.Map("redirects")
	require.NoError(t, err)
	assert.IsType(t, &devMap{}, m)
	assert.Equal(t, uint32(64), m.Capacity())
}

func TestRegistryOverride(t *testing.T) {
	reg := bpfobj.NewRegistry()
	reg.RegisterMap(kernel.MapTypeHash, func(o *bpfobj.Object, h runtime.MapHandle) (bpfobj.MapAccessor, error) {
		return &devMap{info: h.Info()}, nil
	})

	fo := newFakeObject()
	fo.maps = append(fo.maps, newFakeMap("flows", kernel.MapTypeHash, 4, 8, 16))
	f := newFixture(t, fo, bpfobj.WithRegistry(reg))
	require.NoError(t, f.obj.Load(context.Background()))

	m, err := f.obj.Map("flows")
	require.NoError(t, err)
	assert.IsType(t, &devMap{}, m, "override displaces the built-in accessor")
}

func TestRegistryDefaults(t *testing.T) {
	fo := newFakeObject()
	fo.maps = append(fo.maps,
		newFakeMap("h", kernel.MapTypeHash, 4, 4, 8),
		newFakeMap("lru", kernel.MapTypeLRUHash, 4, 4, 8),
		newFakeMap("arr", kernel.MapTypeArray, 4, 4, 8),
		newFakeMap("pc_arr", kernel.MapTypePerCPUArray, 4, 8, 8),
		newFakeMap("cg", kernel.MapTypeCgroupArray, 4, 4, 8),
		newFakeMap("q", kernel.MapTypeQueue, 0, 4, 8),
		newFakeMap("st", kernel.MapTypeStack, 0, 4, 8),
		newFakeMap("rb", kernel.MapTypeRingbuf, 0, 0, 4096),
	)
	f := newFixture(t, fo)
	require.NoError(t, f.obj.Load(context.Background()))

	for name, want := range map[string]any{
		"h":      &bpfobj.Map{},
		"lru":    &bpfobj.Map{},
		"arr":    &bpfobj.Array{},
		"pc_arr": &bpfobj.PerCPUArray{},
		"cg":     &bpfobj.CgroupArray{},
		"q":      &bpfobj.QueueStack{},
		"st":     &bpfobj.QueueStack{},
		"rb":     &bpfobj.Ringbuf{},
	} {
		m, err := f.obj.Map(name)
		require.NoError(t, err, "map %s", name)
		assert.IsType(t, want, m, "map %s", name)
	}
}
