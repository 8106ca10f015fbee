package ebpf

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/cilium/ebpf"

	"github.com/frobware/go-bpfobj/kernel"
	"github.com/frobware/go-bpfobj/runtime"
)

// objectHandle is an opened (and later loaded) collection.
type objectHandle struct {
	path     string
	spec     *ebpf.CollectionSpec
	sections map[string]string // program name -> ELF section
	logger   *slog.Logger

	coll  *ebpf.Collection
	maps  []runtime.MapHandle
	progs []runtime.ProgramHandle
}

func (h *objectHandle) SetVariable(name string, data []byte) error {
	if h.coll != nil {
		return fmt.Errorf("set variable %q: collection already loaded", name)
	}
	v, ok := h.spec.Variables[name]
	if !ok {
		return fmt.Errorf("no variable %q in %s", name, h.path)
	}
	if err := v.Set(data); err != nil {
		return fmt.Errorf("set variable %q: %w", name, err)
	}
	return nil
}

func (h *objectHandle) Load() error {
	if h.coll != nil {
		return fmt.Errorf("collection %s already loaded", h.path)
	}
	coll, err := ebpf.NewCollection(h.spec)
	if err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	h.coll = coll

	// Handles are built here, in name order, so Maps and Programs
	// stay cheap and deterministic.
	for _, name := range sortedNames(coll.Maps) {
		m := coll.Maps[name]
		h.maps = append(h.maps, &mapHandle{
			m: m,
			info: kernel.MapInfo{
				Name:       name,
				Type:       kernel.MapTypeOf(uint32(m.Type())),
				KeySize:    m.KeySize(),
				ValueSize:  m.ValueSize(),
				MaxEntries: m.MaxEntries(),
				Flags:      m.Flags(),
				FD:         m.FD(),
			},
		})
	}
	for _, name := range sortedNames(coll.Programs) {
		p := coll.Programs[name]
		h.progs = append(h.progs, &programHandle{
			p:       p,
			section: h.sections[name],
			info: kernel.ProgramInfo{
				Name: name,
				Type: kernel.ProgramTypeOf(uint32(p.Type())),
				FD:   p.FD(),
			},
		})
	}
	return nil
}

func (h *objectHandle) Maps() []runtime.MapHandle         { return h.maps }
func (h *objectHandle) Programs() []runtime.ProgramHandle { return h.progs }

func (h *objectHandle) Close() error {
	if h.coll != nil {
		h.coll.Close()
		h.coll = nil
	}
	return nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
