package ebpf

import (
	"fmt"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/frobware/go-bpfobj/runtime"
)

// attachBySection attaches prog to the hook its ELF section encodes.
//
// Section name patterns (from cilium/ebpf elf_sections.go):
//   - kprobe/FUNC, kretprobe/FUNC
//   - tracepoint/GROUP/NAME, tp/GROUP/NAME
//   - raw_tracepoint/NAME, raw_tp/NAME
//   - fentry/FUNC, fexit/FUNC, tp_btf/NAME
//
// Types whose attachment needs parameters the section cannot carry
// (XDP, tc, socket filters) report runtime.ErrNotSupported and are
// attached through their type-specific entry points instead.
func attachBySection(prog *ebpf.Program, section string) (link.Link, error) {
	section = strings.TrimPrefix(section, "?")
	parts := strings.Split(section, "/")

	switch parts[0] {
	case "kprobe":
		fn, err := sectionTarget(section, parts, 2)
		if err != nil {
			return nil, err
		}
		lnk, err := link.Kprobe(fn, prog, nil)
		if err != nil {
			return nil, fmt.Errorf("attach kprobe to %s: %w", fn, err)
		}
		return lnk, nil

	case "kretprobe":
		fn, err := sectionTarget(section, parts, 2)
		if err != nil {
			return nil, err
		}
		lnk, err := link.Kretprobe(fn, prog, nil)
		if err != nil {
			return nil, fmt.Errorf("attach kretprobe to %s: %w", fn, err)
		}
		return lnk, nil

	case "tracepoint", "tp":
		if len(parts) != 3 {
			return nil, fmt.Errorf("section %q: want GROUP/NAME after the prefix", section)
		}
		lnk, err := link.Tracepoint(parts[1], parts[2], prog, nil)
		if err != nil {
			return nil, fmt.Errorf("attach to tracepoint %s:%s: %w", parts[1], parts[2], err)
		}
		return lnk, nil

	case "raw_tracepoint", "raw_tp":
		name, err := sectionTarget(section, parts, 2)
		if err != nil {
			return nil, err
		}
		lnk, err := link.AttachRawTracepoint(link.RawTracepointOptions{
			Name:    name,
			Program: prog,
		})
		if err != nil {
			return nil, fmt.Errorf("attach to raw tracepoint %s: %w", name, err)
		}
		return lnk, nil

	case "fentry", "fexit", "tp_btf":
		lnk, err := link.AttachTracing(link.TracingOptions{Program: prog})
		if err != nil {
			return nil, fmt.Errorf("attach tracing program (%s): %w", section, err)
		}
		return lnk, nil

	default:
		return nil, fmt.Errorf("section %q is not auto-attachable: %w", section, runtime.ErrNotSupported)
	}
}

func sectionTarget(section string, parts []string, want int) (string, error) {
	if len(parts) != want || parts[want-1] == "" {
		return "", fmt.Errorf("section %q: no attach target", section)
	}
	return parts[want-1], nil
}
