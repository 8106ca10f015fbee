package ebpf

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/frobware/go-bpfobj/kernel"
	"github.com/frobware/go-bpfobj/runtime"
)

// xdpMinDataLen is the smallest test-run input the kernel accepts for
// packet-processing programs (an Ethernet header plus one byte).
const xdpMinDataLen = 15

type programHandle struct {
	p       *ebpf.Program
	section string
	info    kernel.ProgramInfo
}

func (h *programHandle) Info() kernel.ProgramInfo { return h.info }

func (h *programHandle) Run(input []byte, repeat int) (uint32, error) {
	if input == nil {
		input = make([]byte, xdpMinDataLen)
	}
	ret, err := h.p.Run(&ebpf.RunOptions{
		Data:   input,
		Repeat: uint32(repeat),
	})
	if err != nil {
		return 0, translate(err)
	}
	return ret, nil
}

func (h *programHandle) Attach() (runtime.LinkHandle, error) {
	lnk, err := attachBySection(h.p, h.section)
	if err != nil {
		return nil, err
	}
	return lnk, nil
}

func (h *programHandle) AttachXDP(ifindex int) (runtime.LinkHandle, error) {
	lnk, err := link.AttachXDP(link.XDPOptions{
		Program:   h.p,
		Interface: ifindex,
	})
	if err != nil {
		return nil, fmt.Errorf("attach XDP to interface %d: %w", ifindex, err)
	}
	return lnk, nil
}
