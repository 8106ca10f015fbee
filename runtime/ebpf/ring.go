package ebpf

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cilium/ebpf/ringbuf"
	"golang.org/x/sys/unix"

	"github.com/frobware/go-bpfobj/runtime"
)

// ringContext multiplexes one or more ring buffer maps over a single
// epoll descriptor. The kernel signals readiness on the ring buffer
// map fd itself, so that is what gets registered with epoll; records
// are then drained through a per-map ringbuf.Reader.
type ringContext struct {
	logger  *slog.Logger
	epfd    int
	members []ringMember
	closed  bool
}

type ringMember struct {
	name   string
	reader *ringbuf.Reader
	fn     runtime.RingHandler
}

func newRingContext(m *mapHandle, fn runtime.RingHandler, logger *slog.Logger) (*ringContext, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	c := &ringContext{
		logger: logger.With("component", "ringbuf"),
		epfd:   epfd,
	}
	if err := c.Add(m, fn); err != nil {
		unix.Close(epfd)
		return nil, err
	}
	return c, nil
}

func (c *ringContext) Add(m runtime.MapHandle, fn runtime.RingHandler) error {
	mh, ok := m.(*mapHandle)
	if !ok {
		return fmt.Errorf("map handle %T does not belong to this runtime", m)
	}
	if c.closed {
		return fmt.Errorf("ring buffer context is closed")
	}

	reader, err := ringbuf.NewReader(mh.m)
	if err != nil {
		return fmt.Errorf("create ring buffer reader for %s: %w", mh.info.Name, err)
	}

	event := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(mh.m.FD()),
	}
	if err := unix.EpollCtl(c.epfd, unix.EPOLL_CTL_ADD, mh.m.FD(), &event); err != nil {
		reader.Close()
		return fmt.Errorf("epoll_ctl add %s: %w", mh.info.Name, err)
	}

	c.members = append(c.members, ringMember{
		name:   mh.info.Name,
		reader: reader,
		fn:     fn,
	})
	c.logger.Debug("added ring buffer to context", "map", mh.info.Name)
	return nil
}

// drain reads every pending record from every member without
// blocking. A handler returning non-zero stops the drain at the next
// record boundary.
func (c *ringContext) drain() (int, error) {
	count := 0
	for i := range c.members {
		m := &c.members[i]
		// A deadline in the past makes Read return pending records
		// and then os.ErrDeadlineExceeded instead of blocking.
		m.reader.SetDeadline(time.Now())
		for {
			record, err := m.reader.Read()
			if err != nil {
				if errors.Is(err, os.ErrDeadlineExceeded) {
					break
				}
				if errors.Is(err, ringbuf.ErrClosed) {
					return count, fmt.Errorf("ring buffer %s is closed", m.name)
				}
				return count, fmt.Errorf("read ring buffer %s: %w", m.name, err)
			}
			count++
			if m.fn(record.RawSample) != 0 {
				return count, nil
			}
		}
	}
	return count, nil
}

func (c *ringContext) Consume() (int, error) {
	if c.closed {
		return 0, fmt.Errorf("ring buffer context is closed")
	}
	return c.drain()
}

func (c *ringContext) Poll(timeoutMs int) (int, error) {
	if c.closed {
		return 0, fmt.Errorf("ring buffer context is closed")
	}

	events := make([]unix.EpollEvent, len(c.members))
	for {
		n, err := unix.EpollWait(c.epfd, events, timeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, fmt.Errorf("epoll_wait: %w", err)
		}
		if n == 0 {
			return 0, nil
		}
		// Level-triggered epoll: any readiness means pending records
		// somewhere, so drain every member rather than decoding which
		// fd fired.
		return c.drain()
	}
}

func (c *ringContext) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	for i := range c.members {
		if err := c.members[i].reader.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close ring buffer reader %s: %w", c.members[i].name, err)
		}
	}
	c.members = nil
	if err := unix.Close(c.epfd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close epoll fd: %w", err)
	}
	return firstErr
}
