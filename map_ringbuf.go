package bpfobj

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/frobware/go-bpfobj/kernel"
	"github.com/frobware/go-bpfobj/runtime"
)

// RecordHandler processes one ring buffer record. data is a pointer
// to the decoded record when a prototype was registered with the
// callback, otherwise the raw record bytes ([]byte). size is the raw
// record length. A non-zero return stops the in-progress poll at the
// next record boundary.
type RecordHandler func(data any, size int) int

// Ringbuf is the accessor for ring buffer maps: a keyless event
// stream the kernel writes variable-length records into. It has no
// key or value layout; instead callbacks are registered per map and
// all registered maps on an object are drained together through
// Object.RingbufConsume and Object.RingbufPoll.
type Ringbuf struct {
	obj    *Object
	h      runtime.MapHandle
	info   kernel.MapInfo
	logger *slog.Logger
}

func newRingbuf(o *Object, h runtime.MapHandle) (MapAccessor, error) {
	info := h.Info()
	if info.FD < 0 {
		return nil, fmt.Errorf("map %s: bad ring buffer file descriptor %d", info.Name, info.FD)
	}
	return &Ringbuf{obj: o, h: h, info: info, logger: o.logger}, nil
}

func (r *Ringbuf) Name() string         { return r.info.Name }
func (r *Ringbuf) Type() kernel.MapType { return r.info.Type }
func (r *Ringbuf) Info() kernel.MapInfo { return r.info }
func (r *Ringbuf) FD() int              { return r.info.FD }

// Capacity returns the ring's size in bytes.
func (r *Ringbuf) Capacity() uint32 { return r.info.MaxEntries }

// RegisterCallback registers fn for records from this map. When
// prototype is non-nil each record is decoded into a fresh value of
// the prototype's type and fn receives a pointer to it; records
// shorter than the prototype layout are passed through raw instead.
//
// The first registration on an object creates the shared polling
// context; subsequent registrations, on this or any other ring buffer
// map of the same object, extend it. The wrapped handler is retained
// by the object until Close, since the context holds a reference to
// it for its entire lifetime.
func (r *Ringbuf) RegisterCallback(prototype any, fn RecordHandler) error {
	if fn == nil {
		return fmt.Errorf("map %s: nil ring buffer callback", r.info.Name)
	}
	var lay *layout
	if prototype != nil {
		l, err := layoutOf(prototype)
		if err != nil {
			return fmt.Errorf("map %s: record prototype: %w", r.info.Name, err)
		}
		lay = &l
	}

	trampoline := runtime.RingHandler(func(record []byte) int {
		var data any = record
		if lay != nil && len(record) >= lay.size {
			out := reflect.New(lay.typ)
			if err := lay.unmarshal(record[:lay.size], out.Interface()); err != nil {
				r.logger.Warn("failed to decode ring buffer record, passing raw bytes",
					"map", r.info.Name, "error", err)
			} else {
				data = out.Interface()
			}
		}
		return fn(data, len(record))
	})

	return r.obj.addRingbuf(r, trampoline)
}
