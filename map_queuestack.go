package bpfobj

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/frobware/go-bpfobj/kernel"
	"github.com/frobware/go-bpfobj/runtime"
)

// QueueStack is a typed accessor over the keyless queue and stack map
// types. Queues pop in FIFO order, stacks in LIFO order; the kernel
// map type is the only behavioural difference, so both share this
// implementation.
type QueueStack struct {
	h      runtime.MapHandle
	info   kernel.MapInfo
	logger *slog.Logger

	value *layout
}

func newQueueStack(o *Object, h runtime.MapHandle) (MapAccessor, error) {
	return &QueueStack{h: h, info: h.Info(), logger: o.logger}, nil
}

func (q *QueueStack) Name() string         { return q.info.Name }
func (q *QueueStack) Type() kernel.MapType { return q.info.Type }
func (q *QueueStack) Info() kernel.MapInfo { return q.info }
func (q *QueueStack) Capacity() uint32     { return q.info.MaxEntries }
func (q *QueueStack) FD() int              { return q.info.FD }

// RegisterValueType registers the element layout from a prototype
// value. The encoded size must equal the value size the kernel
// reports.
func (q *QueueStack) RegisterValueType(prototype any) error {
	l, err := layoutOf(prototype)
	if err != nil {
		return fmt.Errorf("map %s: value prototype: %w", q.info.Name, err)
	}
	if l.size != int(q.info.ValueSize) {
		return &LayoutMismatchError{Map: q.info.Name, What: "value", Want: int(q.info.ValueSize), Got: l.size}
	}
	q.value = &l
	return nil
}

func (q *QueueStack) valueBytes(value any) ([]byte, error) {
	if q.value == nil {
		return nil, &TypeNotConfiguredError{Map: q.info.Name, What: "value"}
	}
	vb, err := q.value.marshal(value)
	if err != nil {
		return nil, fmt.Errorf("map %s: value: %w", q.info.Name, err)
	}
	return vb, nil
}

// Push appends (queue) or pushes (stack) an element. Pushing onto a
// full map returns a CapacityError.
func (q *QueueStack) Push(value any, flags kernel.UpdateFlags) error {
	vb, err := q.valueBytes(value)
	if err != nil {
		return err
	}
	if err := q.h.Update(nil, vb, flags); err != nil {
		if errors.Is(err, runtime.ErrNoSpace) {
			return &CapacityError{Map: q.info.Name, Err: err}
		}
		return &UpdateError{Map: q.info.Name, Err: err}
	}
	return nil
}

// Pop removes the next element and decodes it into valueOut. Popping
// an empty map returns an EmptyError.
func (q *QueueStack) Pop(valueOut any) error {
	if q.value == nil {
		return &TypeNotConfiguredError{Map: q.info.Name, What: "value"}
	}
	vb, err := q.h.LookupAndDelete(nil)
	if err != nil {
		if errors.Is(err, runtime.ErrKeyNotExist) {
			return &EmptyError{Map: q.info.Name}
		}
		return &UpdateError{Map: q.info.Name, Err: err}
	}
	return q.value.unmarshal(vb, valueOut)
}

// Peek decodes the next element into valueOut without removing it.
// Peeking an empty map returns an EmptyError.
func (q *QueueStack) Peek(valueOut any) error {
	if q.value == nil {
		return &TypeNotConfiguredError{Map: q.info.Name, What: "value"}
	}
	vb, err := q.h.Lookup(nil)
	if err != nil {
		if errors.Is(err, runtime.ErrKeyNotExist) {
			return &EmptyError{Map: q.info.Name}
		}
		return &UpdateError{Map: q.info.Name, Err: err}
	}
	return q.value.unmarshal(vb, valueOut)
}
