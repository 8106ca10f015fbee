package bpfobj

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
)

// layout is the byte layout of a registered key or value type:
// a fixed-size Go type plus its encoded size.
//
// Sizes and encoding follow encoding/binary in the host's native byte
// order, which is what the kernel stores. encoding/binary does not
// insert alignment padding, so struct layouts shared with BPF C code
// must spell out padding fields explicitly.
type layout struct {
	typ  reflect.Type
	size int
}

// layoutOf derives a layout from a prototype value. Pointer
// prototypes are dereferenced. Types without a fixed encoded size
// (slices, maps, strings) are rejected.
func layoutOf(prototype any) (layout, error) {
	if prototype == nil {
		return layout{}, fmt.Errorf("nil prototype")
	}
	t := reflect.TypeOf(prototype)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	size := binary.Size(reflect.Zero(t).Interface())
	if size < 0 {
		return layout{}, fmt.Errorf("type %s has no fixed size", t)
	}
	return layout{typ: t, size: size}, nil
}

// marshal encodes v to exactly l.size bytes.
func (l layout) marshal(v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, rv.Interface()); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	if buf.Len() != l.size {
		return nil, fmt.Errorf("encoded %T to %d bytes, registered layout is %d", v, buf.Len(), l.size)
	}
	return buf.Bytes(), nil
}

// unmarshal decodes data into out, which must be a non-nil pointer to
// a fixed-size type of at most len(data) bytes.
func (l layout) unmarshal(data []byte, out any) error {
	if out == nil {
		return fmt.Errorf("nil output value")
	}
	if rv := reflect.ValueOf(out); rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("output must be a non-nil pointer, got %T", out)
	}
	if err := binary.Read(bytes.NewReader(data), binary.NativeEndian, out); err != nil {
		return fmt.Errorf("decode %d bytes into %T: %w", len(data), out, err)
	}
	return nil
}

// zero returns l.size zero bytes.
func (l layout) zero() []byte {
	return make([]byte, l.size)
}
