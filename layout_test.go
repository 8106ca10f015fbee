package bpfobj

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutOf(t *testing.T) {
	type pair struct {
		A uint32
		B uint32
	}

	cases := []struct {
		name      string
		prototype any
		size      int
		wantErr   bool
	}{
		{name: "uint32", prototype: uint32(0), size: 4},
		{name: "uint64", prototype: uint64(0), size: 8},
		{name: "int16", prototype: int16(0), size: 2},
		{name: "struct", prototype: pair{}, size: 8},
		{name: "pointer dereferenced", prototype: &pair{}, size: 8},
		{name: "array", prototype: [6]byte{}, size: 6},
		{name: "nil", prototype: nil, wantErr: true},
		{name: "string", prototype: "", wantErr: true},
		{name: "slice", prototype: []byte{}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := layoutOf(tc.prototype)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.size, l.size)
		})
	}
}

func TestLayoutMarshalRoundtrip(t *testing.T) {
	type stats struct {
		Packets uint64
		Bytes   uint64
	}

	l, err := layoutOf(stats{})
	require.NoError(t, err)
	require.Equal(t, 16, l.size)

	in := stats{Packets: 9, Bytes: 4096}
	data, err := l.marshal(&in)
	require.NoError(t, err)
	require.Len(t, data, 16)

	var out stats
	require.NoError(t, l.unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestLayoutMarshalSizeMismatch(t *testing.T) {
	l, err := layoutOf(uint64(0))
	require.NoError(t, err)

	_, err = l.marshal(uint32(1))
	require.Error(t, err, "narrower value than the registered layout")
}

func TestLayoutUnmarshalRejectsNonPointer(t *testing.T) {
	l, err := layoutOf(uint32(0))
	require.NoError(t, err)

	data, err := l.marshal(uint32(1))
	require.NoError(t, err)

	require.Error(t, l.unmarshal(data, uint32(0)))
	require.Error(t, l.unmarshal(data, nil))

	var out uint32
	var nilPtr *uint32
	require.Error(t, l.unmarshal(data, nilPtr))
	require.NoError(t, l.unmarshal(data, &out))
	assert.Equal(t, uint32(1), out)
}

func TestLayoutZero(t *testing.T) {
	l, err := layoutOf(uint64(0))
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), l.zero())
}
