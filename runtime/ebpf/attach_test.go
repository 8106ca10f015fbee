package ebpf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bpfobj/runtime"
)

// The error paths below never reach the kernel, so a nil program is
// fine.

func TestAttachBySectionNotAutoAttachable(t *testing.T) {
	for _, section := range []string{"xdp", "tc", "classifier", "socket", "uprobe/libc.so:malloc"} {
		_, err := attachBySection(nil, section)
		require.ErrorIs(t, err, runtime.ErrNotSupported, "section %q", section)
	}
}

func TestAttachBySectionMalformed(t *testing.T) {
	// Recognised prefixes with a missing or mangled attach target.
	cases := []string{
		"kprobe",
		"kprobe/",
		"kretprobe",
		"tracepoint/syscalls",
		"tp/a/b/c",
		"raw_tracepoint",
	}
	for _, section := range cases {
		_, err := attachBySection(nil, section)
		require.Error(t, err, "section %q", section)
		assert.NotErrorIs(t, err, runtime.ErrNotSupported,
			"malformed sections are errors, not skip signals: %q", section)
	}
}

func TestSectionTarget(t *testing.T) {
	fn, err := sectionTarget("kprobe/do_sys_open", []string{"kprobe", "do_sys_open"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "do_sys_open", fn)

	_, err = sectionTarget("kprobe/", []string{"kprobe", ""}, 2)
	require.Error(t, err)
}

func TestKeyArg(t *testing.T) {
	assert.Nil(t, keyArg(nil))
	assert.Equal(t, []byte{1, 2}, keyArg([]byte{1, 2}))

	// Zero-length but non-nil keys stay non-nil.
	v := keyArg([]byte{})
	require.NotNil(t, v)
}

func TestAlign8(t *testing.T) {
	for n, want := range map[int]int{0: 0, 1: 8, 4: 8, 7: 8, 8: 8, 9: 16, 12: 16, 16: 16} {
		assert.Equal(t, want, align8(n), "align8(%d)", n)
	}
}
