package hook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionMemoryBounds(t *testing.T) {
	mem := NewRegionMemory(0x1000, 0x100)
	buf := make([]byte, 16)

	assert.NoError(t, mem.ReadAt(0x1000, buf))
	assert.NoError(t, mem.ReadAt(0x10f0, buf))
	assert.ErrorIs(t, mem.ReadAt(0x10f1, buf), ErrOutOfRange)
	assert.ErrorIs(t, mem.ReadAt(0xff0, buf), ErrOutOfRange)

	_, err := mem.Protect(0x10f8, 16, ProtAll)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestRegionMemoryEnforcesWriteProtection(t *testing.T) {
	mem := NewRegionMemory(0x1000, 0x100)
	data := []byte{1, 2, 3}

	assert.ErrorIs(t, mem.WriteAt(0x1000, data), ErrNotWritable)

	prev, err := mem.Protect(0x1000, len(data), ProtAll)
	require.NoError(t, err)
	assert.Equal(t, ProtReadExec, prev)

	require.NoError(t, mem.WriteAt(0x1000, data))
	assert.Equal(t, data, readBack(t, mem, 0x1000, 3))

	prev, err = mem.Protect(0x1000, len(data), ProtReadExec)
	require.NoError(t, err)
	assert.Equal(t, ProtAll, prev)
	assert.Equal(t, ProtReadExec, mem.Protection())
}
