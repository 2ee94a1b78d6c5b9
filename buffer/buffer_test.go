package buffer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mqttmount/mqttmount/buffer"
)

func TestReserveAdvancesLenAfterWrite(t *testing.T) {
	var b buffer.Buffer

	p, err := b.Grow(3)
	require.NoError(t, err)
	copy(p, []byte("abc"))
	require.Equal(t, 3, b.Len())

	p2, err := b.Grow(2)
	require.NoError(t, err)
	copy(p2, []byte("de"))

	require.Equal(t, []byte("abcde"), b.Bytes())
}

func TestAssignReplacesContents(t *testing.T) {
	var b buffer.Buffer
	require.NoError(t, b.Append([]byte("stale")))

	require.NoError(t, b.Assign([]byte("fresh")))
	require.Equal(t, []byte("fresh"), b.Bytes())
	require.Equal(t, 5, b.Len())
}

func TestReserveRejectsOversizedRequest(t *testing.T) {
	var b buffer.Buffer
	_, err := b.Reserve(1 << 31)
	require.ErrorIs(t, err, buffer.ErrOutOfMemory)
}

func TestCleanupResetsToZeroValue(t *testing.T) {
	var b buffer.Buffer
	require.NoError(t, b.Append([]byte("x")))
	b.Cleanup()
	require.Equal(t, 0, b.Len())
	require.Nil(t, b.Bytes())
}

func TestInvariantSizeNeverExceedsAlloc(t *testing.T) {
	var b buffer.Buffer
	for i := 0; i < 100; i++ {
		require.NoError(t, b.Append([]byte{byte(i)}))
		require.LessOrEqual(t, b.Len(), cap(b.Bytes()))
	}
}
