package mqttproto_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mqttmount/mqttmount/mqttproto"
)

func TestRemainingLengthRoundTrip(t *testing.T) {
	cases := []int{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, mqttproto.MaxRemainingLength}

	for _, n := range cases {
		encoded, err := mqttproto.EncodeRemainingLength(nil, n)
		require.NoError(t, err)

		decoded, consumed, ok, err := mqttproto.DecodeRemainingLength(encoded)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, n, decoded)
		require.Equal(t, len(encoded), consumed)
	}
}

func TestEncodeRemainingLengthRejectsTooLarge(t *testing.T) {
	_, err := mqttproto.EncodeRemainingLength(nil, mqttproto.MaxRemainingLength+1)
	require.ErrorIs(t, err, mqttproto.ErrRemainingLengthTooLarge)
}

func TestEncodeRemainingLengthByteBoundaries(t *testing.T) {
	// Encoded size in bytes for the values on either side of the points
	// where the scheme moves to 1, 2, 3, and 4 encoded bytes.
	boundaries := map[int]int{
		0:       1,
		127:     1,
		128:     2,
		16383:   2,
		16384:   3,
		2097151: 3,
		2097152: 4,
	}

	for n, wantBytes := range boundaries {
		encoded, err := mqttproto.EncodeRemainingLength(nil, n)
		require.NoError(t, err)
		require.Len(t, encoded, wantBytes)
	}
}

func TestDecodeRemainingLengthNeedsMoreBytes(t *testing.T) {
	_, _, ok, err := mqttproto.DecodeRemainingLength([]byte{0x80, 0x80})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDecodeRemainingLengthMalformedAfterFourBytes(t *testing.T) {
	_, _, _, err := mqttproto.DecodeRemainingLength([]byte{0x80, 0x80, 0x80, 0x80})
	require.ErrorIs(t, err, mqttproto.ErrMalformedRemainingLength)
}
