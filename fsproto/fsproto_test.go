package fsproto_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mqttmount/mqttmount/fsproto"
)

func TestRequestHeaderRoundTrip(t *testing.T) {
	h := fsproto.RequestHeader{Len: 42, Opcode: fsproto.OpWrite, Unique: 7, NodeID: 99}
	buf := h.Encode(nil)
	require.Len(t, buf, fsproto.RequestHeaderSize)

	got, err := fsproto.DecodeRequestHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestResponseHeaderRoundTrip(t *testing.T) {
	h := fsproto.ResponseHeader{Len: 16, Error: int32(fsproto.ErrnoNoEnt), Unique: 7}
	buf := h.Encode(nil)
	require.Len(t, buf, fsproto.ResponseHeaderSize)

	got, err := fsproto.DecodeResponseHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeRequestHeaderRejectsShortBuffer(t *testing.T) {
	_, err := fsproto.DecodeRequestHeader(make([]byte, fsproto.RequestHeaderSize-1))
	require.Error(t, err)
}

func TestAttrRoundTrip(t *testing.T) {
	a := fsproto.FileAttr(5, 123)
	buf := a.Encode(nil)

	got, n, err := fsproto.DecodeAttr(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, a, got)
}

func TestDirAttrAndFileAttrModesDiffer(t *testing.T) {
	dir := fsproto.DirAttr(1)
	file := fsproto.FileAttr(2, 0)

	require.Equal(t, uint32(2), dir.Nlink)
	require.Equal(t, uint32(1), file.Nlink)
	require.NotEqual(t, dir.Mode, file.Mode)
}

func TestStringRoundTrip(t *testing.T) {
	buf := fsproto.AppendString(nil, "room/light")
	got, n, err := fsproto.ReadString(buf)
	require.NoError(t, err)
	require.Equal(t, "room/light", got)
	require.Equal(t, len(buf), n)
}

func TestOpcodeStringer(t *testing.T) {
	require.Equal(t, "READ", fsproto.OpRead.String())
	require.Equal(t, "WRITE", fsproto.OpWrite.String())
}
