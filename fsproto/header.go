package fsproto

import (
	"encoding/binary"
	"fmt"
)

// RequestHeaderSize is the wire size of RequestHeader: len, opcode,
// unique, nodeid, each a fixed-width field (spec.md §6).
const RequestHeaderSize = 4 + 4 + 8 + 8

// ResponseHeaderSize is the wire size of ResponseHeader: len, error,
// unique.
const ResponseHeaderSize = 4 + 4 + 8

// ProtocolVersion is the single version this adapter speaks. INIT's reply
// body is this value alone; there is no negotiation since only one
// version has ever existed.
const ProtocolVersion uint32 = 1

// EncodeInitReply returns the INIT response body: ProtocolVersion as a
// fixed-width uint32.
func EncodeInitReply() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, ProtocolVersion)
	return buf
}

// RequestHeader is the fixed prefix of every request the kernel device
// sends. Len is the total frame length including this header; the body
// that follows is opcode-specific and decoded by fsadapter.
type RequestHeader struct {
	Len    uint32
	Opcode Opcode
	Unique uint64
	NodeID uint64
}

// ResponseHeader is the fixed prefix of every reply the adapter writes,
// and also of POLL_WAKEUP notifications, which reuse the response shape
// with Unique == 0 and Error carrying the notification code (spec.md
// §4.E "Poll wakeup").
type ResponseHeader struct {
	Len    uint32
	Error  int32
	Unique uint64
}

// Encode appends h's wire encoding to dst.
func (h RequestHeader) Encode(dst []byte) []byte {
	var buf [RequestHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.Len)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Opcode))
	binary.BigEndian.PutUint64(buf[8:16], h.Unique)
	binary.BigEndian.PutUint64(buf[16:24], h.NodeID)
	return append(dst, buf[:]...)
}

// DecodeRequestHeader reads a RequestHeader from the front of buf.
func DecodeRequestHeader(buf []byte) (RequestHeader, error) {
	if len(buf) < RequestHeaderSize {
		return RequestHeader{}, fmt.Errorf("fsproto: short request header (%d bytes)", len(buf))
	}
	return RequestHeader{
		Len:    binary.BigEndian.Uint32(buf[0:4]),
		Opcode: Opcode(binary.BigEndian.Uint32(buf[4:8])),
		Unique: binary.BigEndian.Uint64(buf[8:16]),
		NodeID: binary.BigEndian.Uint64(buf[16:24]),
	}, nil
}

// Encode appends h's wire encoding to dst.
func (h ResponseHeader) Encode(dst []byte) []byte {
	var buf [ResponseHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.Len)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Error))
	binary.BigEndian.PutUint64(buf[8:16], h.Unique)
	return append(dst, buf[:]...)
}

// DecodeResponseHeader reads a ResponseHeader from the front of buf; used
// by tests driving a fake device.
func DecodeResponseHeader(buf []byte) (ResponseHeader, error) {
	if len(buf) < ResponseHeaderSize {
		return ResponseHeader{}, fmt.Errorf("fsproto: short response header (%d bytes)", len(buf))
	}
	return ResponseHeader{
		Len:    binary.BigEndian.Uint32(buf[0:4]),
		Error:  int32(binary.BigEndian.Uint32(buf[4:8])),
		Unique: binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}
