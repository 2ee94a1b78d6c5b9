package fsproto

import (
	"encoding/binary"
	"errors"
)

var errShortAttr = errors.New("fsproto: short attr encoding")

func putUint64(dst []byte, v uint64) { binary.BigEndian.PutUint64(dst, v) }
func putUint32(dst []byte, v uint32) { binary.BigEndian.PutUint32(dst, v) }
func getUint64(src []byte) uint64    { return binary.BigEndian.Uint64(src) }
func getUint32(src []byte) uint32    { return binary.BigEndian.Uint32(src) }

// AppendString appends a 16-bit length prefix followed by s's bytes,
// mirroring mqttproto's string framing so the two wire formats stay
// visually consistent.
func AppendString(dst []byte, s string) []byte {
	dst = append(dst, byte(len(s)>>8), byte(len(s)))
	return append(dst, s...)
}

// ReadString reads a 16-bit length-prefixed string from the front of buf,
// returning the string and the number of bytes consumed.
func ReadString(buf []byte) (string, int, error) {
	if len(buf) < 2 {
		return "", 0, errors.New("fsproto: short string length prefix")
	}
	n := int(buf[0])<<8 | int(buf[1])
	if len(buf) < 2+n {
		return "", 0, errors.New("fsproto: short string body")
	}
	return string(buf[2 : 2+n]), 2 + n, nil
}
