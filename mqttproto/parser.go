package mqttproto

import (
	"errors"
	"fmt"
)

// Outcome classifies the result of a single ParseMessage call.
type Outcome int

const (
	// Success means a PUBLISH frame was fully parsed; Payload is a borrowed
	// view into the buffer passed to ParseMessage, Topic is a copy.
	Success Outcome = iota
	// Skipped means a complete, well-formed frame of a type this client
	// doesn't care about (anything but PUBLISH) was consumed.
	Skipped
	// ReadMore means the buffer does not yet contain a complete frame; the
	// cursor is left unchanged so a subsequent call, after more bytes have
	// been appended, can complete it.
	ReadMore
	// Error means the buffer contains a malformed frame; the connection
	// should be treated as unrecoverable (spec.md §7, ProtocolError).
	Error
)

// ErrProtocol is wrapped into any error ParseMessage reports for a
// malformed frame.
var ErrProtocol = errors.New("mqttproto: protocol error")

// Result carries the outcome of one ParseMessage call plus, for Success,
// the parsed topic and payload.
type Result struct {
	Outcome Outcome
	Topic   string
	Payload []byte
	Err     error
}

// ParseMessage attempts to parse a single frame starting at buf[cursor:].
// It never partially consumes a frame: on ReadMore, cursor is returned
// unchanged so that feeding a frame one byte at a time yields the same
// Success result as feeding it whole (spec.md §8's fragmentation property).
//
// On Success or Skipped, the returned cursor points just past the consumed
// frame. Payload in a Success result is a slice of buf and is only valid
// until buf is next mutated by the caller; Topic is copied into a string.
func ParseMessage(buf []byte, cursor int) (Result, int) {
	if cursor > len(buf) {
		panic("mqttproto: cursor past end of buffer")
	}

	remainingBuf := buf[cursor:]
	if len(remainingBuf) == 0 {
		return Result{Outcome: ReadMore}, cursor
	}

	firstByte := remainingBuf[0]

	length, lengthSize, ok, err := DecodeRemainingLength(remainingBuf[1:])
	if err != nil {
		return Result{Outcome: Error, Err: fmt.Errorf("%w: %v", ErrProtocol, err)}, cursor
	}
	if !ok {
		return Result{Outcome: ReadMore}, cursor
	}

	frameLen := 1 + lengthSize + length
	if len(remainingBuf) < frameLen {
		return Result{Outcome: ReadMore}, cursor
	}

	body := remainingBuf[1+lengthSize : frameLen]
	nextCursor := cursor + frameLen

	if !isPublish(firstByte) {
		return Result{Outcome: Skipped}, nextCursor
	}

	r := reader{buf: body}
	topicLen, err := r.readUint16()
	if err != nil {
		return Result{Outcome: Error, Err: fmt.Errorf("%w: truncated topic length", ErrProtocol)}, cursor
	}

	if int(topicLen) > r.remaining() {
		return Result{Outcome: Error, Err: fmt.Errorf("%w: topic length %d exceeds remaining %d", ErrProtocol, topicLen, r.remaining())}, cursor
	}

	topicBytes, err := r.readBytes(int(topicLen))
	if err != nil {
		return Result{Outcome: Error, Err: fmt.Errorf("%w: %v", ErrProtocol, err)}, cursor
	}

	payload, err := r.readBytes(r.remaining())
	if err != nil {
		return Result{Outcome: Error, Err: fmt.Errorf("%w: %v", ErrProtocol, err)}, cursor
	}

	return Result{
		Outcome: Success,
		Topic:   string(topicBytes),
		Payload: payload,
	}, nextCursor
}
