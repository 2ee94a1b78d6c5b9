// Package fsadapter implements the kernel filesystem device protocol
// described in spec.md §4.E: a single cooperative loop that reads one
// request at a time from a Device, dispatches it to a FileSystem
// implementation, and writes back exactly one response before reading the
// next request.
//
// The shape is grounded on the teacher's (jacobsa/fuse) split between
// connection.go (the device read/dispatch/respond loop) and
// fuseutil.FileSystem (a typed per-opcode interface), adapted to this
// spec's invented wire protocol and single-request-at-a-time ordering
// requirement (spec.md §5).
package fsadapter

import "io"

// Device is the kernel-side descriptor the Server reads requests from and
// writes responses and notifications to. A real deployment obtains one
// from the platformdevice package after performing the actual mount
// syscall; tests can supply any io.ReadWriteCloser.
type Device interface {
	io.Reader
	io.Writer
	io.Closer
}
