// Package tracelog implements the same narrow, flag-gated low-level
// wire tracer the teacher's debug.go provides for FUSE requests and
// responses, adapted to this module's device protocol (spec.md §6).
// It is deliberately separate from the operational log/slog logging
// used elsewhere: this tracer exists only to print every request and
// response header when a caller explicitly asks for it, the same way
// the teacher keeps its "-fuse.debug" tracing out of the way unless
// enabled.
package tracelog

import (
	"io"
	"log"
	"os"
	"sync"

	"github.com/mqttmount/mqttmount/fsproto"
)

// Tracer writes one line per request and response header to its
// underlying writer. The zero value discards everything; use New to
// enable tracing to stderr.
type Tracer struct {
	mu     sync.Mutex
	logger *log.Logger
}

// New returns a Tracer that writes to os.Stderr if enabled is true, or
// discards everything otherwise — the teacher's "-fuse.debug" on/off
// shape, threaded through explicitly instead of read from a
// package-level global, since this module's CLI entry point parses
// flags with pflag rather than the stdlib flag package the teacher's
// debug.go ties into.
func New(enabled bool) *Tracer {
	var w io.Writer = io.Discard
	if enabled {
		w = os.Stderr
	}
	const flags = log.Ldate | log.Ltime | log.Lmicroseconds
	return &Tracer{logger: log.New(w, "mqttmount: ", flags)}
}

// Request logs an incoming request header before it is dispatched.
func (t *Tracer) Request(hdr fsproto.RequestHeader) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.logger == nil {
		return
	}
	t.logger.Printf("-> %s unique=%d node=%d len=%d", hdr.Opcode, hdr.Unique, hdr.NodeID, hdr.Len)
}

// Response logs an outgoing response header after a request has been
// handled.
func (t *Tracer) Response(unique uint64, errno fsproto.Errno) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.logger == nil {
		return
	}
	t.logger.Printf("<- unique=%d errno=%s", unique, errno)
}
