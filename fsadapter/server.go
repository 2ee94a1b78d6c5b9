package fsadapter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mqttmount/mqttmount/buffer"
	"github.com/mqttmount/mqttmount/fsproto"
	"github.com/mqttmount/mqttmount/internal/tracelog"
)

// notificationErrno is the Error field value a POLL_WAKEUP notification
// carries; it shares the response header shape with Unique == 0, per
// spec.md §6.
const notificationErrno = -1

// Server drives the single cooperative device loop described in
// spec.md §4.E/§5: read one request, dispatch it synchronously to a
// FileSystem, write one response, and only then read the next request.
// Concurrent requests for different handles still make progress because
// the FileSystem implementation (the mqttmount adapter) holds the tree
// mutex only for the in-memory portion of each call.
type Server struct {
	dev    Device
	fs     FileSystem
	logger *slog.Logger
	tracer *tracelog.Tracer

	writeMu sync.Mutex

	requests atomic.Uint64
}

// NewServer constructs a Server. logger may be nil, in which case a
// discarding logger is used. Wire-level tracing is off by default; see
// SetTracer.
func NewServer(dev Device, fs FileSystem, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{dev: dev, fs: fs, logger: logger, tracer: tracelog.New(false)}
}

// SetTracer installs t as the Server's wire-level request/response
// tracer, replacing the disabled default NewServer installs.
func (s *Server) SetTracer(t *tracelog.Tracer) {
	s.tracer = t
}

// Serve runs the device loop until ctx is canceled or a read/write on the
// device fails. A canceled context causes Serve to return ctx.Err() once
// the in-flight Device.Read call returns; callers that need a device read
// to unblock promptly should close the underlying Device themselves.
func (s *Server) Serve(ctx context.Context) error {
	var pending []byte
	readBuf := make([]byte, 64*1024)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		for len(pending) < fsproto.RequestHeaderSize {
			n, err := s.dev.Read(readBuf)
			if err != nil {
				return fmt.Errorf("fsadapter: device read: %w", err)
			}
			if n == 0 {
				return io.ErrUnexpectedEOF
			}
			pending = append(pending, readBuf[:n]...)
		}

		hdr, err := fsproto.DecodeRequestHeader(pending)
		if err != nil {
			return err
		}
		if hdr.Len < fsproto.RequestHeaderSize {
			// A Len this short can't be resynchronized to a following
			// frame, but a reply is still owed for this request (spec.md
			// §7): write it, then give up on the connection.
			if werr := s.writeResponse(hdr.Unique, fsproto.ErrnoIO, nil); werr != nil {
				return werr
			}
			return fmt.Errorf("fsadapter: request header declares Len %d shorter than header size %d", hdr.Len, fsproto.RequestHeaderSize)
		}

		for len(pending) < int(hdr.Len) {
			n, err := s.dev.Read(readBuf)
			if err != nil {
				return fmt.Errorf("fsadapter: device read: %w", err)
			}
			if n == 0 {
				return io.ErrUnexpectedEOF
			}
			pending = append(pending, readBuf[:n]...)
		}

		body := pending[fsproto.RequestHeaderSize:hdr.Len]
		frame := append([]byte(nil), body...)
		pending = append([]byte(nil), pending[hdr.Len:]...)

		if err := s.dispatch(hdr, frame); err != nil {
			return err
		}

		s.requests.Add(1)
	}
}

// dispatch decodes and handles a single request, writing exactly one
// response.
func (s *Server) dispatch(hdr fsproto.RequestHeader, body []byte) error {
	s.tracer.Request(hdr)

	// INIT is pure wire-protocol version negotiation: there is nothing in
	// it for topictree or broker to do, so it never reaches FileSystem.
	if hdr.Opcode == fsproto.OpInit {
		return s.writeResponse(hdr.Unique, fsproto.Success, fsproto.EncodeInitReply())
	}

	op, err := decodeRequest(hdr, body)
	if err != nil {
		s.logger.Warn("malformed request", "opcode", hdr.Opcode.String(), "error", err)
		return s.writeResponse(hdr.Unique, fsproto.ErrnoIO, nil)
	}
	if op == nil {
		return s.writeResponse(hdr.Unique, fsproto.ErrnoNoSys, nil)
	}

	callErr := s.call(op)
	errno := fsproto.ErrnoOf(callErr)
	if errno != fsproto.Success {
		s.logger.Debug("request failed", "opcode", hdr.Opcode.String(), "errno", errno.String())
		return s.writeResponse(hdr.Unique, errno, nil)
	}

	return s.writeResponse(hdr.Unique, fsproto.Success, encodeResponseBody(op))
}

func (s *Server) call(op interface{}) error {
	switch o := op.(type) {
	case *fsproto.LookupOp:
		return s.fs.Lookup(o)
	case *fsproto.ForgetOp:
		return s.fs.Forget(o)
	case *fsproto.GetAttrOp:
		return s.fs.GetAttr(o)
	case *fsproto.MkdirOp:
		return s.fs.Mkdir(o)
	case *fsproto.UnlinkOp:
		return s.fs.Unlink(o)
	case *fsproto.RmdirOp:
		return s.fs.Rmdir(o)
	case *fsproto.OpenOp:
		return s.fs.Open(o)
	case *fsproto.ReleaseOp:
		return s.fs.Release(o)
	case *fsproto.ReadOp:
		return s.fs.Read(o)
	case *fsproto.WriteOp:
		return s.fs.Write(o)
	case *fsproto.CreateOp:
		return s.fs.Create(o)
	case *fsproto.OpendirOp:
		return s.fs.Opendir(o)
	case *fsproto.ReaddirOp:
		return s.fs.Readdir(o)
	case *fsproto.ReleasedirOp:
		return s.fs.Releasedir(o)
	case *fsproto.PollOp:
		return s.fs.Poll(o)
	default:
		return fsproto.ErrNoSys
	}
}

// writeResponse assembles the response frame in a buffer.Buffer before
// handing it to the device in one Write call, the same
// reserve-then-fill discipline the teacher's internal/buffer.OutMessage
// uses for outgoing kernel replies.
func (s *Server) writeResponse(unique uint64, errno fsproto.Errno, body []byte) error {
	s.tracer.Response(unique, errno)

	hdr := fsproto.ResponseHeader{
		Len:    uint32(fsproto.ResponseHeaderSize + len(body)),
		Error:  int32(errno),
		Unique: unique,
	}

	var buf buffer.Buffer
	if err := buf.Append(hdr.Encode(nil)); err != nil {
		return err
	}
	if err := buf.Append(body); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.dev.Write(buf.Bytes())
	return err
}

// NotifyPollWakeup writes a POLL_WAKEUP notification carrying token, per
// spec.md §4.E: a response-shaped frame with Unique == 0 and the
// notification's token in place of a body. It may be called concurrently
// with Serve's own response writes; both share writeMu.
func (s *Server) NotifyPollWakeup(token uint64) error {
	var tokenBuf [8]byte
	for i := 0; i < 8; i++ {
		tokenBuf[7-i] = byte(token >> (8 * i))
	}

	hdr := fsproto.ResponseHeader{
		Len:    uint32(fsproto.ResponseHeaderSize + len(tokenBuf)),
		Error:  notificationErrno,
		Unique: 0,
	}

	var buf buffer.Buffer
	if err := buf.Append(hdr.Encode(nil)); err != nil {
		return err
	}
	if err := buf.Append(tokenBuf[:]); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.dev.Write(buf.Bytes())
	return err
}
