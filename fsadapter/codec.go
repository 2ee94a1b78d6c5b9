package fsadapter

import (
	"encoding/binary"
	"fmt"

	"github.com/mqttmount/mqttmount/fsproto"
)

// decodeRequest turns a request header plus its body bytes into the typed
// Op fsproto defines for hdr.Opcode. hdr.NodeID plays the role of the
// parent inode for name-taking ops and the target inode for the rest, per
// spec.md §4.E's operation table.
func decodeRequest(hdr fsproto.RequestHeader, body []byte) (op interface{}, err error) {
	switch hdr.Opcode {
	case fsproto.OpLookup:
		name, _, err := fsproto.ReadString(body)
		if err != nil {
			return nil, err
		}
		return &fsproto.LookupOp{Parent: hdr.NodeID, Name: name}, nil

	case fsproto.OpForget:
		return &fsproto.ForgetOp{Inode: hdr.NodeID}, nil

	case fsproto.OpGetAttr:
		return &fsproto.GetAttrOp{Inode: hdr.NodeID}, nil

	case fsproto.OpMkdir:
		name, _, err := fsproto.ReadString(body)
		if err != nil {
			return nil, err
		}
		return &fsproto.MkdirOp{Parent: hdr.NodeID, Name: name}, nil

	case fsproto.OpUnlink:
		name, _, err := fsproto.ReadString(body)
		if err != nil {
			return nil, err
		}
		return &fsproto.UnlinkOp{Parent: hdr.NodeID, Name: name}, nil

	case fsproto.OpRmdir:
		name, _, err := fsproto.ReadString(body)
		if err != nil {
			return nil, err
		}
		return &fsproto.RmdirOp{Parent: hdr.NodeID, Name: name}, nil

	case fsproto.OpOpen:
		return &fsproto.OpenOp{Inode: hdr.NodeID}, nil

	case fsproto.OpRelease:
		if len(body) < 8 {
			return nil, fmt.Errorf("fsadapter: short RELEASE body")
		}
		return &fsproto.ReleaseOp{Handle: binary.BigEndian.Uint64(body[0:8])}, nil

	case fsproto.OpRead:
		if len(body) < 20 {
			return nil, fmt.Errorf("fsadapter: short READ body")
		}
		return &fsproto.ReadOp{
			Handle: binary.BigEndian.Uint64(body[0:8]),
			Offset: int64(binary.BigEndian.Uint64(body[8:16])),
			Size:   binary.BigEndian.Uint32(body[16:20]),
		}, nil

	case fsproto.OpWrite:
		if len(body) < 16 {
			return nil, fmt.Errorf("fsadapter: short WRITE body")
		}
		data := append([]byte(nil), body[16:]...)
		return &fsproto.WriteOp{
			Handle: binary.BigEndian.Uint64(body[0:8]),
			Offset: int64(binary.BigEndian.Uint64(body[8:16])),
			Data:   data,
		}, nil

	case fsproto.OpCreate:
		name, _, err := fsproto.ReadString(body)
		if err != nil {
			return nil, err
		}
		return &fsproto.CreateOp{Parent: hdr.NodeID, Name: name}, nil

	case fsproto.OpOpendir:
		return &fsproto.OpendirOp{Inode: hdr.NodeID}, nil

	case fsproto.OpReaddir:
		if len(body) < 16 {
			return nil, fmt.Errorf("fsadapter: short READDIR body")
		}
		return &fsproto.ReaddirOp{
			DirHandle: binary.BigEndian.Uint64(body[0:8]),
			Offset:    binary.BigEndian.Uint32(body[8:12]),
			Size:      binary.BigEndian.Uint32(body[12:16]),
		}, nil

	case fsproto.OpReleasedir:
		if len(body) < 8 {
			return nil, fmt.Errorf("fsadapter: short RELEASEDIR body")
		}
		return &fsproto.ReleasedirOp{DirHandle: binary.BigEndian.Uint64(body[0:8])}, nil

	case fsproto.OpPoll:
		if len(body) < 17 {
			return nil, fmt.Errorf("fsadapter: short POLL body")
		}
		return &fsproto.PollOp{
			Handle:         binary.BigEndian.Uint64(body[0:8]),
			Token:          binary.BigEndian.Uint64(body[8:16]),
			ScheduleNotify: body[16] != 0,
		}, nil

	default:
		return nil, nil // unknown opcode: caller replies ENOSYS
	}
}

// encodeResponseBody serializes the output fields of a dispatched Op into
// the reply body. Ops with no output (Forget, Unlink, Rmdir, Release,
// Releasedir) produce an empty body.
func encodeResponseBody(op interface{}) []byte {
	switch o := op.(type) {
	case *fsproto.LookupOp:
		return o.Attr.Encode(nil)
	case *fsproto.GetAttrOp:
		return o.Attr.Encode(nil)
	case *fsproto.MkdirOp:
		return o.Attr.Encode(nil)
	case *fsproto.OpenOp:
		buf := make([]byte, 9)
		binary.BigEndian.PutUint64(buf[0:8], o.Handle)
		if o.DirectIO {
			buf[8] = 1
		}
		return buf
	case *fsproto.ReadOp:
		return o.Data
	case *fsproto.WriteOp:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, o.Written)
		return buf
	case *fsproto.CreateOp:
		buf := o.Attr.Encode(nil)
		handleBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(handleBuf, o.Handle)
		return append(buf, handleBuf...)
	case *fsproto.OpendirOp:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, o.DirHandle)
		return buf
	case *fsproto.ReaddirOp:
		return o.Data
	case *fsproto.PollOp:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, o.Revents)
		return buf
	default:
		return nil
	}
}
