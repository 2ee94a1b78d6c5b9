package fsadapter

import "github.com/mqttmount/mqttmount/fsproto"

// FileSystem has one method per opcode in spec.md §4.E's operation table.
// Each method fills in the Op's output fields and returns nil on success,
// or a fsproto.WireError (fsproto.ErrNoEnt, fsproto.ErrExist, ...) to
// control the Errno written back to the kernel device. Any other
// non-nil error is reported as EIO.
type FileSystem interface {
	Lookup(*fsproto.LookupOp) error
	Forget(*fsproto.ForgetOp) error
	GetAttr(*fsproto.GetAttrOp) error
	Mkdir(*fsproto.MkdirOp) error
	Unlink(*fsproto.UnlinkOp) error
	Rmdir(*fsproto.RmdirOp) error
	Open(*fsproto.OpenOp) error
	Release(*fsproto.ReleaseOp) error
	Read(*fsproto.ReadOp) error
	Write(*fsproto.WriteOp) error
	Create(*fsproto.CreateOp) error
	Opendir(*fsproto.OpendirOp) error
	Readdir(*fsproto.ReaddirOp) error
	Releasedir(*fsproto.ReleasedirOp) error
	Poll(*fsproto.PollOp) error
}
