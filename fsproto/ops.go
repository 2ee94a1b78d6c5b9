package fsproto

// LookupOp looks up a child by name within a parent directory. Sent when
// the kernel resolves a path component against its dentry cache.
type LookupOp struct {
	Parent uint64
	Name   string

	// Set by the adapter.
	Attr Attr
}

// ForgetOp is a no-op in this filesystem: the topic tree has no kernel
// reference-count bookkeeping to release.
type ForgetOp struct {
	Inode uint64
}

// GetAttrOp refreshes the attributes for a previously looked-up inode.
type GetAttrOp struct {
	Inode uint64

	Attr Attr
}

// MkdirOp creates an explicit directory child, one that will continue to
// present as a directory even if it is later emptied.
type MkdirOp struct {
	Parent uint64
	Name   string

	Attr Attr
}

// UnlinkOp removes a file child from its parent.
type UnlinkOp struct {
	Parent uint64
	Name   string
}

// RmdirOp removes a directory child, together with its whole subtree, from
// its parent.
type RmdirOp struct {
	Parent uint64
	Name   string
}

// OpenOp allocates a handle on a file inode.
type OpenOp struct {
	Inode uint64

	// Set by the adapter.
	Handle   uint64
	DirectIO bool
}

// ReleaseOp destroys a previously allocated file handle.
type ReleaseOp struct {
	Handle uint64
}

// ReadOp copies a slice of a file's current payload.
type ReadOp struct {
	Handle uint64
	Offset int64
	Size   uint32

	Data []byte
}

// WriteOp replaces a file's entire payload. This filesystem only supports
// atomic full-content writes; Offset must be zero (spec.md §9's Open
// Question resolution returns EINVAL otherwise).
type WriteOp struct {
	Handle uint64
	Offset int64
	Data   []byte

	Written uint32
}

// CreateOp creates a file child and opens it in the same round trip.
type CreateOp struct {
	Parent uint64
	Name   string

	Attr   Attr
	Handle uint64
}

// OpendirOp materializes a readdir buffer for a directory inode: ".",
// "..", then children in name order.
type OpendirOp struct {
	Inode uint64

	DirHandle uint64
}

// ReaddirOp returns a slice of a previously materialized readdir buffer.
type ReaddirOp struct {
	DirHandle uint64
	Offset    uint32
	Size      uint32

	Data []byte
}

// ReleasedirOp frees the buffer behind a directory handle.
type ReleasedirOp struct {
	DirHandle uint64
}

// PollOp reports current readiness for a file handle and, if requested,
// registers the handle to be woken by a later POLL_WAKEUP notification.
type PollOp struct {
	Handle         uint64
	Token          uint64
	ScheduleNotify bool

	Revents uint32
}

// Poll revents bits.
const (
	PollWritable uint32 = 1 << 0
	PollReadable uint32 = 1 << 1
)
