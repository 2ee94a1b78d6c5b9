package fsproto

// Mode bits for the two kinds of node this filesystem ever presents,
// per spec.md §4.E's attribute-derivation rule. There is no symlink or
// special-file kind, unlike the teacher's full POSIX attribute model.
const (
	ModeDir  uint32 = 0040000 | 0755
	ModeFile uint32 = 0100000 | 0644
)

// Attr is the wire representation of a node's attributes, returned by
// LOOKUP, GETATTR, MKDIR, and CREATE.
type Attr struct {
	Inode uint64
	Mode  uint32
	Size  uint64
	Nlink uint32
}

// DirAttr builds the Attr for a directory node.
func DirAttr(inode uint64) Attr {
	return Attr{Inode: inode, Mode: ModeDir, Size: 0, Nlink: 2}
}

// FileAttr builds the Attr for a file node of the given payload size.
func FileAttr(inode uint64, size uint64) Attr {
	return Attr{Inode: inode, Mode: ModeFile, Size: size, Nlink: 1}
}

// Encode appends a's fixed-width wire encoding to dst.
func (a Attr) Encode(dst []byte) []byte {
	var buf [24]byte
	putUint64(buf[0:8], a.Inode)
	putUint32(buf[8:12], a.Mode)
	putUint64(buf[12:20], a.Size)
	putUint32(buf[20:24], a.Nlink)
	return append(dst, buf[:]...)
}

// DecodeAttr reads an Attr from the front of buf.
func DecodeAttr(buf []byte) (Attr, int, error) {
	const size = 24
	if len(buf) < size {
		return Attr{}, 0, errShortAttr
	}
	return Attr{
		Inode: getUint64(buf[0:8]),
		Mode:  getUint32(buf[8:12]),
		Size:  getUint64(buf[12:20]),
		Nlink: getUint32(buf[20:24]),
	}, size, nil
}
