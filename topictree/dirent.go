package topictree

import "encoding/binary"

// EncodeDirent appends the wire encoding of one directory entry to buf,
// returning the result. The format — inode, a directory flag, a 16-bit name
// length, then the name bytes — plays the same role as the teacher's
// fuseutil.WriteDirent (which packs a fuse_dirent struct for the Linux
// kernel), but is our own simpler format since the filesystem adapter here
// materializes OPENDIR buffers for its own wire protocol rather than the
// literal Linux VFS one.
func EncodeDirent(buf []byte, e Entry) []byte {
	var dirFlag byte
	if e.Dir {
		dirFlag = 1
	}

	var hdr [11]byte
	binary.BigEndian.PutUint64(hdr[0:8], e.Inode)
	hdr[8] = dirFlag
	binary.BigEndian.PutUint16(hdr[9:11], uint16(len(e.Name)))

	buf = append(buf, hdr[:]...)
	buf = append(buf, e.Name...)
	return buf
}

// MaterializeReaddir encodes the full ordered entry list produced by
// Tree.Readdir into a single buffer, the "readdir buffer" spec.md §4.E's
// OPENDIR operation builds once per directory handle.
func MaterializeReaddir(entries []Entry) []byte {
	var buf []byte
	for _, e := range entries {
		buf = EncodeDirent(buf, e)
	}
	return buf
}
