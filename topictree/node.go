// Package topictree implements the hierarchical, mutex-protected in-memory
// node store described in spec.md §3–§4.C: a tree of named directory and
// file nodes, with per-file payloads and open-handle tracking for poll
// wakeups.
//
// The shape is grounded on the teacher's samples/memfs package (an
// in-memory inode table behind a single fuseutil.FileSystem, each inode
// guarded by its own syncutil.InvariantMutex), adapted from a POSIX
// attribute/symlink/hardlink model to this spec's simpler directory-or-file,
// single-payload model: spec.md §3's "tagged union for node kind" design
// note replaces memfs's untagged os.FileMode bit tests.
package topictree

import (
	"time"

	"github.com/jacobsa/timeutil"
)

// Kind discriminates a Node's shape, per spec.md §3's tagged-union design
// note: kind-mismatched access is a structural impossibility because the
// payload/handles fields are only meaningful for Kind == File and the
// children map is only meaningful for Kind == Directory.
type Kind int

const (
	Directory Kind = iota
	File
)

// Handle is an ephemeral record attached to a file Node for the lifetime of
// an open file descriptor in the kernel (spec.md §3, "Open handle").
type Handle struct {
	node *Node

	// PollToken is the opaque identifier the kernel supplied when it last
	// asked to be woken on this handle via POLL. Zero means no outstanding
	// poll registration.
	PollToken uint64

	// Updated is set when the node's payload has changed since the last
	// POLL query observed it. It is not cleared by the publish that sets
	// it — only a subsequent POLL clears it (spec.md §4.E).
	Updated bool
}

// Node returns the file node this handle was attached to.
func (h *Handle) Node() *Node { return h.node }

// Node is a named entity in the topic tree: either a directory (with
// children) or a file (with a payload and open handles). See spec.md §3 for
// field-level invariants.
type Node struct {
	name string
	kind Kind

	atime time.Time
	mtime time.Time

	// explicitDir is set for the root and for nodes created by an explicit
	// MKDIR request, so that an otherwise-empty directory still presents as a
	// directory (spec.md §3's presentation invariant).
	explicitDir bool

	// children is non-nil only for directories. Kept as a map for O(1)
	// lookup/insert/remove; Walk returns entries in name-sorted order to
	// satisfy spec.md §4.C's deterministic-readdir requirement, matching
	// the teacher's memfs convention of keeping listings stable.
	children map[string]*Node

	// payload and handles are meaningful only for files.
	payload []byte
	handles map[*Handle]struct{}

	// inode is a stable identifier for this node, handed out by the owning
	// Tree when the node is created; used by the filesystem adapter for
	// attribute derivation (spec.md §4.E).
	inode uint64

	// path is the node's full slash-separated topic path from the root,
	// fixed at creation time. There is no rename or move operation in this
	// filesystem, so a node's path never changes once created; storing it
	// directly avoids needing parent pointers just to recover the topic a
	// WRITE should publish to.
	path string
}

func newDirectory(name, path string, inode uint64, clock timeutil.Clock, explicit bool) *Node {
	now := clock.Now()
	return &Node{
		name:        name,
		path:        path,
		kind:        Directory,
		atime:       now,
		mtime:       now,
		explicitDir: explicit,
		children:    make(map[string]*Node),
		inode:       inode,
	}
}

func newFile(name, path string, inode uint64, clock timeutil.Clock) *Node {
	now := clock.Now()
	return &Node{
		name:    name,
		path:    path,
		kind:    File,
		atime:   now,
		mtime:   now,
		handles: make(map[*Handle]struct{}),
		inode:   inode,
	}
}

// Name returns the node's path segment.
func (n *Node) Name() string { return n.name }

// Path returns the node's full slash-separated path from the tree root
// (no leading slash), the topic a WRITE through this node publishes to.
func (n *Node) Path() string { return n.path }

// Inode returns the node's stable identifier.
func (n *Node) Inode() uint64 { return n.inode }

// IsDir reports whether n is presented as a directory: it was created
// explicitly as one, or it has at least one child (spec.md §3).
func (n *Node) IsDir() bool {
	return n.kind == Directory && (n.explicitDir || len(n.children) > 0)
}

// Size returns the payload length for a file, or 0 for a directory
// (spec.md §4.E's attribute-derivation rule).
func (n *Node) Size() int {
	if n.kind != File {
		return 0
	}
	return len(n.payload)
}

// Times returns the node's last-access and last-modification timestamps.
func (n *Node) Times() (atime, mtime time.Time) {
	return n.atime, n.mtime
}

// Payload returns the file's current contents. Callers must not mutate the
// returned slice; use Tree.ApplyPayload to replace it.
func (n *Node) Payload() []byte {
	return n.payload
}
