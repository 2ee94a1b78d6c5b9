package mqttmount

import (
	"errors"
	"strings"
	"sync"

	"github.com/mqttmount/mqttmount/broker"
	"github.com/mqttmount/mqttmount/fsproto"
	"github.com/mqttmount/mqttmount/topictree"
)

// Filesystem adapts a topictree.Tree and a broker.Client to the
// fsadapter.FileSystem contract (spec.md §4.E). It owns the kernel-facing
// bookkeeping the tree itself has no notion of — the inode table handed
// out to LOOKUP/GETATTR callers, and the open file/directory handle
// tables — while leaving every topic-tree mutation and its locking to
// the Tree.
type Filesystem struct {
	tree   *topictree.Tree
	broker *broker.Client

	mu         sync.Mutex
	inodes     map[uint64]*topictree.Node
	handles    map[uint64]*topictree.Handle
	dirBufs    map[uint64][]byte
	nextHandle uint64
	nextDir    uint64

	// notify is called with a handle's poll token after a WRITE changes
	// the payload of a node that handle is open on. It is wired to
	// (*fsadapter.Server).NotifyPollWakeup after the Server is
	// constructed, since the Server itself depends on this Filesystem
	// (spec.md §4.F).
	notify func(token uint64) error
}

// NewFilesystem constructs a Filesystem rooted at tree's root directory,
// publishing writes through client.
func NewFilesystem(tree *topictree.Tree, client *broker.Client) *Filesystem {
	root := tree.Root()
	return &Filesystem{
		tree:       tree,
		broker:     client,
		inodes:     map[uint64]*topictree.Node{root.Inode(): root},
		handles:    make(map[uint64]*topictree.Handle),
		dirBufs:    make(map[uint64][]byte),
		nextHandle: 1,
		nextDir:    1,
	}
}

// SetNotifier wires the poll-wakeup notification sink. It must be called
// before any WRITE is served, but after the Server notify is constructed
// from this Filesystem — ordering the top-level Context.Run establishes.
func (fs *Filesystem) SetNotifier(notify func(token uint64) error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.notify = notify
}

// OnBrokerPublish is the broker.OnPublish callback: it mirrors an
// incoming PUBLISH into the topic tree and wakes any handle waiting on
// the affected file (spec.md §4.F).
func (fs *Filesystem) OnBrokerPublish(topic string, payload []byte) {
	node, err := fs.tree.InsertPath(topic, payload)
	if err != nil {
		return
	}
	fs.registerNode(node)
	fs.wakeHandles(node)
}

func wireError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, topictree.ErrNotFound):
		return fsproto.ErrNoEnt
	case errors.Is(err, topictree.ErrExists):
		return fsproto.ErrExist
	case errors.Is(err, topictree.ErrNameCollisionWithFile):
		return fsproto.ErrExist
	case errors.Is(err, topictree.ErrNotADirectory):
		return fsproto.ErrNotDir
	case errors.Is(err, topictree.ErrIsADirectory):
		return fsproto.ErrIsDir
	case errors.Is(err, topictree.ErrInvalidName):
		return fsproto.ErrInval
	default:
		return fsproto.ErrIO
	}
}

func attrFor(tree *topictree.Tree, n *topictree.Node) fsproto.Attr {
	st := tree.Stat(n)
	if st.Dir {
		return fsproto.DirAttr(st.Inode)
	}
	return fsproto.FileAttr(st.Inode, uint64(st.Size))
}

func (fs *Filesystem) node(inode uint64) (*topictree.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.inodes[inode]
	if !ok {
		return nil, fsproto.ErrNoEnt
	}
	return n, nil
}

func (fs *Filesystem) registerNode(n *topictree.Node) {
	fs.mu.Lock()
	fs.inodes[n.Inode()] = n
	fs.mu.Unlock()
}

func (fs *Filesystem) handle(id uint64) (*topictree.Handle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, ok := fs.handles[id]
	if !ok {
		return nil, fsproto.ErrInval
	}
	return h, nil
}

func (fs *Filesystem) allocHandle(h *topictree.Handle) uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	id := fs.nextHandle
	fs.nextHandle++
	fs.handles[id] = h
	return id
}

func (fs *Filesystem) wakeHandles(node *topictree.Node) {
	fs.mu.Lock()
	notify := fs.notify
	fs.mu.Unlock()
	if notify == nil {
		return
	}
	for _, token := range fs.tree.HandlesWithPollToken(node) {
		_ = notify(token)
	}
}

func (fs *Filesystem) Lookup(op *fsproto.LookupOp) error {
	parent, err := fs.node(op.Parent)
	if err != nil {
		return err
	}
	child, ok := fs.tree.LookupChild(parent, op.Name)
	if !ok {
		return fsproto.ErrNoEnt
	}
	fs.registerNode(child)
	op.Attr = attrFor(fs.tree, child)
	return nil
}

// Forget is a no-op per spec.md §4.E: the topic tree has no kernel
// reference-count bookkeeping to release. Note this means fs.inodes is
// never pruned, so the inode table grows unbounded over a long-lived
// mount; acceptable at this system's scope (spec.md has no eviction
// policy for it), but a real deployment running for a long time would
// want LOOKUP/FORGET reference counting to bound it.
func (fs *Filesystem) Forget(op *fsproto.ForgetOp) error {
	return nil
}

func (fs *Filesystem) GetAttr(op *fsproto.GetAttrOp) error {
	n, err := fs.node(op.Inode)
	if err != nil {
		return err
	}
	op.Attr = attrFor(fs.tree, n)
	return nil
}

func (fs *Filesystem) Mkdir(op *fsproto.MkdirOp) error {
	parent, err := fs.node(op.Parent)
	if err != nil {
		return err
	}
	child, terr := fs.tree.Mkdir(parent, op.Name)
	if terr != nil {
		return wireError(terr)
	}
	fs.registerNode(child)
	op.Attr = attrFor(fs.tree, child)
	return nil
}

func (fs *Filesystem) Unlink(op *fsproto.UnlinkOp) error {
	parent, err := fs.node(op.Parent)
	if err != nil {
		return err
	}
	if terr := fs.tree.Unlink(parent, op.Name); terr != nil {
		return wireError(terr)
	}
	return nil
}

func (fs *Filesystem) Rmdir(op *fsproto.RmdirOp) error {
	parent, err := fs.node(op.Parent)
	if err != nil {
		return err
	}
	if terr := fs.tree.Rmdir(parent, op.Name); terr != nil {
		return wireError(terr)
	}
	return nil
}

func (fs *Filesystem) Open(op *fsproto.OpenOp) error {
	n, err := fs.node(op.Inode)
	if err != nil {
		return err
	}
	h, terr := fs.tree.AttachHandle(n)
	if terr != nil {
		return wireError(terr)
	}
	op.Handle = fs.allocHandle(h)
	return nil
}

func (fs *Filesystem) Release(op *fsproto.ReleaseOp) error {
	fs.mu.Lock()
	h, ok := fs.handles[op.Handle]
	delete(fs.handles, op.Handle)
	fs.mu.Unlock()
	if !ok {
		return fsproto.ErrInval
	}
	fs.tree.DetachHandle(h)
	return nil
}

func (fs *Filesystem) Read(op *fsproto.ReadOp) error {
	h, err := fs.handle(op.Handle)
	if err != nil {
		return err
	}
	node := h.Node()
	if node == nil {
		return fsproto.ErrInval
	}
	data, terr := fs.tree.ReadAt(node, int(op.Offset), int(op.Size))
	if terr != nil {
		return wireError(terr)
	}
	op.Data = data
	return nil
}

// Write replaces a file's whole payload and publishes it to the broker.
// This filesystem only supports atomic full-content writes: a non-zero
// Offset is rejected with EINVAL rather than attempted as a partial
// update (spec.md §9's Open Question resolution).
func (fs *Filesystem) Write(op *fsproto.WriteOp) error {
	if op.Offset != 0 {
		return fsproto.ErrInval
	}
	h, err := fs.handle(op.Handle)
	if err != nil {
		return err
	}
	node := h.Node()
	if node == nil {
		return fsproto.ErrInval
	}

	if terr := fs.tree.ApplyPayload(node, op.Data); terr != nil {
		return wireError(terr)
	}
	op.Written = uint32(len(op.Data))

	topic := strings.TrimPrefix(node.Path(), "/")
	if perr := fs.broker.Publish(topic, op.Data); perr != nil {
		return fsproto.ErrIO
	}

	fs.wakeHandles(node)
	return nil
}

func (fs *Filesystem) Create(op *fsproto.CreateOp) error {
	parent, err := fs.node(op.Parent)
	if err != nil {
		return err
	}
	child, terr := fs.tree.CreateFile(parent, op.Name)
	if terr != nil {
		return wireError(terr)
	}
	fs.registerNode(child)

	h, terr := fs.tree.AttachHandle(child)
	if terr != nil {
		return wireError(terr)
	}

	op.Attr = attrFor(fs.tree, child)
	op.Handle = fs.allocHandle(h)
	return nil
}

func (fs *Filesystem) Opendir(op *fsproto.OpendirOp) error {
	n, err := fs.node(op.Inode)
	if err != nil {
		return err
	}

	entries, terr := fs.tree.Readdir(n)
	if terr != nil {
		return wireError(terr)
	}
	buf := topictree.MaterializeReaddir(entries)

	fs.mu.Lock()
	id := fs.nextDir
	fs.nextDir++
	fs.dirBufs[id] = buf
	fs.mu.Unlock()

	op.DirHandle = id
	return nil
}

func (fs *Filesystem) Readdir(op *fsproto.ReaddirOp) error {
	fs.mu.Lock()
	buf, ok := fs.dirBufs[op.DirHandle]
	fs.mu.Unlock()
	if !ok {
		return fsproto.ErrInval
	}

	offset := int(op.Offset)
	if offset > len(buf) {
		offset = len(buf)
	}
	end := offset + int(op.Size)
	if end > len(buf) {
		end = len(buf)
	}

	op.Data = append([]byte(nil), buf[offset:end]...)
	return nil
}

func (fs *Filesystem) Releasedir(op *fsproto.ReleasedirOp) error {
	fs.mu.Lock()
	_, ok := fs.dirBufs[op.DirHandle]
	delete(fs.dirBufs, op.DirHandle)
	fs.mu.Unlock()
	if !ok {
		return fsproto.ErrInval
	}
	return nil
}

// Poll reports whether the handle's node has changed since the last
// observed POLL and, if ScheduleNotify is set, arms Token to be reported
// through a later POLL_WAKEUP notification (spec.md §4.E/§4.F).
func (fs *Filesystem) Poll(op *fsproto.PollOp) error {
	h, err := fs.handle(op.Handle)
	if err != nil {
		return err
	}

	wasUpdated := fs.tree.Poll(h, op.Token, op.ScheduleNotify)
	op.Revents = fsproto.PollWritable
	if wasUpdated {
		op.Revents |= fsproto.PollReadable
	}
	return nil
}
