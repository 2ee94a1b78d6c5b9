package topictree_test

import (
	"testing"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/require"

	"github.com/mqttmount/mqttmount/topictree"
)

func newTestTree() *topictree.Tree {
	return topictree.New(timeutil.RealClock())
}

func TestInsertPathThenReadYieldsPayload(t *testing.T) {
	tr := newTestTree()

	leaf, err := tr.InsertPath("sensors/temp", []byte("21.5"))
	require.NoError(t, err)
	require.False(t, leaf.IsDir())

	got, err := tr.ReadAt(leaf, 0, 1024)
	require.NoError(t, err)
	require.Equal(t, []byte("21.5"), got)
}

func TestInsertPathCreatesImplicitDirectories(t *testing.T) {
	tr := newTestTree()

	_, err := tr.InsertPath("a/b/c", []byte("x"))
	require.NoError(t, err)

	a, err := tr.Find("a")
	require.NoError(t, err)
	require.True(t, a.IsDir())

	b, err := tr.Find("a/b")
	require.NoError(t, err)
	require.True(t, b.IsDir())

	c, err := tr.Find("a/b/c")
	require.NoError(t, err)
	require.False(t, c.IsDir())
}

func TestDirectoryListingShowsChildNamesAndKinds(t *testing.T) {
	tr := newTestTree()
	_, err := tr.InsertPath("a/b/c", []byte("1"))
	require.NoError(t, err)
	_, err = tr.InsertPath("a/d", []byte("2"))
	require.NoError(t, err)

	aNode, err := tr.Find("a")
	require.NoError(t, err)
	entries, err := tr.Readdir(aNode)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = e.Dir
	}
	require.Len(t, entries, 4) // ".", "..", "b", "d"
	require.True(t, names["b"])
	require.False(t, names["d"])

	bNode, err := tr.Find("a/b")
	require.NoError(t, err)
	bEntries, err := tr.Readdir(bNode)
	require.NoError(t, err)
	require.Len(t, bEntries, 3) // ".", "..", "c"
}

func TestSecondPublishToSameTopicReplacesPayload(t *testing.T) {
	tr := newTestTree()

	leaf, err := tr.InsertPath("a", []byte("X"))
	require.NoError(t, err)
	_, err = tr.InsertPath("a", []byte("Y"))
	require.NoError(t, err)

	got, err := tr.ReadAt(leaf, 0, 1024)
	require.NoError(t, err)
	require.Equal(t, []byte("Y"), got)
}

func TestInsertPathFailsOnNameCollisionWithFile(t *testing.T) {
	tr := newTestTree()
	_, err := tr.InsertPath("a", []byte("leaf"))
	require.NoError(t, err)

	_, err = tr.InsertPath("a/b", []byte("x"))
	require.ErrorIs(t, err, topictree.ErrNameCollisionWithFile)
}

func TestMkdirRejectsDuplicateName(t *testing.T) {
	tr := newTestTree()
	root := tr.Root()

	_, err := tr.Mkdir(root, "x")
	require.NoError(t, err)

	_, err = tr.Mkdir(root, "x")
	require.ErrorIs(t, err, topictree.ErrExists)
}

func TestMkdirCreateFileWriteThenGetAttr(t *testing.T) {
	tr := newTestTree()
	root := tr.Root()

	dir, err := tr.Mkdir(root, "x")
	require.NoError(t, err)

	file, err := tr.CreateFile(dir, "y")
	require.NoError(t, err)

	require.NoError(t, tr.ApplyPayload(file, []byte("hi")))
	require.Equal(t, 2, file.Size())
}

func TestUnlinkDetachesHandles(t *testing.T) {
	tr := newTestTree()
	leaf, err := tr.InsertPath("t", []byte("v"))
	require.NoError(t, err)

	h, err := tr.AttachHandle(leaf)
	require.NoError(t, err)

	root := tr.Root()
	require.NoError(t, tr.Unlink(root, "t"))
	require.Nil(t, h.Node())
}

func TestRmdirRejectsFile(t *testing.T) {
	tr := newTestTree()
	root := tr.Root()
	_, err := tr.InsertPath("f", []byte("v"))
	require.NoError(t, err)

	err = tr.Rmdir(root, "f")
	require.ErrorIs(t, err, topictree.ErrNotADirectory)
}

func TestReadAtOffsetBoundaries(t *testing.T) {
	tr := newTestTree()
	leaf, err := tr.InsertPath("f", []byte("hello"))
	require.NoError(t, err)

	got, err := tr.ReadAt(leaf, 5, 10)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = tr.ReadAt(leaf, 3, 10)
	require.NoError(t, err)
	require.Equal(t, []byte("lo"), got)
}

func TestApplyPayloadMarksHandlesUpdated(t *testing.T) {
	tr := newTestTree()
	leaf, err := tr.InsertPath("t", []byte("a"))
	require.NoError(t, err)

	h, err := tr.AttachHandle(leaf)
	require.NoError(t, err)
	require.False(t, h.Updated)

	require.NoError(t, tr.ApplyPayload(leaf, []byte("b")))
	require.True(t, h.Updated)
}

func TestWalkStopsEarlyWhenVisitReturnsFalse(t *testing.T) {
	tr := newTestTree()
	_, err := tr.InsertPath("a", []byte("1"))
	require.NoError(t, err)
	_, err = tr.InsertPath("b", []byte("2"))
	require.NoError(t, err)
	_, err = tr.InsertPath("c", []byte("3"))
	require.NoError(t, err)

	var seen []string
	err = tr.Walk(tr.Root(), func(e topictree.Entry) bool {
		seen = append(seen, e.Name)
		return e.Name != "a"
	})
	require.NoError(t, err)
	require.Equal(t, []string{".", "..", "a"}, seen)
}

func TestStatReportsInodeDirAndSize(t *testing.T) {
	tr := newTestTree()
	leaf, err := tr.InsertPath("f", []byte("hello"))
	require.NoError(t, err)

	st := tr.Stat(leaf)
	require.Equal(t, leaf.Inode(), st.Inode)
	require.False(t, st.Dir)
	require.Equal(t, 5, st.Size)

	dirSt := tr.Stat(tr.Root())
	require.True(t, dirSt.Dir)
}

func TestPollClearsUpdatedAndRearmsTokenWhenScheduled(t *testing.T) {
	tr := newTestTree()
	leaf, err := tr.InsertPath("t", []byte("a"))
	require.NoError(t, err)

	h, err := tr.AttachHandle(leaf)
	require.NoError(t, err)
	require.NoError(t, tr.ApplyPayload(leaf, []byte("b")))

	was := tr.Poll(h, 42, true)
	require.True(t, was)
	require.False(t, h.Updated)
	require.Equal(t, uint64(42), h.PollToken)

	was = tr.Poll(h, 42, true)
	require.False(t, was)
}

func TestPollClearsTokenWhenNotScheduled(t *testing.T) {
	tr := newTestTree()
	leaf, err := tr.InsertPath("t", []byte("a"))
	require.NoError(t, err)

	h, err := tr.AttachHandle(leaf)
	require.NoError(t, err)
	require.NoError(t, tr.ApplyPayload(leaf, []byte("b")))

	was := tr.Poll(h, 42, false)
	require.True(t, was)
	require.Equal(t, uint64(0), h.PollToken)
}
