package fs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvkernel/internal/blockdev"
	"rvkernel/internal/fs"
)

func newTestDevice(t *testing.T) *blockdev.Memory {
	t.Helper()
	return blockdev.NewMemory(2048)
}

func TestDeriveLayoutPartitionsExactly(t *testing.T) {
	l := fs.DeriveLayout(2048, 1)
	require.Equal(t, 2048, 1+l.InodeBitmapBlocks+l.InodeAreaBlocks+l.DataBitmapBlocks+l.DataAreaBlocks)
	require.Equal(t, 1, l.InodeBitmapStart)
	require.Equal(t, l.InodeBitmapStart+l.InodeBitmapBlocks, l.InodeAreaStart)
	require.Equal(t, l.InodeAreaStart+l.InodeAreaBlocks, l.DataBitmapStart)
	require.Equal(t, l.DataBitmapStart+l.DataBitmapBlocks, l.DataAreaStart)
}

func TestCreateFormatsRootAsEmptyDirectory(t *testing.T) {
	fsys := fs.Create(newTestDevice(t), 2048, 1)
	root := fsys.Root()
	require.Empty(t, root.Ls())
	size, typ := root.Stat()
	require.Zero(t, size)
	require.Equal(t, fs.TypeDir, typ)
}

func TestFileRoundTrip(t *testing.T) {
	fsys := fs.Create(newTestDevice(t), 2048, 1)
	root := fsys.Root()

	f, err := root.Create("t")
	require.NoError(t, err)

	n := f.WriteAt(0, []byte("abc"))
	require.Equal(t, 3, n)

	buf := make([]byte, 8)
	got := f.ReadAt(0, buf)
	require.Equal(t, 3, got)
	require.Equal(t, "abc", string(buf[:got]))
}

func TestPersistenceAcrossSyncAllAndReopen(t *testing.T) {
	dev := newTestDevice(t)
	fsys := fs.Create(dev, 2048, 1)
	root := fsys.Root()
	f, err := root.Create("t")
	require.NoError(t, err)
	f.WriteAt(0, []byte("abc"))
	fsys.SyncAll()

	reopened, err := fs.OpenFS(dev)
	require.NoError(t, err)
	names := reopened.Root().Ls()
	require.Equal(t, []string{"t"}, names)

	again, ok := reopened.Root().Find("t")
	require.True(t, ok)
	buf := make([]byte, 8)
	got := again.ReadAt(0, buf)
	require.Equal(t, "abc", string(buf[:got]))
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	fsys := fs.Create(newTestDevice(t), 2048, 1)
	root := fsys.Root()
	_, err := root.Create("dup")
	require.NoError(t, err)
	_, err = root.Create("dup")
	require.Error(t, err)
}

func TestUnlinkRemovesEntryAndFreesInode(t *testing.T) {
	fsys := fs.Create(newTestDevice(t), 2048, 1)
	root := fsys.Root()
	_, err := root.Create("a")
	require.NoError(t, err)
	_, err = root.Create("b")
	require.NoError(t, err)

	require.NoError(t, root.Unlink("a"))
	require.ElementsMatch(t, []string{"b"}, root.Ls())

	_, ok := root.Find("a")
	require.False(t, ok)
}

func TestUnlinkFreedInodeIsReusedByNextCreate(t *testing.T) {
	fsys := fs.Create(newTestDevice(t), 2048, 1)
	root := fsys.Root()
	first, err := root.Create("a")
	require.NoError(t, err)
	firstID := first.ID()

	require.NoError(t, root.Unlink("a"))
	second, err := root.Create("c")
	require.NoError(t, err)
	require.Equal(t, firstID, second.ID(), "a freed inode bit should be reused before the allocator advances")
}

func TestWriteSpanningMultipleDataBlocksReadsBackIdentically(t *testing.T) {
	fsys := fs.Create(blockdev.NewMemory(4096), 4096, 2)
	root := fsys.Root()
	f, err := root.Create("big")
	require.NoError(t, err)

	data := make([]byte, 3*512+17)
	for i := range data {
		data[i] = byte(i)
	}
	n := f.WriteAt(0, data)
	require.Equal(t, len(data), n)

	buf := make([]byte, len(data))
	got := f.ReadAt(0, buf)
	require.Equal(t, len(data), got)
	require.Equal(t, data, buf)
}

func TestWriteSpanningIndirectBlockReadsBackIdentically(t *testing.T) {
	fsys := fs.Create(blockdev.NewMemory(1<<16), 1<<16, 4)
	root := fsys.Root()
	f, err := root.Create("huge")
	require.NoError(t, err)

	// 28 direct blocks * 512 = 14336 bytes; starting exactly there forces
	// block index 28, which only the indirect1 pointer can address.
	offset := 28 * 512
	data := []byte("first byte of the indirect1 block")
	n := f.WriteAt(offset, data)
	require.Equal(t, len(data), n)

	buf := make([]byte, len(data))
	got := f.ReadAt(offset, buf)
	require.Equal(t, len(data), got)
	require.Equal(t, data, buf)
}

func TestReadPastEndOfFileReturnsFewerBytes(t *testing.T) {
	fsys := fs.Create(newTestDevice(t), 2048, 1)
	root := fsys.Root()
	f, err := root.Create("t")
	require.NoError(t, err)
	f.WriteAt(0, []byte("ab"))

	buf := make([]byte, 10)
	n := f.ReadAt(0, buf)
	require.Equal(t, 2, n)
}

func TestOpenFSRejectsBadMagic(t *testing.T) {
	dev := blockdev.NewMemory(8)
	_, err := fs.OpenFS(dev)
	require.Error(t, err)
}
