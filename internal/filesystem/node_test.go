package filesystem

import (
	"io"
	"syscall"
	"testing"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/stretchr/testify/require"
)

// lookupPath resolves path through the [fs.Node] graph of the [FS].
func lookupPath(t *testing.T, fsys *FS, names ...string) fs.Node {
	t.Helper()

	node, err := fsys.Root()
	require.NoError(t, err)

	for _, name := range names {
		dn, ok := node.(*dirNode)
		require.True(t, ok, "not a directory before %q", name)

		node, err = dn.Lookup(t.Context(), name)
		require.NoError(t, err)
	}

	return node
}

// Expectation: Attr should fill in the [fuse.Attr] with the synthesized values.
func Test_dirNode_Attr_Success(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)
	node := lookupPath(t, fsys, "data")

	var attr fuse.Attr
	require.NoError(t, node.Attr(t.Context(), &attr))

	want, err := fsys.Stat("/data")
	require.NoError(t, err)
	require.Equal(t, want, attr)
}

// Expectation: Attr should keep fields that are not synthesized.
func Test_dirNode_Attr_KeepsValid_Success(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)
	node := lookupPath(t, fsys)

	attr := fuse.Attr{Valid: 42}
	require.NoError(t, node.Attr(t.Context(), &attr))
	require.EqualValues(t, 42, attr.Valid)
	require.NotZero(t, attr.Inode)
}

// Expectation: Lookup should return the matching node type for children.
func Test_dirNode_Lookup_Success(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)

	_, ok := lookupPath(t, fsys, "data").(*dirNode)
	require.True(t, ok)

	_, ok = lookupPath(t, fsys, "data", "sound").(*dirNode)
	require.True(t, ok)

	fn, ok := lookupPath(t, fsys, "data", "sound", "bgm.sseq").(*fileNode)
	require.True(t, ok)
	require.Equal(t, "/data/sound/bgm.sseq", fn.entry.Path())
}

// Expectation: A lookup on a non-existing entry should return ENOENT.
func Test_dirNode_Lookup_NotFound_Error(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)
	dn := lookupPath(t, fsys).(*dirNode) //nolint:forcetypeassert

	for _, name := range []string{"missing", ".", "..", "", "DATA"} {
		node, err := dn.Lookup(t.Context(), name)
		require.ErrorIs(t, err, fuse.ToErrno(syscall.ENOENT), name)
		require.Nil(t, node)
	}
}

// Expectation: Open should set the caching flags and return a releasable handle.
func Test_dirNode_Open_Success(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)
	dn := lookupPath(t, fsys, "data").(*dirNode) //nolint:forcetypeassert

	resp := &fuse.OpenResponse{}
	handle, err := dn.Open(t.Context(), &fuse.OpenRequest{Dir: true, Flags: fuse.OpenReadOnly}, resp)
	require.NoError(t, err)
	require.NotZero(t, resp.Flags&fuse.OpenKeepCache)
	require.NotZero(t, resp.Flags&fuse.OpenCacheDir)

	dh, ok := handle.(*dirHandle)
	require.True(t, ok)
	require.Same(t, dn, dh.dirNode)
	require.Equal(t, int64(1), fsys.Metrics.OpenHandles.Load())

	dirents, err := dh.ReadDirAll(t.Context())
	require.NoError(t, err)
	require.Len(t, dirents, 5)

	require.NoError(t, dh.Release(t.Context(), &fuse.ReleaseRequest{Dir: true}))
	require.Zero(t, fsys.Metrics.OpenHandles.Load())
}

// Expectation: Open should not set any caching flags with strict caching.
func Test_dirNode_Open_StrictCache_Success(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)
	fsys.Options.StrictCache = true

	dn := lookupPath(t, fsys).(*dirNode) //nolint:forcetypeassert

	resp := &fuse.OpenResponse{}
	_, err := dn.Open(t.Context(), &fuse.OpenRequest{Dir: true, Flags: fuse.OpenReadOnly}, resp)
	require.NoError(t, err)
	require.Zero(t, resp.Flags&fuse.OpenKeepCache)
	require.Zero(t, resp.Flags&fuse.OpenCacheDir)
}

// Expectation: Open should deny write access with EACCES.
func Test_dirNode_Open_WriteAccess_Error(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)
	dn := lookupPath(t, fsys).(*dirNode) //nolint:forcetypeassert

	handle, err := dn.Open(t.Context(), &fuse.OpenRequest{Dir: true, Flags: fuse.OpenReadWrite}, &fuse.OpenResponse{})
	require.ErrorIs(t, err, fuse.ToErrno(syscall.EACCES))
	require.Nil(t, handle)
}

// Expectation: ReadDirAll should list ".", ".." and all children with their types and inodes.
func Test_dirNode_ReadDirAll_Success(t *testing.T) {
	t.Parallel()

	fsys, rom := testFS(t, io.Discard)
	dn := lookupPath(t, fsys, "data").(*dirNode) //nolint:forcetypeassert

	dirents, err := dn.ReadDirAll(t.Context())
	require.NoError(t, err)

	root := uint64(rom.Dirs["/"])
	data := uint64(rom.Dirs["/data"])

	require.Equal(t, []fuse.Dirent{
		{Inode: root<<8 | data, Type: fuse.DT_Dir, Name: "."},
		{Inode: root<<8 | root, Type: fuse.DT_Dir, Name: ".."},
		{Inode: data<<8 | uint64(rom.Files["/data/level1.bin"]), Type: fuse.DT_File, Name: "level1.bin"},
		{Inode: data<<8 | uint64(rom.Files["/data/empty.bin"]), Type: fuse.DT_File, Name: "empty.bin"},
		{Inode: data<<8 | uint64(rom.Dirs["/data/sound"]), Type: fuse.DT_Dir, Name: "sound"},
	}, dirents)
}

// Expectation: Create should fail with EROFS for a new name.
func Test_dirNode_Create_ReadOnly_Error(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)
	dn := lookupPath(t, fsys, "data").(*dirNode) //nolint:forcetypeassert

	req := &fuse.CreateRequest{Name: "new.bin", Flags: fuse.OpenWriteOnly | fuse.OpenCreate | fuse.OpenExclusive, Mode: 0o644}
	node, handle, err := dn.Create(t.Context(), req, &fuse.CreateResponse{})
	require.ErrorIs(t, err, fuse.ToErrno(syscall.EROFS))
	require.Nil(t, node)
	require.Nil(t, handle)
	require.Zero(t, fsys.Metrics.OpenHandles.Load())
}

// Expectation: Create should open an existing name, as long as the access is read-only.
func Test_dirNode_Create_Existing_Success(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)
	dn := lookupPath(t, fsys, "data").(*dirNode) //nolint:forcetypeassert

	req := &fuse.CreateRequest{Name: "level1.bin", Flags: fuse.OpenReadOnly | fuse.OpenCreate}
	node, handle, err := dn.Create(t.Context(), req, &fuse.CreateResponse{})
	require.NoError(t, err)

	_, ok := node.(*fileNode)
	require.True(t, ok)

	fh, ok := handle.(*fileHandle)
	require.True(t, ok)
	require.NoError(t, fh.Release(t.Context(), &fuse.ReleaseRequest{}))

	req = &fuse.CreateRequest{Name: "level1.bin", Flags: fuse.OpenWriteOnly | fuse.OpenCreate}
	_, _, err = dn.Create(t.Context(), req, &fuse.CreateResponse{})
	require.ErrorIs(t, err, fuse.ToErrno(syscall.EACCES))
}

// Expectation: Attr should fill in the [fuse.Attr] with the synthesized values.
func Test_fileNode_Attr_Success(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)
	node := lookupPath(t, fsys, "readme.txt")

	var attr fuse.Attr
	require.NoError(t, node.Attr(t.Context(), &attr))

	want, err := fsys.Stat("/readme.txt")
	require.NoError(t, err)
	require.Equal(t, want, attr)
	require.Equal(t, uint64(19), attr.Size)
}

// Expectation: Open should set the caching flag and return a readable handle.
func Test_fileNode_Open_Read_Success(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)
	fn := lookupPath(t, fsys, "data", "sound", "bgm.sseq").(*fileNode) //nolint:forcetypeassert

	resp := &fuse.OpenResponse{}
	handle, err := fn.Open(t.Context(), &fuse.OpenRequest{Flags: fuse.OpenReadOnly}, resp)
	require.NoError(t, err)
	require.NotZero(t, resp.Flags&fuse.OpenKeepCache)

	fh, ok := handle.(*fileHandle)
	require.True(t, ok)

	rresp := &fuse.ReadResponse{}
	require.NoError(t, fh.Read(t.Context(), &fuse.ReadRequest{Offset: 5, Size: 100}, rresp))
	require.Equal(t, []byte("music"), rresp.Data)

	rresp = &fuse.ReadResponse{}
	require.NoError(t, fh.Read(t.Context(), &fuse.ReadRequest{Offset: 10, Size: 100}, rresp))
	require.Empty(t, rresp.Data)

	rresp = &fuse.ReadResponse{}
	err = fh.Read(t.Context(), &fuse.ReadRequest{Offset: -1, Size: 100}, rresp)
	require.ErrorIs(t, err, fuse.ToErrno(syscall.EINVAL))

	require.NoError(t, fh.Release(t.Context(), &fuse.ReleaseRequest{}))

	err = fh.Read(t.Context(), &fuse.ReadRequest{Offset: 0, Size: 100}, &fuse.ReadResponse{})
	require.ErrorIs(t, err, fuse.ToErrno(syscall.EBADF))
}

// Expectation: Open should deny write access with EACCES.
func Test_fileNode_Open_WriteAccess_Error(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)
	fn := lookupPath(t, fsys, "readme.txt").(*fileNode) //nolint:forcetypeassert

	for _, flags := range []fuse.OpenFlags{fuse.OpenWriteOnly, fuse.OpenReadWrite, fuse.OpenWriteOnly | fuse.OpenAppend} {
		handle, err := fn.Open(t.Context(), &fuse.OpenRequest{Flags: flags}, &fuse.OpenResponse{})
		require.ErrorIs(t, err, fuse.ToErrno(syscall.EACCES))
		require.Nil(t, handle)
	}
}
