package filesystem

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/nitrofuse/internal/logging"
	"github.com/desertwitch/nitrofuse/internal/nitro"
	"github.com/desertwitch/nitrofuse/internal/romtest"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2006, time.January, 2, 15, 4, 5, 0, time.UTC)

// testFS returns a new [FS] over the [romtest.Sample] ROM.
func testFS(t *testing.T, out io.Writer) (*FS, *romtest.ROM) {
	t.Helper()

	rom := romtest.Sample().Build()

	return testFSFromROM(t, rom, out, nil), rom
}

// testFSFromROM returns a new [FS] over rom, which is cleaned up with the test.
func testFSFromROM(t *testing.T, rom *romtest.ROM, out io.Writer, opts *Options) *FS {
	t.Helper()

	fsys, err := NewFSFromImage(rom.Image(testTime), opts, logging.NewRingBuffer(10, out))
	require.NoError(t, err)
	t.Cleanup(fsys.Cleanup)

	return fsys
}

// Expectation: NewFS should map the ROM file and take its timestamps.
func Test_NewFS_Success(t *testing.T) {
	t.Parallel()

	rom := romtest.Sample().Build()
	path := rom.WriteFile(t, t.TempDir(), "game.nds")

	mtime := time.Date(2010, time.March, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	var out strings.Builder
	fsys, err := NewFS(path, nil, logging.NewRingBuffer(10, &out))
	require.NoError(t, err)
	defer fsys.Cleanup()

	require.Equal(t, path, fsys.Image.Path())
	require.Equal(t, int64(len(rom.Data)), fsys.Image.Len())
	require.Equal(t, nitro.Stats{Dirs: 4, Files: 5, FileBytes: 40, MaxDepth: 2}, fsys.Tree.Stats())
	require.Equal(t, nitro.DefaultMaxDepth, fsys.Options.MaxDepth)
	require.NotZero(t, fsys.MountTime)
	require.Contains(t, out.String(), "4 directories, 5 files")

	attr, err := fsys.Stat("/readme.txt")
	require.NoError(t, err)
	require.True(t, mtime.Equal(attr.Mtime))
	require.True(t, mtime.Equal(attr.Atime))
}

// Expectation: NewFS should fail on missing arguments.
func Test_NewFS_MissingArgument_Error(t *testing.T) {
	t.Parallel()

	_, err := NewFS("", nil, logging.NewRingBuffer(10, io.Discard))
	require.ErrorIs(t, err, errMissingArgument)

	_, err = NewFS("/some/rom.nds", nil, nil)
	require.ErrorIs(t, err, errMissingArgument)

	_, err = NewFSFromImage(nil, nil, logging.NewRingBuffer(10, io.Discard))
	require.ErrorIs(t, err, errMissingArgument)
}

// Expectation: NewFS should fail on a ROM that does not exist.
func Test_NewFS_NotExist_Error(t *testing.T) {
	t.Parallel()

	fsys, err := NewFS(filepath.Join(t.TempDir(), "missing.nds"), nil, logging.NewRingBuffer(10, io.Discard))
	require.Nil(t, fsys)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// Expectation: NewFS should fail on a ROM with malformed tables, without a partial tree.
func Test_NewFS_Malformed_Error(t *testing.T) {
	t.Parallel()

	rom := romtest.Sample().Build()
	rom.SetFAT(rom.Files["/readme.txt"], 0x1000, 0x10)
	path := rom.WriteFile(t, t.TempDir(), "bad.nds")

	fsys, err := NewFS(path, nil, logging.NewRingBuffer(10, io.Discard))
	require.Nil(t, fsys)
	require.ErrorIs(t, err, nitro.ErrMalformedTable)
}

// Expectation: NewFS should fail on a ROM too short for its header.
func Test_NewFS_Truncated_Error(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "short.nds")
	require.NoError(t, os.WriteFile(path, make([]byte, 0x20), 0o644))

	fsys, err := NewFS(path, nil, logging.NewRingBuffer(10, io.Discard))
	require.Nil(t, fsys)
	require.ErrorIs(t, err, nitro.ErrOutOfBounds)
}

// Expectation: NewFSFromImage should honor the maximum depth of the options.
func Test_NewFSFromImage_MaxDepth_Error(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.MaxDepth = 1

	fsys, err := NewFSFromImage(romtest.Sample().Build().Image(testTime), opts, logging.NewRingBuffer(10, io.Discard))
	require.Nil(t, fsys)
	require.ErrorIs(t, err, nitro.ErrTooDeep)
}

// Expectation: Root should return the root directory as a [dirNode].
func Test_FS_Root_Success(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)

	node, err := fsys.Root()
	require.NoError(t, err)

	dn, ok := node.(*dirNode)
	require.True(t, ok)
	require.Same(t, fsys.Tree.Root(), dn.entry)
	require.Same(t, fsys, dn.fsys)
}

// Expectation: GenerateInode should panic, as all inodes are synthesized.
func Test_FS_GenerateInode_Panic(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)

	require.Panics(t, func() {
		fsys.GenerateInode(1, "name")
	})
}

// Expectation: Cleanup should release open handles and the image, and be idempotent.
func Test_FS_Cleanup_Success(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	fsys, err := NewFSFromImage(romtest.Sample().Build().Image(testTime), nil, logging.NewRingBuffer(10, &out))
	require.NoError(t, err)

	_, err = fsys.Open("/readme.txt", fuse.OpenReadOnly)
	require.NoError(t, err)
	_, err = fsys.Open("/data", fuse.OpenReadOnly)
	require.NoError(t, err)
	require.Equal(t, int64(2), fsys.Metrics.OpenHandles.Load())

	fsys.Cleanup()
	fsys.Cleanup()

	require.Zero(t, fsys.Metrics.OpenHandles.Load())
	require.Equal(t, int64(2), fsys.Metrics.TotalClosedHandles.Load())
	require.Zero(t, fsys.Image.Len())
	require.Contains(t, out.String(), "Released 2 handle(s)")
}

// Expectation: Walk should visit every entry once, in FNT order, skipping "." and "..".
func Test_FS_Walk_Success(t *testing.T) {
	t.Parallel()

	fsys, rom := testFS(t, io.Discard)

	var paths []string
	err := fsys.Walk(t.Context(), func(path string, d *fuse.Dirent, n fs.Node, a fuse.Attr) error {
		paths = append(paths, path)
		require.NotNil(t, n)

		if path == "/" {
			require.Nil(t, d)
		} else {
			require.NotNil(t, d)
			require.Equal(t, a.Inode, d.Inode)
			require.Equal(t, direntType(a), d.Type)
		}

		if a.Mode.IsDir() {
			_, ok := rom.Dirs[path]
			require.True(t, ok, path)
		} else {
			require.Equal(t, uint64(len(rom.Contents[path])), a.Size, path)
		}

		return nil
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"/",
		"/banner.bin",
		"/readme.txt",
		"/data",
		"/data/level1.bin",
		"/data/empty.bin",
		"/data/sound",
		"/data/sound/bgm.sseq",
		"/empty",
	}, paths)
}

// Expectation: Walk should return the error of the callback.
func Test_FS_Walk_CallbackError(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)
	testErr := errors.New("simulated error")

	err := fsys.Walk(t.Context(), func(path string, _ *fuse.Dirent, _ fs.Node, _ fuse.Attr) error {
		if path == "/data/sound" {
			return testErr
		}

		return nil
	})
	require.ErrorIs(t, err, testErr)
}

// Expectation: Walk should stop on a canceled context.
func Test_FS_Walk_ContextCanceled_Error(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := fsys.Walk(ctx, func(_ string, _ *fuse.Dirent, _ fs.Node, _ fuse.Attr) error {
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

// Expectation: Reset should zero all totals, but keep the open handles gauge.
func Test_Metrics_Reset_Success(t *testing.T) {
	t.Parallel()

	fsys, _ := testFS(t, io.Discard)

	h, err := fsys.Open("/readme.txt", fuse.OpenReadOnly)
	require.NoError(t, err)

	_, err = fsys.Read(h, 0, make([]byte, 8))
	require.NoError(t, err)

	_, err = fsys.Read(h, -1, make([]byte, 8))
	require.Error(t, err)

	require.Equal(t, int64(1), fsys.Metrics.TotalReads.Load())
	require.Equal(t, int64(8), fsys.Metrics.TotalReadBytes.Load())
	require.Equal(t, int64(1), fsys.Metrics.Errors.Load())

	fsys.Metrics.Reset()

	require.Zero(t, fsys.Metrics.TotalReads.Load())
	require.Zero(t, fsys.Metrics.TotalReadBytes.Load())
	require.Zero(t, fsys.Metrics.TotalReadTime.Load())
	require.Zero(t, fsys.Metrics.TotalOpens.Load())
	require.Zero(t, fsys.Metrics.Errors.Load())
	require.Equal(t, int64(1), fsys.Metrics.OpenHandles.Load())
}
