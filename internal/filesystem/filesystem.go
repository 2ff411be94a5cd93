// Package filesystem implements the read-only NitroFS filesystem.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/nitrofuse/internal/image"
	"github.com/desertwitch/nitrofuse/internal/logging"
	"github.com/desertwitch/nitrofuse/internal/nitro"
	"github.com/dustin/go-humanize"
)

const (
	fileBasePerm = 0o444 // RO
	dirBasePerm  = 0o555 // RO
	blockSize    = 4096

	defaultHandleTTL   = 0 // never
	defaultStrictCache = false
)

var (
	_ fs.FS               = (*FS)(nil)
	_ fs.FSInodeGenerator = (*FS)(nil)

	errMissingArgument = errors.New("missing argument")
)

// Options contains all settings for the operation of the filesystem.
// None of the fields can be modified at runtime (once mounted).
type Options struct {
	// MaxDepth bounds the directory nesting accepted when building
	// the tree from the ROM image (<= 0 is [nitro.DefaultMaxDepth]).
	MaxDepth int

	// StrictCache disables the kernel page and directory caching flags,
	// which are otherwise set as the ROM image can never change.
	StrictCache bool

	// HandleTTL is the time after which an open handle that is not used
	// (read from) is released by the filesystem itself. Zero never expires.
	HandleTTL time.Duration
}

// DefaultOptions returns a pointer to [Options] with the default values.
func DefaultOptions() *Options {
	return &Options{
		MaxDepth:    nitro.DefaultMaxDepth,
		StrictCache: defaultStrictCache,
		HandleTTL:   defaultHandleTTL,
	}
}

// Metrics contains all metrics which are collected within the filesystem.
type Metrics struct {
	// Errors is the amount of failed operations (other than not found).
	Errors atomic.Int64

	// TotalStats is the amount of attribute queries.
	TotalStats atomic.Int64

	// TotalReadDirs is the amount of directory enumerations.
	TotalReadDirs atomic.Int64

	// TotalOpens is the amount of successful opens.
	TotalOpens atomic.Int64

	// TotalReads is the amount of reads from files.
	TotalReads atomic.Int64

	// TotalReadBytes is the amount of bytes read from files.
	TotalReadBytes atomic.Int64

	// TotalReadTime is time spent reading from files.
	TotalReadTime atomic.Int64

	// OpenHandles is the amount of currently open handles.
	OpenHandles atomic.Int64

	// TotalClosedHandles is the amount of released handles.
	TotalClosedHandles atomic.Int64

	// TotalExpiredHandles is the amount of handles released after TTL.
	TotalExpiredHandles atomic.Int64
}

// Reset sets all cumulative metrics back to zero.
// Gauges (such as OpenHandles) are left untouched.
func (m *Metrics) Reset() {
	m.Errors.Store(0)
	m.TotalStats.Store(0)
	m.TotalReadDirs.Store(0)
	m.TotalOpens.Store(0)
	m.TotalReads.Store(0)
	m.TotalReadBytes.Store(0)
	m.TotalReadTime.Store(0)
	m.TotalClosedHandles.Store(0)
	m.TotalExpiredHandles.Store(0)
}

// FS is the core implementation of the filesystem.
// It is the explicit context of exactly one mount, holding the ROM image
// and the tree that was built from it. Both are immutable until Cleanup().
type FS struct {
	Image *image.Image
	Tree  *nitro.Tree

	Options *Options
	Metrics *Metrics

	MountTime time.Time

	uid uint32
	gid uint32

	handles     *handleTable
	cleanupOnce sync.Once

	rbuf *logging.RingBuffer
}

// NewFS memory-maps the ROM image at romPath, builds the tree from its
// tables and returns a pointer to a new [FS] serving it.
// You must call Cleanup() once all work is complete.
func NewFS(romPath string, opts *Options, rbuf *logging.RingBuffer) (*FS, error) {
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need a ring buffer", errMissingArgument)
	}
	if romPath == "" {
		return nil, fmt.Errorf("%w: need a rom path", errMissingArgument)
	}

	img, err := image.Open(romPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open rom: %w", err)
	}

	fsys, err := NewFSFromImage(img, opts, rbuf)
	if err != nil {
		_ = img.Close()

		return nil, err
	}

	return fsys, nil
}

// NewFSFromImage builds the tree from the tables of img and returns a pointer
// to a new [FS] serving it. The [FS] takes ownership of img on success.
// You must call Cleanup() once all work is complete.
func NewFSFromImage(img *image.Image, opts *Options, rbuf *logging.RingBuffer) (*FS, error) {
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need a ring buffer", errMissingArgument)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: need an image", errMissingArgument)
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	start := time.Now()

	tree, err := nitro.Build(img, nitro.BuildOptions{MaxDepth: opts.MaxDepth})
	if err != nil {
		return nil, fmt.Errorf("failed to build tree: %w", err)
	}

	stats := tree.Stats()
	rbuf.Printf("%q: %d directories, %d files (%s), depth %d, built in %s\n",
		img.Path(), stats.Dirs, stats.Files, humanize.IBytes(stats.FileBytes),
		stats.MaxDepth, time.Since(start))

	fsys := &FS{
		Image:     img,
		Tree:      tree,
		Options:   opts,
		Metrics:   &Metrics{},
		MountTime: time.Now(),
		uid:       uint32(os.Getuid()), //nolint:gosec
		gid:       uint32(os.Getgid()), //nolint:gosec
		rbuf:      rbuf,
	}
	fsys.handles = newHandleTable(fsys, opts.HandleTTL)

	return fsys, nil
}

// Cleanup releases all open handles and the ROM image, blocking until done.
// It is safe to call more than once, but no operation may follow the first.
func (fsys *FS) Cleanup() {
	fsys.cleanupOnce.Do(func() {
		if n := fsys.handles.close(); n > 0 {
			fsys.rbuf.Printf("Released %d handle(s) which were still open.\n", n)
		}

		if err := fsys.Image.Close(); err != nil {
			fsys.rbuf.Printf("%q->Cleanup: %v\n", fsys.Image.Path(), err)
		}
	})
}

// Root returns the entry-point [fs.Node] of the filesystem.
func (fsys *FS) Root() (fs.Node, error) {
	return &dirNode{
		fsys:  fsys,
		entry: fsys.Tree.Root(),
	}, nil
}

// GenerateInode implements [fs.FSInodeGenerator] to prevent dynamic
// inode generation by the fallback method inside of the FUSE library.
//
// [FS] synthesizes all inodes from the NitroFS ids, none of which can
// ever be zero. Calls to this method will panic, revealing where internal
// inode handling does not produce the valid inode.
func (fsys *FS) GenerateInode(_ uint64, _ string) uint64 {
	panic("unhandled zero inode triggered an illegal dynamic generation")
}

// WalkFunc gets called on each visited [fs.Node] as part of a [FS.Walk].
// Do note that as the root directory is not listed anywhere, its [fuse.Dirent] is nil.
// The "." and ".." entries of each directory are not visited.
type WalkFunc func(path string, dirent *fuse.Dirent, node fs.Node, attr fuse.Attr) error

// Walk walks the [FS] through its [fs.Node] graph, calling walkFn on each visited [fs.Node].
func (fsys *FS) Walk(ctx context.Context, walkFn WalkFunc) error {
	root, err := fsys.Root()
	if err != nil {
		return fmt.Errorf("failed to get fs root: %w", err)
	}

	return fsys.walkNode(ctx, "/", nil, root, walkFn)
}

// walkNode handles walking of a [fs.Node] within the [FS].
func (fsys *FS) walkNode(ctx context.Context, path string, dirent *fuse.Dirent, node fs.Node, walkFn WalkFunc) error {
	var attr fuse.Attr

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	if err := node.Attr(ctx, &attr); err != nil {
		return fmt.Errorf("attr error at %q: %w", path, err)
	}

	if err := walkFn(path, dirent, node, attr); err != nil {
		return fmt.Errorf("walkfn error at %q: %w", path, err)
	}

	readDirNode, ok := node.(fs.HandleReadDirAller)
	if !ok {
		return nil
	}

	dirents, err := readDirNode.ReadDirAll(ctx)
	if err != nil {
		return fmt.Errorf("readdirall error at %q: %w", path, err)
	}

	lookupNode, ok := node.(fs.NodeStringLookuper)
	if !ok {
		return nil
	}

	for _, de := range dirents {
		if de.Name == "." || de.Name == ".." {
			continue
		}

		childPath := path
		if path != "/" {
			childPath += "/"
		}
		childPath += de.Name

		childNode, err := lookupNode.Lookup(ctx, de.Name)
		if err != nil {
			return fmt.Errorf("lookup error for %q at %q: %w", de.Name, path, err)
		}

		if err := fsys.walkNode(ctx, childPath, &de, childNode, walkFn); err != nil {
			return err
		}
	}

	return nil
}
