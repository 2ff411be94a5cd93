package filesystem

import (
	"os"
	"time"

	"bazil.org/fuse"
	"github.com/desertwitch/nitrofuse/internal/nitro"
)

// DirFiller receives one entry of a directory enumeration along with the
// cursor which resumes the enumeration right after that entry. It returns
// false when it cannot take any more entries, ending the enumeration.
type DirFiller func(name string, attr fuse.Attr, next int64) bool

// Stat returns the attributes of the entry at path.
func (fsys *FS) Stat(path string) (fuse.Attr, error) {
	var a fuse.Attr

	fsys.Metrics.TotalStats.Add(1)

	e, ok := fsys.Tree.Resolve(path)
	if !ok {
		return a, fsys.countError(errNotFound)
	}
	fsys.fillAttr(e, &a)

	return a, nil
}

// ReadDir enumerates the directory at path, starting at cursor.
//
// Cursor 0 is ".", cursor 1 is ".." and every cursor n >= 2 is the
// (n-2)-th child in FNT order. No state is kept between calls, so calling
// again with the last received next cursor continues where fill stopped.
func (fsys *FS) ReadDir(path string, cursor int64, fill DirFiller) error {
	e, ok := fsys.Tree.Resolve(path)
	if !ok {
		fsys.Metrics.TotalReadDirs.Add(1)

		return fsys.countError(errNotFound)
	}

	return fsys.readDir(e, cursor, fill)
}

func (fsys *FS) readDir(e *nitro.Entry, cursor int64, fill DirFiller) error {
	fsys.Metrics.TotalReadDirs.Add(1)

	if !e.IsDir() {
		return fsys.countError(errNotDir)
	}
	if cursor < 0 {
		return fsys.countError(errInvalid)
	}

	for ; ; cursor++ {
		var name string
		var target *nitro.Entry

		switch cursor {
		case 0:
			name, target = ".", e
		case 1:
			name, target = "..", e.Parent()
		default:
			child, ok := e.ChildAt(int(cursor - 2)) //nolint:mnd
			if !ok {
				return nil
			}
			name, target = child.Name(), child
		}

		var a fuse.Attr
		fsys.fillAttr(target, &a)

		if !fill(name, a, cursor+1) {
			return nil
		}
	}
}

// Open opens the entry at path and returns the handle for further reads.
//
// Any access mode other than read-only is denied (EACCES), as is opening a
// missing path for creation (EROFS, rather than ENOENT). You must call
// Release() once the handle is no longer needed.
func (fsys *FS) Open(path string, flags fuse.OpenFlags) (HandleID, error) {
	e, ok := fsys.Tree.Resolve(path)
	if !ok {
		if flags&fuse.OpenCreate != 0 {
			return 0, fsys.countError(errReadOnly)
		}

		return 0, fsys.countError(errNotFound)
	}

	return fsys.open(e, flags)
}

func (fsys *FS) open(e *nitro.Entry, flags fuse.OpenFlags) (HandleID, error) {
	if !flags.IsReadOnly() {
		fsys.rbuf.Debugf("%q->Open: denied access mode (%v)\n", e.Path(), flags)

		return 0, fsys.countError(errAccess)
	}

	id := fsys.handles.add(e)
	fsys.rbuf.Debugf("%q->Open: handle %d\n", e.Path(), id)

	return id, nil
}

// Read copies up to len(dst) bytes of the file at offset into dst and returns
// the amount of bytes copied. Reading at or beyond the end of the file is not
// an error, but zero bytes are returned.
func (fsys *FS) Read(id HandleID, offset int64, dst []byte) (int, error) {
	start := time.Now()

	if offset < 0 {
		return 0, fsys.countError(errInvalid)
	}

	e, ok := fsys.handles.get(id)
	if !ok {
		return 0, fsys.countError(errBadHandle)
	}
	if e.IsDir() {
		return 0, fsys.countError(errIsDir)
	}

	fsys.Metrics.TotalReads.Add(1)

	size := int64(e.Size())
	if offset >= size {
		return 0, nil
	}
	n := min(int64(len(dst)), size-offset)

	fat, err := fsys.Tree.FAT(e)
	if err != nil {
		fsys.rbuf.Printf("%q->Read: FAT error: %v\n", e.Path(), err)

		return 0, fsys.countError(toFuseErr(err))
	}

	b, err := fsys.Image.Bytes(int64(fat.Start)+offset, n)
	if err != nil {
		fsys.rbuf.Printf("%q->Read: Image error: %v\n", e.Path(), err)

		return 0, fsys.countError(toFuseErr(err))
	}
	copy(dst, b)

	fsys.Metrics.TotalReadBytes.Add(n)
	fsys.Metrics.TotalReadTime.Add(time.Since(start).Nanoseconds())

	return int(n), nil
}

// Release releases the handle, which can no longer be used afterwards.
func (fsys *FS) Release(id HandleID) error {
	e, ok := fsys.handles.remove(id)
	if !ok {
		return fsys.countError(errBadHandle)
	}
	fsys.rbuf.Debugf("%q->Release: handle %d\n", e.Path(), id)

	return nil
}

// fillAttr synthesizes the attributes of e into a. All entries share the
// timestamps of the ROM image and the owner of the mounting process.
func (fsys *FS) fillAttr(e *nitro.Entry, a *fuse.Attr) {
	a.Inode = e.Inode()
	a.Size = uint64(e.Size())
	a.Blocks = (a.Size + blockSize - 1) / blockSize
	a.BlockSize = blockSize
	a.Nlink = e.Links()

	a.Uid = fsys.uid
	a.Gid = fsys.gid

	a.Atime, a.Mtime, a.Ctime = fsys.Image.Times()

	if e.IsDir() {
		a.Mode = os.ModeDir | dirBasePerm
	} else {
		a.Mode = fileBasePerm
	}
}
