package filesystem

import (
	"context"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/nitrofuse/internal/nitro"
)

var (
	_ fs.Node       = (*fileNode)(nil)
	_ fs.NodeOpener = (*fileNode)(nil)

	_ fs.Handle         = (*fileHandle)(nil)
	_ fs.HandleReader   = (*fileHandle)(nil)
	_ fs.HandleReleaser = (*fileHandle)(nil)
)

// fileNode is a file of the NitroFS tree, backed by its FAT range.
type fileNode struct {
	fsys  *FS          // Pointer to our filesystem.
	entry *nitro.Entry // File within the tree.
}

func (f *fileNode) Attr(_ context.Context, a *fuse.Attr) error {
	f.fsys.Metrics.TotalStats.Add(1)
	f.fsys.fillAttr(f.entry, a)

	return nil
}

func (f *fileNode) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	id, err := f.fsys.open(f.entry, req.Flags)
	if err != nil {
		return nil, err
	}

	if !f.fsys.Options.StrictCache {
		resp.Flags |= fuse.OpenKeepCache
	}

	return &fileHandle{fileNode: f, id: id}, nil
}

// fileHandle is an open [fileNode].
type fileHandle struct {
	*fileNode

	id HandleID
}

func (h *fileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)

	n, err := h.fsys.Read(h.id, req.Offset, buf)
	if err != nil {
		return err
	}
	resp.Data = buf[:n]

	return nil
}

func (h *fileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	return h.fsys.Release(h.id)
}
