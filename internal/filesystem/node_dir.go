package filesystem

import (
	"context"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/nitrofuse/internal/nitro"
)

var (
	_ fs.Node               = (*dirNode)(nil)
	_ fs.NodeOpener         = (*dirNode)(nil)
	_ fs.NodeCreater        = (*dirNode)(nil)
	_ fs.HandleReadDirAller = (*dirNode)(nil)
	_ fs.NodeStringLookuper = (*dirNode)(nil)

	_ fs.Handle             = (*dirHandle)(nil)
	_ fs.HandleReadDirAller = (*dirHandle)(nil)
	_ fs.HandleReleaser     = (*dirHandle)(nil)
)

// dirNode is a directory of the NitroFS tree.
type dirNode struct {
	fsys  *FS          // Pointer to our filesystem.
	entry *nitro.Entry // Directory within the tree.
}

// newNode returns the [fs.Node] for e, depending on its kind.
func newNode(fsys *FS, e *nitro.Entry) fs.Node {
	if e.IsDir() {
		return &dirNode{fsys: fsys, entry: e}
	}

	return &fileNode{fsys: fsys, entry: e}
}

func (d *dirNode) Attr(_ context.Context, a *fuse.Attr) error {
	d.fsys.Metrics.TotalStats.Add(1)
	d.fsys.fillAttr(d.entry, a)

	return nil
}

func (d *dirNode) Lookup(_ context.Context, name string) (fs.Node, error) {
	child, ok := d.entry.Lookup(name)
	if !ok {
		return nil, d.fsys.countError(errNotFound)
	}

	return newNode(d.fsys, child), nil
}

func (d *dirNode) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	id, err := d.fsys.open(d.entry, req.Flags)
	if err != nil {
		return nil, err
	}

	if !d.fsys.Options.StrictCache {
		resp.Flags |= fuse.OpenKeepCache | fuse.OpenCacheDir
	}

	return &dirHandle{dirNode: d, id: id}, nil
}

func (d *dirNode) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dirents := make([]fuse.Dirent, 0, d.entry.NumChildren()+2) //nolint:mnd

	err := d.fsys.readDir(d.entry, 0, func(name string, a fuse.Attr, _ int64) bool {
		dirents = append(dirents, fuse.Dirent{
			Inode: a.Inode,
			Type:  direntType(a),
			Name:  name,
		})

		return true
	})
	if err != nil {
		return nil, err
	}

	return dirents, nil
}

// Create is only reached for names that the kernel could not look up,
// but a racing lookup is still answered as an open of the existing entry.
func (d *dirNode) Create(_ context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	path := d.entry.Path()
	if path != "/" {
		path += "/"
	}
	path += req.Name

	id, err := d.fsys.Open(path, req.Flags|fuse.OpenCreate)
	if err != nil {
		return nil, nil, err
	}

	if !d.fsys.Options.StrictCache {
		resp.Flags |= fuse.OpenKeepCache
	}

	child, _ := d.entry.Lookup(req.Name)
	switch node := newNode(d.fsys, child).(type) {
	case *dirNode:
		return node, &dirHandle{dirNode: node, id: id}, nil
	case *fileNode:
		return node, &fileHandle{fileNode: node, id: id}, nil
	default:
		panic("unknown node type")
	}
}

// dirHandle is an open [dirNode].
type dirHandle struct {
	*dirNode

	id HandleID
}

func (h *dirHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	return h.fsys.Release(h.id)
}

// direntType returns the [fuse.DirentType] for the attributes a.
func direntType(a fuse.Attr) fuse.DirentType {
	if a.Mode.IsDir() {
		return fuse.DT_Dir
	}

	return fuse.DT_File
}
