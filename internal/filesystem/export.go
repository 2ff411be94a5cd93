package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
)

const exportChunkSize = 128 * 1024 // 128KiB

var errNotReadable = errors.New("node is not readable")

// Export writes all directories and files of the [FS] into a new ZIP archive.
// The files are read through the same nodes and handles that serve a mount.
func (fsys *FS) Export(ctx context.Context, w io.Writer) error {
	var files, bytes int64

	start := time.Now()
	zw := zip.NewWriter(w)

	err := fsys.Walk(ctx, func(path string, _ *fuse.Dirent, node fs.Node, attr fuse.Attr) error {
		if path == "/" {
			return nil
		}

		hdr := &zip.FileHeader{
			Name:     strings.TrimPrefix(path, "/"),
			Modified: attr.Mtime,
		}
		hdr.SetMode(attr.Mode)

		if attr.Mode.IsDir() {
			hdr.Name += "/"
			hdr.Method = zip.Store

			_, err := zw.CreateHeader(hdr)

			return err //nolint:wrapcheck
		}

		hdr.Method = zip.Deflate

		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err //nolint:wrapcheck
		}

		n, err := copyNode(ctx, fw, node)
		if err != nil {
			return err
		}
		if uint64(n) != attr.Size { //nolint:gosec
			return fmt.Errorf("%w: read %d of %d bytes", io.ErrUnexpectedEOF, n, attr.Size)
		}

		files++
		bytes += n

		return nil
	})
	if err != nil {
		_ = zw.Close()

		return fmt.Errorf("failed to export: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize export: %w", err)
	}

	fsys.rbuf.Printf("Exported %d files (%s) in %s.\n",
		files, humanize.IBytes(uint64(bytes)), time.Since(start)) //nolint:gosec

	return nil
}

// copyNode opens node for reading and copies all of its contents into w.
func copyNode(ctx context.Context, w io.Writer, node fs.Node) (int64, error) {
	opener, ok := node.(fs.NodeOpener)
	if !ok {
		return 0, errNotReadable
	}

	handle, err := opener.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadOnly}, &fuse.OpenResponse{})
	if err != nil {
		return 0, fmt.Errorf("failed to open: %w", err)
	}
	if releaser, ok := handle.(fs.HandleReleaser); ok {
		defer releaser.Release(ctx, &fuse.ReleaseRequest{}) //nolint:errcheck
	}

	reader, ok := handle.(fs.HandleReader)
	if !ok {
		return 0, errNotReadable
	}

	var off int64
	for {
		req := &fuse.ReadRequest{Offset: off, Size: exportChunkSize}
		resp := &fuse.ReadResponse{}

		if err := reader.Read(ctx, req, resp); err != nil {
			return off, fmt.Errorf("failed to read at %d: %w", off, err)
		}
		if len(resp.Data) == 0 {
			return off, nil
		}

		if _, err := w.Write(resp.Data); err != nil {
			return off, fmt.Errorf("failed to write: %w", err)
		}
		off += int64(len(resp.Data))
	}
}
