package filesystem

import (
	"errors"
	"os"
	"syscall"

	"bazil.org/fuse"
)

var (
	errNotFound  = fuse.ToErrno(syscall.ENOENT)
	errNotDir    = fuse.ToErrno(syscall.ENOTDIR)
	errIsDir     = fuse.ToErrno(syscall.EISDIR)
	errAccess    = fuse.ToErrno(syscall.EACCES)
	errReadOnly  = fuse.ToErrno(syscall.EROFS)
	errInvalid   = fuse.ToErrno(syscall.EINVAL)
	errBadHandle = fuse.ToErrno(syscall.EBADF)
	errIO        = fuse.ToErrno(syscall.EIO)
)

// toFuseErr maps an error from the image to the errno that is reported back through the filesystem.
func toFuseErr(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return errNotFound

	case errors.Is(err, os.ErrPermission):
		return errAccess

	default:
		return errIO
	}
}

// countError counts err within the [Metrics], unless it is a not found.
// A lookup of something that does not exist is part of normal operation.
func (fsys *FS) countError(err error) error {
	if err != nil && !errors.Is(err, errNotFound) {
		fsys.Metrics.Errors.Add(1)
	}

	return err
}
