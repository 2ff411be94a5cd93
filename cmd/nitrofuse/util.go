package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"bazil.org/fuse"
)

// helperFDEnv names the file descriptor on which the mount helper
// waits for the filesystem to signal that the mount is ready.
const helperFDEnv = "NITROFUSE_HELPER_FD"

// mountOptions returns the FUSE mount options for the program options.
func mountOptions(opts programOpts) []fuse.MountOption {
	mopts := []fuse.MountOption{
		fuse.FSName("nitrofuse"),
		fuse.Subtype("nitrofuse"),
		fuse.ReadOnly(),
	}
	if opts.allowOther {
		mopts = append(mopts, fuse.AllowOther())
	}

	return mopts
}

// notifyMountHelper signals the mount helper waiting on the file descriptor
// fdVal (from the environment). It does nothing when fdVal is empty.
func notifyMountHelper(fdVal string) error {
	if fdVal == "" {
		return nil
	}

	fd, err := strconv.Atoi(fdVal)
	if err != nil || fd < 0 {
		return fmt.Errorf("%w: invalid %s value %q", errInvalidArgument, helperFDEnv, fdVal)
	}

	f := os.NewFile(uintptr(fd), "mount-helper")
	if f == nil {
		return fmt.Errorf("%w: unusable %s value %q", errInvalidArgument, helperFDEnv, fdVal)
	}
	defer f.Close()

	return signalReady(f)
}

// signalReady writes the single byte the mount helper waits for.
func signalReady(w io.Writer) error {
	if _, err := w.Write([]byte{1}); err != nil {
		return fmt.Errorf("failed to signal mount helper: %w", err)
	}

	return nil
}
