package main

const (
	helpTextUse = "nitrofuse <rom-file> <mount-dir>"

	helpTextShort = "a read-only FUSE filesystem for browsing of NitroFS ROM images"

	helpTextLong = `nitrofuse is a read-only FUSE filesystem that exposes the embedded NitroFS
filesystem of a Nintendo DS ROM image as regular files and directories. The
ROM image is memory-mapped and its name and allocation tables decoded once at
mount time, so that all file contents are then served straight from the image.
It includes a HTTP webserver for a diagnostics dashboard and runtime switches.

When mounted, the following OS signals are observed at runtime:
- SIGTERM/SIGINT for gracefully unmounting the FS
- SIGUSR1 for forcing a garbage collection run within Go
- SIGUSR2 for printing a stack trace to standard error (stderr)

When enabled, the diagnostics dashboard exposes the following routes:
- "/" for filesystem dashboard and event ring-buffer
- "/metrics.json" for the dashboard data in JSON format
- "/tree.json?path=<path>" for listing the entries of the ROM's tree
- "/gc" for forcing of a garbage collection (within Go)
- "/reset" for resetting the filesystem metrics at runtime
- "/set/verbose/<bool>" for adapting verbose (debug) logging`

	helpTextExportUse = "export <rom-file> <zip-file>"

	helpTextExportShort = "export the NitroFS tree of a ROM image into a ZIP archive"

	helpTextExportLong = `export decodes the NitroFS tree of a ROM image and writes all of its
directories and files into a new ZIP archive, without needing a mount.
The files are read through the same code paths that serve a mounted
filesystem, so this can also be used to verify a ROM image is readable.`
)
