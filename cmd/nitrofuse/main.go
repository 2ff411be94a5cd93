/*
nitrofuse is a read-only FUSE filesystem that exposes the NitroFS filesystem
embedded in a Nintendo DS ROM image as regular directories and files. The ROM
image is memory-mapped, its tables decoded into an immutable tree at mount
time and all reads are served from the mapped image. It includes a HTTP
dashboard for basic filesystem metrics and controlling runtime behavior.

The following signals are observed and handled by the filesystem:
  - SIGTERM or SIGINT (CTRL+C) gracefully unmounts the filesystem
  - SIGUSR1 forces a garbage collection (within Go)
  - SIGUSR2 dumps a diagnostic stacktrace to standard error (stderr)

When enabled, the diagnostics server exposes the following routes over HTTP:
  - "/" for filesystem dashboard and event ring-buffer
  - "/metrics.json" for the dashboard data in JSON format
  - "/tree.json" for listing the entries of the ROM's tree
  - "/gc" for forcing of a garbage collection (within Go)
  - "/reset" for resetting the filesystem metrics at runtime
  - "/set/verbose/<bool>" for adapting verbose (debug) logging
*/
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/nitrofuse/internal/filesystem"
	"github.com/desertwitch/nitrofuse/internal/logging"
	"github.com/desertwitch/nitrofuse/internal/webserver"
	"github.com/spf13/cobra"
)

const (
	stackTraceBuffer = 1 << 24

	defaultRingBufferSize = 500
)

var (
	// Version is the program version (filled in from the Makefile).
	Version string

	errInvalidArgument = errors.New("invalid argument")
)

type programOpts struct {
	romPath          string
	mountDir         string
	allowOther       bool
	dryRun           bool
	verbose          bool
	ringBufferSize   int
	dashboardAddress string
	fsOpts           *filesystem.Options
}

func rootCmd() *cobra.Command {
	opts := programOpts{fsOpts: filesystem.DefaultOptions()}

	cmd := &cobra.Command{
		Use:     helpTextUse,
		Short:   helpTextShort,
		Long:    helpTextLong,
		Version: Version,
		Args:    cobra.ExactArgs(2), //nolint:mnd
		RunE: func(_ *cobra.Command, args []string) error {
			opts.romPath = args[0]
			opts.mountDir = args[1]

			if err := opts.validate(); err != nil {
				return err
			}

			return run(opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.allowOther, "allow-other", "a", false, "Allow other system users to access the mounted filesystem")
	cmd.Flags().BoolVarP(&opts.dryRun, "dry-run", "d", false, "Decode the ROM image and print its summary, but do not mount")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print verbose (debug) messages, which can be rather excessive")
	cmd.Flags().IntVarP(&opts.ringBufferSize, "ring-buffer-size", "r", defaultRingBufferSize, "Amount of log lines to keep in memory (for the dashboard)")
	cmd.Flags().StringVarP(&opts.dashboardAddress, "webserver", "w", "", "Address to serve the diagnostics dashboard on (e.g. :8000; but disabled when empty)")

	addFSFlags(cmd, opts.fsOpts)

	cmd.AddCommand(exportCmd())

	return cmd
}

// addFSFlags registers the flags of the filesystem options on cmd.
func addFSFlags(cmd *cobra.Command, fsOpts *filesystem.Options) {
	cmd.Flags().BoolVar(&fsOpts.StrictCache, "strict-cache", fsOpts.StrictCache, "Do not allow the kernel to cache file contents and directory listings")
	cmd.Flags().IntVar(&fsOpts.MaxDepth, "max-depth", fsOpts.MaxDepth, "Maximum directory nesting accepted when decoding the ROM image")
	cmd.Flags().DurationVar(&fsOpts.HandleTTL, "handle-ttl", fsOpts.HandleTTL, "Release handles unused for this long (e.g. 30m; but never when zero)")
}

func (o programOpts) validate() error {
	if o.ringBufferSize <= 0 {
		return fmt.Errorf("%w: --ring-buffer-size must be positive", errInvalidArgument)
	}
	if o.fsOpts.MaxDepth <= 0 {
		return fmt.Errorf("%w: --max-depth must be positive", errInvalidArgument)
	}
	if o.fsOpts.HandleTTL < 0 {
		return fmt.Errorf("%w: --handle-ttl must not be negative", errInvalidArgument)
	}

	return nil
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts programOpts) error {
	rbuf := logging.NewRingBuffer(opts.ringBufferSize, os.Stderr)
	rbuf.Verbose.Store(opts.verbose)

	fsys, err := filesystem.NewFS(opts.romPath, opts.fsOpts, rbuf)
	if err != nil {
		return fmt.Errorf("fs setup error: %w", err)
	}
	defer fsys.Cleanup()

	if opts.dryRun {
		rbuf.Println("Dry run requested, not mounting the filesystem.")

		return nil
	}

	c, err := fuse.Mount(opts.mountDir, mountOptions(opts)...)
	if err != nil {
		return fmt.Errorf("fs mount error: %w", err)
	}
	defer c.Close()
	defer fuse.Unmount(opts.mountDir) //nolint:errcheck

	if err := notifyMountHelper(os.Getenv(helperFDEnv)); err != nil {
		rbuf.Printf("Mount helper notification error: %v\n", err)
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 1)
	wg.Go(func() {
		defer close(errChan)
		if err := fs.Serve(c, fsys); err != nil {
			errChan <- fmt.Errorf("fs serve error: %w", err)
		}
	})

	if opts.dashboardAddress != "" {
		dash, err := webserver.NewFSDashboard(fsys, rbuf, Version)
		if err != nil {
			return fmt.Errorf("dashboard setup error: %w", err)
		}
		srv := dash.Serve(opts.dashboardAddress)
		defer srv.Close()
	}

	rbuf.Printf("Mounted %q on %q.\n", opts.romPath, opts.mountDir)

	handleSignals(opts.mountDir, rbuf)

	wg.Wait()

	return <-errChan
}

// handleSignals installs the handlers for all observed OS signals.
func handleSignals(mountDir string, rbuf *logging.RingBuffer) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sig {
			rbuf.Println("Signal received, unmounting the filesystem...")

			if err := fuse.Unmount(mountDir); err != nil {
				rbuf.Printf("Unmount error: %v (try again later)\n", err)

				continue
			}

			return
		}
	}()

	sig1 := make(chan os.Signal, 1)
	signal.Notify(sig1, syscall.SIGUSR1)
	go func() {
		for range sig1 {
			rbuf.Println("Signal received, forcing garbage collection...")
			runtime.GC()
			debug.FreeOSMemory()
		}
	}()

	sig2 := make(chan os.Signal, 1)
	signal.Notify(sig2, syscall.SIGUSR2)
	go func() {
		for range sig2 {
			rbuf.Println("Signal received, printing stacktrace (to stderr)...")
			buf := make([]byte, stackTraceBuffer)
			stacklen := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:stacklen]) //nolint:errcheck
		}
	}()
}
