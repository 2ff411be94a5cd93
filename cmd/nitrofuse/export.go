package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertwitch/nitrofuse/internal/filesystem"
	"github.com/desertwitch/nitrofuse/internal/logging"
	"github.com/spf13/cobra"
)

func exportCmd() *cobra.Command {
	var verbose bool
	fsOpts := filesystem.DefaultOptions()

	cmd := &cobra.Command{
		Use:   helpTextExportUse,
		Short: helpTextExportShort,
		Long:  helpTextExportLong,
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rbuf := logging.NewRingBuffer(defaultRingBufferSize, cmd.ErrOrStderr())
			rbuf.Verbose.Store(verbose)

			return runExport(ctx, args[0], args[1], fsOpts, rbuf)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print verbose (debug) messages, which can be rather excessive")
	cmd.Flags().IntVar(&fsOpts.MaxDepth, "max-depth", fsOpts.MaxDepth, "Maximum directory nesting accepted when decoding the ROM image")

	return cmd
}

// runExport writes the tree of the ROM image at romPath into a new ZIP
// archive at zipPath. The archive is removed again if the export fails.
func runExport(ctx context.Context, romPath, zipPath string, fsOpts *filesystem.Options, rbuf *logging.RingBuffer) (retErr error) { //nolint:nonamedreturns
	fsys, err := filesystem.NewFS(romPath, fsOpts, rbuf)
	if err != nil {
		return fmt.Errorf("fs setup error: %w", err)
	}
	defer fsys.Cleanup()

	f, err := os.OpenFile(zipPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:mnd
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("failed to close archive: %w", err)
		}
		if retErr != nil {
			_ = os.Remove(zipPath)
		}
	}()

	if err := fsys.Export(ctx, f); err != nil {
		if errors.Is(err, context.Canceled) {
			rbuf.Println("Export canceled, removing the incomplete archive.")
		}

		return err //nolint:wrapcheck
	}

	return nil
}
