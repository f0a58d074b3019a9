package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fswatcher-go/fswatcher/internal/fsmodel"
	"github.com/fswatcher-go/fswatcher/internal/progress"
	"github.com/fswatcher-go/fswatcher/internal/transfer"
)

type transferOptions struct {
	overwrite        bool
	preserveMetadata bool
	noProgress       bool
}

func newCopyCmd() *cobra.Command {
	opts := &transferOptions{}

	cmd := &cobra.Command{
		Use:   "cp [sources...] [destination]",
		Short: "Copy files/directories into destination",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runTransfer(args, opts, transfer.CopyFiles)
		},
	}
	bindTransferFlags(cmd, opts)
	return cmd
}

func newMoveCmd() *cobra.Command {
	opts := &transferOptions{}

	cmd := &cobra.Command{
		Use:   "mv [sources...] [destination]",
		Short: "Move files/directories into destination",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runTransfer(args, opts, transfer.MoveFiles)
		},
	}
	bindTransferFlags(cmd, opts)
	return cmd
}

func bindTransferFlags(cmd *cobra.Command, opts *transferOptions) {
	cmd.Flags().BoolVar(&opts.overwrite, "overwrite", false, "Overwrite existing destination files")
	cmd.Flags().BoolVar(&opts.preserveMetadata, "preserve-metadata", false, "Preserve mtime/atime/permissions")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
}

type transferFn func(ctx context.Context, sources []string, destination string, opts transfer.Options) ([]string, error)

func runTransfer(args []string, opts *transferOptions, fn transferFn) error {
	sources := args[:len(args)-1]
	destination := args[len(args)-1]

	bar := progress.New(!opts.noProgress, -1)

	completed, err := fn(context.Background(), sources, destination, transfer.Options{
		Overwrite:          opts.overwrite,
		PreserveMetadata:   opts.preserveMetadata,
		CallbackIntervalMs: 100,
		ProgressCallback: func(p fsmodel.CopyProgress) {
			bar.Describe(copyStats{p})
			bar.Set(uint64(p.BytesCopied))
		},
	})
	bar.Finish(copyStats{fsmodel.CopyProgress{FilesCompleted: len(completed), TotalFiles: len(completed)}})
	if err != nil {
		return err
	}
	return nil
}

type copyStats struct {
	fsmodel.CopyProgress
}

func (s copyStats) String() string {
	return fmt.Sprintf("%s / %s copied (%d/%d files)",
		humanize.IBytes(uint64(s.BytesCopied)), humanize.IBytes(uint64(s.TotalBytes)),
		s.FilesCompleted, s.TotalFiles)
}
