package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fswatcher-go/fswatcher/internal/watcher"
)

type watchOptions struct {
	recursive  bool
	debounceMs int
	ignore     []string
}

func newWatchCmd() *cobra.Command {
	opts := &watchOptions{debounceMs: 200}

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Print debounced change batches for path until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runWatch(args[0], opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.recursive, "recursive", "r", false, "Watch subdirectories too")
	cmd.Flags().IntVar(&opts.debounceMs, "debounce-ms", opts.debounceMs, "Quiet-time window before a batch is delivered")
	cmd.Flags().StringSliceVar(&opts.ignore, "ignore", nil, "doublestar glob patterns to drop before debouncing")

	return cmd
}

func runWatch(path string, opts *watchOptions) error {
	w, err := watcher.New(path, watcher.Options{
		Recursive:      opts.recursive,
		DebounceMs:     opts.debounceMs,
		IgnorePatterns: opts.ignore,
	})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	go func() {
		for err := range w.Errors() {
			fmt.Printf("watch error: %v\n", err)
		}
	}()

	for batch := range w.Iter() {
		for _, c := range batch {
			fmt.Printf("%-10s %s\n", c.ChangeType, c.Path)
		}
	}
	return nil
}
