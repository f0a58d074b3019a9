package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/fswatcher-go/fswatcher/internal/cache"
	"github.com/fswatcher-go/fswatcher/internal/dedup"
	"github.com/fswatcher-go/fswatcher/internal/fsmodel"
)

type dedupeOptions struct {
	minSizeStr      string
	recursive       bool
	algorithm       string
	partialHashSize int64
	workers         int
	quiet           bool
	cacheFile       string
}

func newDedupeCmd() *cobra.Command {
	opts := &dedupeOptions{
		minSizeStr:      "1",
		recursive:       true,
		algorithm:       "sha256",
		partialHashSize: 4096,
		workers:         runtime.NumCPU(),
	}

	cmd := &cobra.Command{
		Use:   "dedupe [paths...]",
		Short: "Find groups of files with identical content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runDedupe(args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.minSizeStr, "min-size", "m", opts.minSizeStr, "Minimum file size (e.g., 100, 1K, 10M, 1G)")
	cmd.Flags().BoolVarP(&opts.recursive, "recursive", "r", opts.recursive, "Expand directory arguments recursively")
	cmd.Flags().StringVar(&opts.algorithm, "algorithm", opts.algorithm, "sha256|blake3")
	cmd.Flags().Int64Var(&opts.partialHashSize, "partial-hash-size", opts.partialHashSize, "Head/tail window size for stage 2")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of parallel workers")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")
	cmd.Flags().StringVar(&opts.cacheFile, "cache-file", "", "Path to hash cache file (enables caching)")

	return cmd
}

func runDedupe(paths []string, opts *dedupeOptions) error {
	minSize, err := parseSize(opts.minSizeStr)
	if err != nil {
		return fmt.Errorf("invalid --min-size: %w", err)
	}

	var progressCB dedup.ProgressFunc
	if !opts.quiet {
		progressCB = func(stage string, processed, total int) {
			fmt.Printf("\r\033[K%s: %d/%d", stage, processed, total)
		}
	}

	hashCache, err := cache.Open(opts.cacheFile)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = hashCache.Close() }()

	groups, err := dedup.FindDuplicates(context.Background(), paths, dedup.Options{
		Recursive:        opts.recursive,
		MinSize:          minSize,
		Algorithm:        fsmodel.HashAlgorithm(opts.algorithm),
		PartialHashSize:  opts.partialHashSize,
		MaxWorkers:       opts.workers,
		ProgressCallback: progressCB,
		Cache:            hashCache,
	})
	if !opts.quiet {
		fmt.Println()
	}
	if err != nil {
		return err
	}

	for _, g := range groups {
		fmt.Println(g.String())
		for _, p := range g.Paths {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}
