package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/fswatcher-go/fswatcher/internal/cache"
	"github.com/fswatcher-go/fswatcher/internal/fsmodel"
	"github.com/fswatcher-go/fswatcher/internal/hasher"
)

type hashOptions struct {
	algorithm string
	workers   int
	cacheFile string
}

func newHashCmd() *cobra.Command {
	opts := &hashOptions{algorithm: "sha256", workers: runtime.NumCPU()}

	cmd := &cobra.Command{
		Use:   "hash [files...]",
		Short: "Hash one or more files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runHash(args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.algorithm, "algorithm", opts.algorithm, "sha256|blake3")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of parallel workers")
	cmd.Flags().StringVar(&opts.cacheFile, "cache-file", "", "Path to hash cache file (enables caching)")

	return cmd
}

func runHash(paths []string, opts *hashOptions) error {
	hashCache, err := cache.Open(opts.cacheFile)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = hashCache.Close() }()

	alg := fsmodel.HashAlgorithm(opts.algorithm)
	results, err := hasher.HashFiles(context.Background(), paths, alg, hasher.DefaultChunkSize,
		hasher.Options{MaxWorkers: opts.workers, Cache: hashCache}, nil)
	if err != nil {
		return err
	}

	for _, r := range results {
		fmt.Printf("%s  %s\n", r.HashHex, r.Path)
	}
	return nil
}
