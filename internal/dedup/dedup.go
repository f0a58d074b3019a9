// Package dedup finds groups of files with byte-identical content using
// a three-stage narrowing pipeline: group by size, narrow by a partial
// (head+tail) hash, confirm with a full hash.
//
// The stage-2/3 worker pool is grounded on the teacher's verifier
// package job-queue/pending-WaitGroup shape, re-targeted from its
// progressive HEAD→TAIL→CHUNK ladder (built to confirm hardlink
// candidates against a known-identical sibling) onto this package's
// two-round partial-then-full hashing of independent files.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/fswatcher-go/fswatcher/internal/cache"
	"github.com/fswatcher-go/fswatcher/internal/fserrors"
	"github.com/fswatcher-go/fswatcher/internal/fsmodel"
	"github.com/fswatcher-go/fswatcher/internal/walker"
)

// ProgressFunc is invoked once per stage, after the stage has processed
// its candidates, with processed equal to total. stage is one of
// "collecting", "partial_hash", "full_hash".
type ProgressFunc func(stage string, processed, total int)

// Options configures FindDuplicates.
type Options struct {
	Recursive       bool
	MinSize         int64
	Algorithm       fsmodel.HashAlgorithm
	PartialHashSize int64 // defaults to 4096 when <= 0
	MaxWorkers      int   // defaults to runtime.NumCPU() when <= 0
	ProgressCallback ProgressFunc
	// Cache, when non-nil, is consulted before stage 3's full-file hash
	// and populated afterward — the stage that does the most I/O and
	// the one most likely to re-read a file untouched since a prior run.
	Cache *cache.Cache
}

const defaultPartialHashSize = 4096

// FindDuplicates enumerates paths (files directly, directories expanded
// per Recursive), then narrows candidates through size, partial-hash,
// and full-hash stages, returning confirmed duplicate groups sorted by
// wasted bytes descending.
func FindDuplicates(ctx context.Context, paths []string, opts Options) ([]fsmodel.DuplicateGroup, error) {
	if opts.PartialHashSize <= 0 {
		opts.PartialHashSize = defaultPartialHashSize
	}
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if opts.Algorithm == "" {
		opts.Algorithm = fsmodel.BLAKE3
	}

	candidates, err := collect(ctx, paths, opts)
	if err != nil {
		return nil, err
	}

	bySizes := groupBySize(candidates, opts.MinSize)
	report(opts.ProgressCallback, "collecting", len(candidates), len(candidates))

	partialGroups, err := narrowByPartialHash(ctx, bySizes, opts, workers)
	if err != nil {
		return nil, err
	}

	groups, err := confirmByFullHash(ctx, partialGroups, opts, workers)
	if err != nil {
		return nil, err
	}

	sortGroups(groups)
	return groups, nil
}

func report(cb ProgressFunc, stage string, processed, total int) {
	if cb != nil {
		cb(stage, processed, total)
	}
}

// collect enumerates every candidate file across the input paths,
// expanding directories via the walker: their whole subtree when
// Recursive is set, only their direct children otherwise.
func collect(ctx context.Context, paths []string, opts Options) ([]fsmodel.WalkEntry, error) {
	var out []fsmodel.WalkEntry
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue // per-entry collection failures are skipped
		}
		if !info.IsDir() {
			out = append(out, fsmodel.WalkEntry{Path: p, Kind: fsmodel.KindFile, Size: info.Size()})
			continue
		}

		walkOpts := walker.Options{FileType: walker.OnlyFile}
		if opts.Recursive {
			walkOpts.Unlimited = true
		} else {
			walkOpts.MaxDepth = 1
		}

		entries, err := walker.Walk(ctx, p, walkOpts)
		if err != nil {
			continue
		}
		out = append(out, entries...)
	}
	return out, nil
}

// groupBySize buckets candidates by exact byte size, filtering anything
// smaller than minSize and dropping singleton buckets.
func groupBySize(entries []fsmodel.WalkEntry, minSize int64) map[int64][]fsmodel.WalkEntry {
	bySize := make(map[int64][]fsmodel.WalkEntry)
	for _, e := range entries {
		if e.Size < minSize {
			continue
		}
		bySize[e.Size] = append(bySize[e.Size], e)
	}
	for size, group := range bySize {
		if len(group) < 2 {
			delete(bySize, size)
		}
	}
	return bySize
}

type subgroup struct {
	size    int64
	digest  string
	entries []fsmodel.WalkEntry
}

// narrowByPartialHash hashes the head+tail window (or the whole file,
// when it's smaller than 2x the window) of every candidate and regroups
// by (size, partial digest), dropping singleton results.
func narrowByPartialHash(ctx context.Context, bySize map[int64][]fsmodel.WalkEntry, opts Options, workers int) ([]subgroup, error) {
	var flat []fsmodel.WalkEntry
	for _, group := range bySize {
		flat = append(flat, group...)
	}

	type result struct {
		entry  fsmodel.WalkEntry
		digest string
	}
	results, err := hashConcurrently(ctx, flat, workers, func(e fsmodel.WalkEntry) (result, error) {
		digest, err := partialHash(e.Path, e.Size, opts.PartialHashSize, opts.Algorithm)
		if err != nil {
			return result{}, &fserrors.HashError{Path: e.Path, Err: err}
		}
		return result{entry: e, digest: digest}, nil
	})
	if err != nil {
		return nil, err
	}
	report(opts.ProgressCallback, "partial_hash", len(flat), len(flat))

	keyed := make(map[sizeDigestKey][]fsmodel.WalkEntry)
	for _, r := range results {
		k := sizeDigestKey{size: r.entry.Size, digest: r.digest}
		keyed[k] = append(keyed[k], r.entry)
	}

	var out []subgroup
	for k, entries := range keyed {
		if len(entries) < 2 {
			continue
		}
		out = append(out, subgroup{size: k.size, digest: k.digest, entries: entries})
	}
	return out, nil
}

type sizeDigestKey struct {
	size   int64
	digest string
}

// confirmByFullHash fully hashes every file in every surviving
// partial-hash subgroup and regroups by (size, full digest), emitting
// confirmed DuplicateGroups for subgroups of 2 or more.
func confirmByFullHash(ctx context.Context, subgroups []subgroup, opts Options, workers int) ([]fsmodel.DuplicateGroup, error) {
	var flat []fsmodel.WalkEntry
	for _, sg := range subgroups {
		flat = append(flat, sg.entries...)
	}

	type result struct {
		entry  fsmodel.WalkEntry
		digest string
	}
	results, err := hashConcurrently(ctx, flat, workers, func(e fsmodel.WalkEntry) (result, error) {
		digest, err := fullHashCached(e, opts.Algorithm, opts.Cache)
		if err != nil {
			return result{}, &fserrors.HashError{Path: e.Path, Err: err}
		}
		return result{entry: e, digest: digest}, nil
	})
	if err != nil {
		return nil, err
	}
	report(opts.ProgressCallback, "full_hash", len(flat), len(flat))

	keyed := make(map[sizeDigestKey][]fsmodel.WalkEntry)
	for _, r := range results {
		k := sizeDigestKey{size: r.entry.Size, digest: r.digest}
		keyed[k] = append(keyed[k], r.entry)
	}

	var groups []fsmodel.DuplicateGroup
	for k, entries := range keyed {
		if len(entries) < 2 {
			continue
		}
		var paths []string
		for _, e := range entries {
			paths = append(paths, e.Path)
		}
		sort.Strings(paths)
		groups = append(groups, fsmodel.DuplicateGroup{
			HashHex:   k.digest,
			Algorithm: opts.Algorithm,
			FileSize:  k.size,
			Paths:     paths,
		})
	}
	return groups, nil
}

// hashConcurrently runs fn over entries using a fixed worker pool,
// aborting the whole call on the first failure.
func hashConcurrently[T any](ctx context.Context, entries []fsmodel.WalkEntry, workers int, fn func(fsmodel.WalkEntry) (T, error)) ([]T, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if workers > len(entries) {
		workers = len(entries)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan fsmodel.WalkEntry)
	var mu sync.Mutex
	var results []T
	var firstErr error

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				r, err := fn(e)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					cancel()
					continue
				}
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, e := range entries {
			select {
			case jobs <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func newHash(alg fsmodel.HashAlgorithm) (hash.Hash, error) {
	switch alg {
	case fsmodel.SHA256:
		return sha256.New(), nil
	case fsmodel.BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unknown algorithm %q", alg)
	}
}

// partialHash hashes the head windowSize bytes concatenated with the
// tail windowSize bytes. Files smaller than 2*windowSize (including
// those smaller than windowSize itself) fall back to hashing the whole
// file exactly once.
func partialHash(path string, size, windowSize int64, alg fsmodel.HashAlgorithm) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}

	if size < 2*windowSize {
		return fullHashInto(h, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	if _, err := io.CopyN(h, f, windowSize); err != nil {
		return "", err
	}
	if _, err := f.Seek(size-windowSize, io.SeekStart); err != nil {
		return "", err
	}
	if _, err := io.CopyN(h, f, windowSize); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fullHash(path string, alg fsmodel.HashAlgorithm) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}
	return fullHashInto(h, path)
}

// fullHashCached consults hc (if non-nil) before fully hashing e.Path,
// and populates it afterward. A nil Cache or a lookup miss falls
// through to a plain fullHash.
func fullHashCached(e fsmodel.WalkEntry, alg fsmodel.HashAlgorithm, hc *cache.Cache) (string, error) {
	if hc == nil {
		return fullHash(e.Path, alg)
	}

	info, err := os.Stat(e.Path)
	if err != nil {
		return "", err
	}
	key := cache.Key{Path: e.Path, Size: info.Size(), ModTime: info.ModTime(), Algorithm: string(alg)}

	if cached, err := hc.Lookup(key); err == nil && cached != nil {
		return hex.EncodeToString(cached), nil
	}

	digest, err := fullHash(e.Path, alg)
	if err != nil {
		return "", err
	}
	if raw, err := hex.DecodeString(digest); err == nil {
		_ = hc.Store(key, raw)
	}
	return digest, nil
}

func fullHashInto(h hash.Hash, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sortGroups orders groups by wasted bytes descending, breaking ties by
// file size descending, then lexicographic hash hex.
func sortGroups(groups []fsmodel.DuplicateGroup) {
	sort.Slice(groups, func(i, j int) bool {
		wi, wj := groups[i].WastedBytes(), groups[j].WastedBytes()
		if wi != wj {
			return wi > wj
		}
		if groups[i].FileSize != groups[j].FileSize {
			return groups[i].FileSize > groups[j].FileSize
		}
		return groups[i].HashHex < groups[j].HashHex
	})
}
