// Package walker provides parallel recursive directory traversal,
// producing a filtered stream of fsmodel.WalkEntry values.
//
// # Architecture Overview
//
// The walker uses a concurrent fan-out/fan-in architecture to traverse
// directory trees while respecting system resource limits, grounded on
// the same design the teacher used for duplicate-candidate scanning:
//
//  1. WALKER GOROUTINES (fan-out)
//     - One goroutine spawned per directory discovered
//     - Concurrency limited by a semaphore (bounds simultaneous directory
//       reads, not simultaneous goroutines)
//     - Each walker: acquires semaphore → lists directory → releases
//       semaphore → emits its regular-file children in order → spawns a
//       goroutine per child subdirectory or symlink, which emits that
//       child and, for a directory, walks it
//
//  2. COLLECTOR / CONSUMER (fan-in)
//     - The streaming form (WalkIter) exposes the raw channel directly
//       to one consumer; the collecting form (Walk) drains it into a
//       slice.
//
//  3. ORCHESTRATOR
//     - Spawns the initial walker, waits for all walkers to finish, then
//       closes the result channel.
//
// Cancellation is expressed as context.Context instead of a hand-rolled
// flag: canceling ctx unblocks any goroutine currently blocked sending to
// the bounded channel, and is polled between directory entries.
//
// # Ordering
//
// With Options.Sort unset, discovery order is unspecified. With Sort
// set, a directory's regular-file children are emitted in lexicographic
// order of basename from the single goroutine that read that directory.
// Each subdirectory or symlink child is emitted by its own goroutine, so
// its position relative to its siblings is not defined; a directory is
// always emitted before its own children, and sibling subtrees proceed
// in parallel.
package walker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/fswatcher-go/fswatcher/internal/fserrors"
	"github.com/fswatcher-go/fswatcher/internal/fsmodel"
)

// FileType restricts which kinds of node a walk admits.
type FileType string

const (
	Any      FileType = "any"
	OnlyFile FileType = "file"
	OnlyDir  FileType = "dir"
)

// Options configures a walk. The zero value admits every kind of node,
// does not follow symlinks, does not sort, and shows hidden entries;
// with MaxDepth 0 and Unlimited false it yields only the root, so set
// Unlimited for a walk with no depth limit.
type Options struct {
	// MaxDepth bounds traversal depth; direct children of root are at
	// depth 1. Only enforced when Unlimited is false.
	MaxDepth  int
	Unlimited bool

	FollowSymlinks bool
	Sort           bool
	SkipHidden     bool
	FileType       FileType
	GlobPattern    string

	// Workers bounds concurrent directory reads; defaults to 4 when <= 0.
	Workers int
	// ErrCh, if non-nil, receives per-entry errors (unreadable
	// directories, vanished entries). The walk itself does not fail on
	// these.
	ErrCh chan error
}

func (o Options) fileType() FileType {
	if o.FileType == "" {
		return Any
	}
	return o.FileType
}

func (o Options) depthAllowed(depth int) bool {
	if o.Unlimited {
		return true
	}
	return depth <= o.MaxDepth
}

// Walk performs a collecting walk: runs a full walk and returns every
// admitted entry as a slice.
func Walk(ctx context.Context, root string, opts Options) ([]fsmodel.WalkEntry, error) {
	it, err := NewIter(ctx, root, opts)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var entries []fsmodel.WalkEntry
	for {
		e, ok := it.Next(ctx)
		if !ok {
			break
		}
		entries = append(entries, e)
	}
	return entries, it.Err()
}

// WalkIter is the streaming form: entries are produced incrementally
// over a bounded channel and consumed one at a time via Next. The
// consumer may stop at any time by canceling ctx or calling Close;
// producers unblock promptly and pending entries are dropped.
type WalkIter struct {
	ch       chan fsmodel.WalkEntry
	done     chan struct{}
	closeOne sync.Once

	walkerWg  sync.WaitGroup
	walkerSem fsmodel.Semaphore

	opts Options
	ctx  context.Context // the walk's context; canceling it unblocks pending sends

	visited sync.Map // dirIdentity -> struct{}; only populated when FollowSymlinks

	mu  sync.Mutex
	err error
}

type dirIdentity struct {
	dev, ino uint64
}

// NewIter starts a streaming walk rooted at root. The root is resolved
// to an absolute path; failure to access it is fatal and returned
// immediately as *fserrors.WalkError.
func NewIter(ctx context.Context, root string, opts Options) (*WalkIter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &fserrors.WalkError{Root: root, Err: err}
	}

	info, err := os.Lstat(absRoot)
	if err != nil {
		return nil, &fserrors.WalkError{Root: absRoot, Err: err}
	}

	if opts.Workers <= 0 {
		opts.Workers = 4
	}

	it := &WalkIter{
		ch:        make(chan fsmodel.WalkEntry, 1000),
		done:      make(chan struct{}),
		walkerSem: fsmodel.NewSemaphore(opts.Workers),
		opts:      opts,
		ctx:       ctx,
	}

	it.walkerWg.Add(1)
	go func() {
		defer it.walkerWg.Done()
		it.walkNode(ctx, absRoot, info, 0)
	}()

	go func() {
		it.walkerWg.Wait()
		close(it.ch)
	}()

	return it, nil
}

// Next blocks until the next entry is available, the walk is exhausted,
// or ctx is canceled. ok is false once the walk has no further entries.
func (it *WalkIter) Next(ctx context.Context) (fsmodel.WalkEntry, bool) {
	select {
	case e, ok := <-it.ch:
		return e, ok
	case <-ctx.Done():
		it.Close()
		return fsmodel.WalkEntry{}, false
	}
}

// Close signals producers to stop and drains any pending entries so
// blocked senders unblock promptly. Safe to call more than once.
func (it *WalkIter) Close() {
	it.closeOne.Do(func() {
		close(it.done)
		go func() {
			for range it.ch {
				// drain to unblock any walker goroutine mid-send
			}
		}()
	})
}

// Err returns the first fatal error observed by the walk, if any.
// Per-entry errors are never returned here; they go to Options.ErrCh.
func (it *WalkIter) Err() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.err
}

func (it *WalkIter) sendError(err error) {
	if it.opts.ErrCh != nil {
		select {
		case it.opts.ErrCh <- err:
		case <-it.done:
		}
	}
}

// walkNode classifies one node (root, or a directory entry discovered
// by a parent's listing) and, for directories, lists and dispatches its
// children.
func (it *WalkIter) walkNode(ctx context.Context, path string, info os.FileInfo, depth int) {
	select {
	case <-it.done:
		return
	case <-ctx.Done():
		return
	default:
	}

	kind := classify(info)

	if kind == fsmodel.KindSymlink {
		if !it.opts.FollowSymlinks {
			it.emitIfAdmitted(path, kind, depth, info.Size())
			return
		}
		target, err := os.Stat(path) // follows the link
		if err != nil {
			it.sendError(err)
			return
		}
		if target.IsDir() {
			if it.alreadyVisited(path) {
				return
			}
			it.emitIfAdmitted(path, fsmodel.KindDirectory, depth, 0)
			it.listAndDispatch(ctx, path, depth)
			return
		}
		it.emitIfAdmitted(path, fsmodel.KindFile, depth, target.Size())
		return
	}

	if kind == fsmodel.KindDirectory {
		it.emitIfAdmitted(path, kind, depth, 0)
		if it.opts.SkipHidden && isHidden(path) {
			return // prune the whole subtree
		}
		if !it.opts.depthAllowed(depth + 1) {
			return
		}
		it.listAndDispatch(ctx, path, depth)
		return
	}

	it.emitIfAdmitted(path, kind, depth, info.Size())
}

// listAndDispatch reads dir's children (semaphore-guarded), emits
// regular-file children directly and in order, and spawns one goroutine
// per subdirectory or symlink child so sibling subtrees proceed in
// parallel.
func (it *WalkIter) listAndDispatch(ctx context.Context, dir string, parentDepth int) {
	it.walkerSem.Acquire()
	entries, err := readDirBatched(dir)
	it.walkerSem.Release()

	if err != nil {
		it.sendError(err)
		return
	}

	if it.opts.Sort {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	}

	childDepth := parentDepth + 1
	for _, entry := range entries {
		select {
		case <-it.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		childPath := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			it.sendError(err) // vanished mid-walk or unreadable; skip
			continue
		}

		if !entry.IsDir() && info.Mode()&os.ModeSymlink == 0 {
			// Regular files: emit inline, preserving sorted order.
			it.emitIfAdmitted(childPath, fsmodel.KindFile, childDepth, info.Size())
			continue
		}

		it.walkerWg.Add(1)
		go func(childPath string, info os.FileInfo) {
			defer it.walkerWg.Done()
			it.walkNode(ctx, childPath, info, childDepth)
		}(childPath, info)
	}
}

// emitIfAdmitted applies the filter pipeline and sends the entry if it
// passes. Depth is already enforced by the caller for directories, but
// re-checked here since this is also the single admission gate for
// files and symlinks.
func (it *WalkIter) emitIfAdmitted(path string, kind fsmodel.Kind, depth int, size int64) {
	if !it.opts.depthAllowed(depth) {
		return
	}
	if !admitsKind(it.opts.fileType(), kind) {
		return
	}
	if it.opts.SkipHidden && isHidden(path) {
		return
	}
	if it.opts.GlobPattern != "" {
		matched, err := filepath.Match(it.opts.GlobPattern, filepath.Base(path))
		if err != nil || !matched {
			return
		}
	}

	e := fsmodel.WalkEntry{Path: path, Kind: kind, Depth: depth, Size: size}
	select {
	case it.ch <- e:
	case <-it.done:
	case <-it.ctx.Done():
	}
}

func admitsKind(ft FileType, kind fsmodel.Kind) bool {
	switch ft {
	case OnlyFile:
		return kind == fsmodel.KindFile
	case OnlyDir:
		return kind == fsmodel.KindDirectory
	default:
		return true
	}
}

func classify(info os.FileInfo) fsmodel.Kind {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return fsmodel.KindSymlink
	case info.IsDir():
		return fsmodel.KindDirectory
	default:
		return fsmodel.KindFile
	}
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return len(base) > 0 && base[0] == '.' && base != "." && base != ".."
}

// alreadyVisited records (and checks) canonicalized directory identity
// to prevent symlink cycles. Only called when FollowSymlinks is set.
func (it *WalkIter) alreadyVisited(path string) bool {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(real)
	if err != nil {
		return false
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	id := dirIdentity{dev: uint64(stat.Dev), ino: stat.Ino} //nolint:unconvert // platform-dependent type
	_, loaded := it.visited.LoadOrStore(id, struct{}{})
	return loaded
}

// readDirBatched reads a directory's entries in batches of 1000,
// bounding memory use for directories with very large fan-out.
func readDirBatched(dirPath string) ([]os.DirEntry, error) {
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = dir.Close() }()

	const batchSize = 1000
	var all []os.DirEntry
	for {
		batch, err := dir.ReadDir(batchSize)
		all = append(all, batch...)
		if len(batch) == 0 {
			if err != nil && err != io.EOF {
				return all, err
			}
			break
		}
		if err != nil && err != io.EOF {
			return all, err
		}
	}
	return all, nil
}
