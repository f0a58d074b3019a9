// Package transfer implements chunked file copy and move, with recursive
// expansion of directory sources, overwrite/metadata handling, and a
// throttled progress callback.
//
// Enumeration happens entirely up front (grounded on the teacher's
// candidate-collection pass in internal/scanner, generalized from
// "find sibling groups" to "total files and bytes to move"), so a
// caller-visible total is known before the first byte is copied. The
// actual chunked copy loop is grounded on the teacher's
// verifier.hashRange read-buffer pattern, adapted from hashing a range
// to copying one.
package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/fswatcher-go/fswatcher/internal/fserrors"
	"github.com/fswatcher-go/fswatcher/internal/fsmodel"
	"github.com/fswatcher-go/fswatcher/internal/walker"
)

// copyBufferSize is the fixed chunk size for reads/writes, matching the
// teacher's blockSize choice for range hashing.
const copyBufferSize = 1 << 20 // 1 MiB

// ProgressFunc receives a progress snapshot. It may be invoked from
// whichever goroutine is driving the transfer; implementations that are
// not inherently safe for concurrent invocation must serialize
// themselves (transfer itself never calls it concurrently, since
// CopyFiles/MoveFiles process sources sequentially).
type ProgressFunc func(fsmodel.CopyProgress)

// Options configures a copy or move.
type Options struct {
	Overwrite          bool
	PreserveMetadata   bool
	ProgressCallback   ProgressFunc
	CallbackIntervalMs int
}

type job struct {
	src  string
	rel  string // path relative to destination
	root string // the sources[] entry this job was expanded from
}

// CopyFiles copies each source into destination. Directory sources are
// copied recursively, preserving relative structure beneath destination.
// Returns destination paths that completed successfully before any
// abort; a failure on one file aborts the whole operation without
// rolling back files already copied.
func CopyFiles(ctx context.Context, sources []string, destination string, opts Options) ([]string, error) {
	return run(ctx, sources, destination, opts, copyOneFile)
}

// MoveFiles is identical to CopyFiles except it attempts a rename first,
// falling back to copy-then-remove when the rename fails with a
// cross-device error. The progress callback is invoked only once the
// copy fallback has copied bytes; a move done entirely by renames never
// invokes it.
func MoveFiles(ctx context.Context, sources []string, destination string, opts Options) ([]string, error) {
	if cb := opts.ProgressCallback; cb != nil {
		opts.ProgressCallback = func(p fsmodel.CopyProgress) {
			if p.BytesCopied > 0 {
				cb(p)
			}
		}
	}
	return run(ctx, sources, destination, opts, moveOneFile)
}

type transferFunc func(ctx context.Context, src, dst string, opts Options, onProgress func(delta int64)) error

func run(ctx context.Context, sources []string, destination string, opts Options, xfer transferFunc) ([]string, error) {
	jobs, totalBytes, err := enumerate(sources, destination)
	if err != nil {
		return nil, err
	}

	if err := ensureDestination(destination); err != nil {
		return nil, err
	}

	var (
		mu             sync.Mutex
		bytesCopied    int64
		filesCompleted int
		lastFire       time.Time
	)
	totalFiles := len(jobs)

	fire := func(currentRoot, current string, force bool) {
		if opts.ProgressCallback == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		now := time.Now()
		interval := time.Duration(opts.CallbackIntervalMs) * time.Millisecond
		if !force && interval > 0 && now.Sub(lastFire) < interval {
			return
		}
		lastFire = now
		opts.ProgressCallback(fsmodel.CopyProgress{
			SourceBase:      currentRoot,
			DestinationBase: destination,
			BytesCopied:     bytesCopied,
			TotalBytes:      totalBytes,
			FilesCompleted:  filesCompleted,
			TotalFiles:      totalFiles,
			CurrentFile:     current,
		})
	}

	var completed []string
	for _, j := range jobs {
		select {
		case <-ctx.Done():
			return completed, ctx.Err()
		default:
		}

		dst := filepath.Join(destination, j.rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return completed, &fserrors.CopyError{Path: dst, Err: err}
		}

		if !opts.Overwrite {
			if _, statErr := os.Lstat(dst); statErr == nil {
				return completed, &fserrors.CopyError{Path: dst, Err: os.ErrExist}
			}
		}

		onProgress := func(delta int64) {
			mu.Lock()
			bytesCopied += delta
			mu.Unlock()
			fire(j.root, j.src, false)
		}

		if err := xfer(ctx, j.src, dst, opts, onProgress); err != nil {
			return completed, err
		}

		mu.Lock()
		filesCompleted++
		mu.Unlock()
		completed = append(completed, dst)
		fire(j.root, j.src, false)
	}

	fire("", "", true)
	return completed, nil
}

// enumerate walks every source up front to build the flat job list and
// compute total bytes, so totals are known before any I/O begins.
// Symlinks are not followed for this accounting, per contract.
func enumerate(sources []string, destination string) ([]job, int64, error) {
	var jobs []job
	var totalBytes int64

	for _, src := range sources {
		info, err := os.Lstat(src)
		if err != nil {
			return nil, 0, &fserrors.CopyError{Path: src, Err: err}
		}

		if !info.IsDir() {
			jobs = append(jobs, job{src: src, rel: filepath.Base(src), root: src})
			totalBytes += info.Size()
			continue
		}

		entries, err := walker.Walk(context.Background(), src, walker.Options{
			Unlimited:      true,
			FollowSymlinks: false,
			FileType:       walker.OnlyFile,
		})
		if err != nil {
			return nil, 0, &fserrors.CopyError{Path: src, Err: err}
		}

		base := filepath.Base(src)
		for _, e := range entries {
			rel, err := filepath.Rel(src, e.Path)
			if err != nil {
				return nil, 0, &fserrors.CopyError{Path: e.Path, Err: err}
			}
			jobs = append(jobs, job{src: e.Path, rel: filepath.Join(base, rel), root: src})
			totalBytes += e.Size
		}
	}

	return jobs, totalBytes, nil
}

func ensureDestination(destination string) error {
	info, err := os.Stat(destination)
	if os.IsNotExist(err) {
		return os.MkdirAll(destination, 0o755)
	}
	if err != nil {
		return &fserrors.CopyError{Path: destination, Err: err}
	}
	if !info.IsDir() {
		return &fserrors.CopyError{Path: destination, Err: errors.New("destination exists and is not a directory")}
	}
	return nil
}

// copyOneFile copies src to dst via a fixed-size buffered loop, reporting
// each successful chunk write through onProgress.
func copyOneFile(ctx context.Context, src, dst string, opts Options, onProgress func(delta int64)) error {
	in, err := os.Open(src)
	if err != nil {
		return &fserrors.CopyError{Path: src, Err: err}
	}
	defer func() { _ = in.Close() }()

	flags := os.O_WRONLY | os.O_CREATE
	if opts.Overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	out, err := os.OpenFile(dst, flags, 0o644)
	if err != nil {
		return &fserrors.CopyError{Path: dst, Err: err}
	}

	if err := copyChunked(ctx, out, in, onProgress); err != nil {
		_ = out.Close()
		return &fserrors.CopyError{Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &fserrors.CopyError{Path: dst, Err: err}
	}

	if opts.PreserveMetadata {
		applyMetadata(src, dst) // failures here are non-fatal, per contract
	}
	return nil
}

func copyChunked(ctx context.Context, out io.Writer, in io.Reader, onProgress func(delta int64)) error {
	buf := make([]byte, copyBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if onProgress != nil {
				onProgress(int64(n))
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// applyMetadata best-effort copies mtime/atime and permission bits from
// src to dst. Errors are swallowed, per contract ("non-fatal and
// logged" — callers that want the log should pass a ProgressCallback
// that also watches an error channel; this package has none to log to).
func applyMetadata(src, dst string) {
	info, err := os.Stat(src)
	if err != nil {
		return
	}
	_ = os.Chmod(dst, info.Mode())

	mtime := info.ModTime()
	atime := mtime
	var raw unix.Stat_t
	if err := unix.Stat(src, &raw); err == nil {
		atime = time.Unix(raw.Atim.Sec, raw.Atim.Nsec)
	}
	_ = os.Chtimes(dst, atime, mtime)
}

// moveOneFile attempts a rename; on a cross-device error it falls back
// to copy-then-remove, mirroring the teacher's hardlink/symlink
// EXDEV fallback ladder repurposed for whole-file relocation. Progress
// callbacks fire only on the fallback path, per contract.
func moveOneFile(ctx context.Context, src, dst string, opts Options, onProgress func(delta int64)) error {
	if !opts.Overwrite {
		if _, err := os.Lstat(dst); err == nil {
			return &fserrors.CopyError{Path: dst, Err: os.ErrExist}
		}
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return &fserrors.CopyError{Path: dst, Err: err}
	}

	if err := copyOneFile(ctx, src, dst, opts, onProgress); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return &fserrors.CopyError{Path: src, Err: err}
	}
	return nil
}
