// Package fserrors defines the error taxonomy shared by every component:
// a base FsWatcherError marker and one concrete type per component
// (Walk, Hash, Copy, Watch). Standard not-found and permission errors
// from the OS are returned as-is and are never wrapped in one of these.
package fserrors

import "fmt"

// FsWatcherError is implemented by every error type this module returns
// for its own failures (as opposed to passing through OS errors
// unwrapped). The marker method keeps arbitrary errors from satisfying
// the interface by accident.
type FsWatcherError interface {
	error
	fsWatcherError()
}

// WalkError reports failure to access the root of a walk. Per-entry
// errors below the root are not wrapped in WalkError; they are skipped,
// and sent on the caller's error channel when one is supplied.
type WalkError struct {
	Root string
	Err  error
}

func (e *WalkError) Error() string {
	return fmt.Sprintf("walk %s: %v", e.Root, e.Err)
}
func (e *WalkError) Unwrap() error { return e.Err }
func (*WalkError) fsWatcherError() {}

// HashError reports a hashing failure: an unknown algorithm, a worker
// pool that could not be constructed, or an open/read failure on the
// named path.
type HashError struct {
	Path string
	Err  error
}

func (e *HashError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("hash: %v", e.Err)
	}
	return fmt.Sprintf("hash %s: %v", e.Path, e.Err)
}
func (e *HashError) Unwrap() error { return e.Err }
func (*HashError) fsWatcherError() {}

// CopyError reports a copy/move failure: enumeration failure, a write
// failure, an overwrite refusal, or a destination that is a file where
// a directory was required.
type CopyError struct {
	Path string
	Err  error
}

func (e *CopyError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("copy: %v", e.Err)
	}
	return fmt.Sprintf("copy %s: %v", e.Path, e.Err)
}
func (e *CopyError) Unwrap() error { return e.Err }
func (*CopyError) fsWatcherError() {}

// WatchError reports a watcher failure: the native watch could not be
// installed, or the event source overflowed/failed at runtime. A
// WatchError delivered in-band on FileWatcher.Errors does not stop the
// watcher; it keeps delivering events until Stop is called.
type WatchError struct {
	Path string
	Err  error
}

func (e *WatchError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("watch: %v", e.Err)
	}
	return fmt.Sprintf("watch %s: %v", e.Path, e.Err)
}
func (e *WatchError) Unwrap() error { return e.Err }
func (*WatchError) fsWatcherError() {}
