// Package watcher wraps the native filesystem notification mechanism
// (inotify/FSEvents/ReadDirectoryChangesW, via fsnotify) into a
// debounced stream of canonical file-change batches.
//
// Construction installs a watch on the root and, when Recursive is set,
// on every directory discovered beneath it; fsnotify itself only ever
// watches the directories it is explicitly told about, so newly created
// directories are added to the watch set as their creation events
// arrive. This mirrors the operational story the teacher's obsidian
// cache-service example tells (one-time crawl to install watches, then
// a translate loop), generalized from a cache-invalidation signal into
// a general-purpose debounced change stream.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/fswatcher-go/fswatcher/internal/fserrors"
	"github.com/fswatcher-go/fswatcher/internal/fsmodel"
	"github.com/fswatcher-go/fswatcher/internal/walker"
)

// Options configures a FileWatcher.
type Options struct {
	Recursive      bool
	DebounceMs     int
	IgnorePatterns []string
}

// FileWatcher watches a root path and delivers debounced batches of
// canonical file changes. Safe for use as a scoped resource: callers
// should always call Stop when done, even on an early return.
type FileWatcher struct {
	root string
	opts Options

	fsw *fsnotify.Watcher

	mu       sync.Mutex
	pending  map[string][]pendingEvent
	timers   map[string]*time.Timer
	watching map[string]bool

	deliveries chan []fsmodel.FileChange
	errCh      chan error

	stopOnce sync.Once
	done     chan struct{}
}

type pendingEvent struct {
	change fsmodel.ChangeType
	isDir  bool
}

// New constructs and starts a FileWatcher rooted at path.
func New(path string, opts Options) (*FileWatcher, error) {
	absRoot, err := filepath.Abs(path)
	if err != nil {
		return nil, &fserrors.WatchError{Path: path, Err: err}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &fserrors.WatchError{Path: absRoot, Err: err}
	}

	w := &FileWatcher{
		root:       absRoot,
		opts:       opts,
		fsw:        fsw,
		pending:    make(map[string][]pendingEvent),
		timers:     make(map[string]*time.Timer),
		watching:   make(map[string]bool),
		deliveries: make(chan []fsmodel.FileChange, 64),
		errCh:      make(chan error, 16),
		done:       make(chan struct{}),
	}

	if err := w.installWatch(absRoot); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	if opts.Recursive {
		dirs, err := walker.Walk(context.Background(), absRoot, walker.Options{
			Unlimited: true,
			FileType:  walker.OnlyDir,
		})
		if err != nil {
			_ = fsw.Close()
			return nil, &fserrors.WatchError{Path: absRoot, Err: err}
		}
		for _, d := range dirs {
			if d.Path == absRoot {
				continue
			}
			if err := w.installWatch(d.Path); err != nil {
				_ = fsw.Close()
				return nil, err
			}
		}
	}

	go w.loop()
	return w, nil
}

func (w *FileWatcher) installWatch(dir string) error {
	if err := w.fsw.Add(dir); err != nil {
		return &fserrors.WatchError{Path: dir, Err: err}
	}
	w.mu.Lock()
	w.watching[dir] = true
	w.mu.Unlock()
	return nil
}

// Stop releases the native watch and closes the delivery channel. Safe
// to call more than once; subsequent calls are no-ops.
func (w *FileWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

// PollEvents waits up to timeoutMs for the next available batch,
// returning an empty batch on timeout.
func (w *FileWatcher) PollEvents(timeoutMs int) []fsmodel.FileChange {
	select {
	case batch := <-w.deliveries:
		return batch
	case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
		return nil
	case <-w.done:
		return nil
	}
}

// Iter returns the delivery channel for range-based consumption; it
// closes when Stop is called.
func (w *FileWatcher) Iter() <-chan []fsmodel.FileChange {
	return w.deliveries
}

// Errors returns the channel on which in-band WatchErrors are delivered
// (install failures for newly discovered directories, and translated
// fsnotify.Watcher.Errors() overflow/failure notifications).
func (w *FileWatcher) Errors() <-chan error {
	return w.errCh
}

func (w *FileWatcher) loop() {
	defer close(w.deliveries)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.sendError(&fserrors.WatchError{Err: err})
		case <-w.done:
			return
		}
	}
}

func (w *FileWatcher) sendError(err error) {
	select {
	case w.errCh <- err:
	default: // drop if nobody is listening; errCh is informational only
	}
}

// handleEvent translates one raw fsnotify event, drops it if it matches
// an ignore pattern, and folds it into the per-path debounce window.
func (w *FileWatcher) handleEvent(ev fsnotify.Event) {
	if w.matchesIgnore(ev.Name) {
		return
	}

	change, ok := translate(ev.Op)
	if !ok {
		return
	}

	isDir := w.opts.Recursive && change == fsmodel.Created && w.looksLikeDirectory(ev.Name)
	if isDir {
		if err := w.installWatch(ev.Name); err != nil {
			w.sendError(err) // the created event itself is still delivered
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[ev.Name] = append(w.pending[ev.Name], pendingEvent{change: change, isDir: isDir})

	path := ev.Name
	if t, exists := w.timers[path]; exists {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(time.Duration(w.opts.DebounceMs)*time.Millisecond, func() {
		w.flush(path)
	})
}

// flush collapses the accumulated events for one path using the
// precedence rule and delivers a single-path batch.
func (w *FileWatcher) flush(path string) {
	w.mu.Lock()
	events, ok := w.pending[path]
	delete(w.pending, path)
	delete(w.timers, path)
	w.mu.Unlock()

	if !ok || len(events) == 0 {
		return
	}

	final := collapse(events)
	select {
	case w.deliveries <- []fsmodel.FileChange{{
		Path:       path,
		ChangeType: final.change,
		IsDir:      final.isDir,
		Timestamp:  float64(time.Now().UnixNano()) / 1e9,
	}}:
	case <-w.done:
	}
}

// collapse applies the precedence rule over one path's accumulated
// events within a debounce window. deleted always wins, since it
// reflects the path's true final state. Otherwise, if the window opens
// with created — meaning the consumer has not yet been told this path
// exists — any subsequent modified events are folded into that created
// rather than reported as modified, since the consumer never saw a
// prior version to consider "modified". Absent either of those, the
// strongest event observed is modified.
func collapse(events []pendingEvent) pendingEvent {
	last := events[len(events)-1]

	for _, e := range events {
		if e.change == fsmodel.Deleted {
			last = e
		}
	}
	if last.change == fsmodel.Deleted {
		return last
	}

	if events[0].change == fsmodel.Created {
		return pendingEvent{change: fsmodel.Created, isDir: events[0].isDir}
	}

	for _, e := range events {
		if e.change == fsmodel.Modified {
			return e
		}
	}
	return last
}

func translate(op fsnotify.Op) (fsmodel.ChangeType, bool) {
	switch {
	case op&fsnotify.Remove != 0 || op&fsnotify.Rename != 0:
		return fsmodel.Deleted, true
	case op&fsnotify.Create != 0:
		return fsmodel.Created, true
	case op&fsnotify.Write != 0 || op&fsnotify.Chmod != 0:
		return fsmodel.Modified, true
	default:
		return "", false
	}
}

func (w *FileWatcher) looksLikeDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// matchesIgnore matches path against each ignore pattern. A pattern with
// no path separator is matched against the basename only, so a bare
// pattern like "*.tmp" matches at any depth the way a shell glob would
// (doublestar's lone "*" does not cross "/"); a pattern containing a
// separator is matched against the full path, letting "**" patterns
// span directories.
func (w *FileWatcher) matchesIgnore(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.opts.IgnorePatterns {
		if !strings.ContainsRune(pattern, '/') {
			if matched, err := doublestar.Match(pattern, base); err == nil && matched {
				return true
			}
			continue
		}
		if matched, err := doublestar.Match(pattern, path); err == nil && matched {
			return true
		}
	}
	return false
}
