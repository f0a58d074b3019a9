// Package fsmodel holds the immutable record types shared across the
// walker, hasher, transfer, watcher, and dedup packages.
package fsmodel

import "fmt"

// Kind identifies what kind of filesystem node a WalkEntry describes.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
	KindSymlink   Kind = "symlink"
)

// WalkEntry describes one filesystem node produced by a walk.
//
// Path is always absolute and canonicalized consistently with the root
// of the walk that produced it. Depth counts from the root: direct
// children of root have depth 1.
type WalkEntry struct {
	Path  string
	Kind  Kind
	Depth int
	Size  int64
}

func (e WalkEntry) IsFile() bool    { return e.Kind == KindFile }
func (e WalkEntry) IsDir() bool     { return e.Kind == KindDirectory }
func (e WalkEntry) IsSymlink() bool { return e.Kind == KindSymlink }

// HashAlgorithm enumerates the digest algorithms the hasher supports.
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
	BLAKE3 HashAlgorithm = "blake3"
)

// HashResult is the outcome of hashing one file's content.
//
// Equality and identity-as-key are defined by (Algorithm, HashHex); Path
// and Size are descriptive only and not part of equality.
type HashResult struct {
	Path      string
	Algorithm HashAlgorithm
	HashHex   string
	Size      int64
}

// Key returns the (algorithm, hash) pair that defines equality for a
// HashResult, suitable for use as a map key.
func (h HashResult) Key() [2]string {
	return [2]string{string(h.Algorithm), h.HashHex}
}

func (h HashResult) Equal(other HashResult) bool {
	return h.Key() == other.Key()
}

// CopyProgress is a disposable snapshot of an in-flight copy or move
// operation, delivered to a caller-supplied progress callback.
type CopyProgress struct {
	SourceBase      string
	DestinationBase string
	BytesCopied     int64
	TotalBytes      int64
	FilesCompleted  int
	TotalFiles      int
	CurrentFile     string
}

// ChangeType classifies a canonical filesystem change event.
type ChangeType string

const (
	Created  ChangeType = "created"
	Modified ChangeType = "modified"
	Deleted  ChangeType = "deleted"
)

// FileChange is one canonical, debounced filesystem event.
type FileChange struct {
	Path       string
	ChangeType ChangeType
	IsDir      bool
	Timestamp  float64 // Unix seconds, fractional
}

// DuplicateGroup is a set of paths confirmed to share identical content.
type DuplicateGroup struct {
	HashHex   string
	Algorithm HashAlgorithm
	FileSize  int64
	Paths     []string
}

// WastedBytes is the storage reclaimable by keeping a single copy of the
// group's content: FileSize * (len(Paths) - 1).
func (g DuplicateGroup) WastedBytes() int64 {
	if len(g.Paths) == 0 {
		return 0
	}
	return g.FileSize * int64(len(g.Paths)-1)
}

func (g DuplicateGroup) String() string {
	return fmt.Sprintf("%d files, %s digest %s, %d bytes wasted",
		len(g.Paths), g.Algorithm, g.HashHex, g.WastedBytes())
}

// Semaphore implements a counting semaphore using a buffered channel. It
// limits concurrent access to a resource by blocking when the limit is
// reached.
type Semaphore chan struct{}

// NewSemaphore creates a semaphore that allows up to n concurrent
// acquisitions.
func NewSemaphore(n int) Semaphore { return make(chan struct{}, n) }

// Acquire blocks until a slot is available, then claims it.
func (s Semaphore) Acquire() { s <- struct{}{} }

// Release frees a slot, unblocking one waiting Acquire call.
func (s Semaphore) Release() { <-s }
