// Package cache provides an optional, file-backed cache of digest
// results keyed by file identity and byte range, so the hasher and
// dedup packages can skip re-reading a file whose content is known not
// to have changed since it was last hashed. Lookups see only the
// digests that were in the cache file when Open was called; digests
// stored during a session become visible after Close and a later Open.
//
// The cache is backed by BoltDB, following the teacher's self-cleaning
// design: opening a cache reads the existing file (if any) while writing
// a fresh one, and only entries actually looked up during the run
// survive into the replacement file. Per spec.md §6 ("Persistence:
// None"), nothing in this module opens a cache on its own — Open("")
// returns a disabled cache that is a no-op on every call — and a caller
// that wants cross-run reuse must explicitly pass a path.
package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketName = "digests"

const keyVersion byte = 1 // Increment when key format changes.

// Key identifies the byte range of a file whose digest is being cached.
// RangeSize of 0 means "whole file".
type Key struct {
	Path      string
	Size      int64
	ModTime   time.Time
	Algorithm string
	Start     int64
	RangeSize int64
}

// Cache caches digest bytes across runs that open the same cache file.
// It is safe for concurrent use by multiple goroutines.
type Cache struct {
	readDB  *bolt.DB
	writeDB *bolt.DB
	path    string
	enabled bool
}

// Open opens an existing cache for reading (if present) and creates a
// fresh cache for writing. Returns a disabled cache if path is empty.
func Open(path string) (*Cache, error) {
	if path == "" {
		return &Cache{enabled: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{path: path, enabled: true}

	if _, statErr := os.Stat(path); statErr == nil {
		if readDB, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true, Timeout: time.Second}); err == nil {
			c.readDB = readDB
		}
	}

	newPath := path + ".new"
	writeDB, err := bolt.Open(newPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create new cache (locked by another instance?): %w", err)
	}
	c.writeDB = writeDB

	if err := c.writeDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// Close closes both databases and atomically replaces the old cache
// file with the new one, provided the write database closed cleanly.
func (c *Cache) Close() error {
	var errs []error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.writeDB != nil {
		if err := c.writeDB.Close(); err != nil {
			errs = append(errs, err)
		} else if c.path != "" {
			if err := os.Rename(c.path+".new", c.path); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// makeKey builds a deterministic byte key for BoltDB lookup.
// Key = ver(1) + path + NUL + algorithm + NUL + size(8) + mtime(8) + start(8) + rangeSize(8)
func makeKey(k Key) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(keyVersion)
	buf.WriteString(k.Path)
	buf.WriteByte(0)
	buf.WriteString(k.Algorithm)
	buf.WriteByte(0)
	_ = binary.Write(buf, binary.BigEndian, k.Size)
	_ = binary.Write(buf, binary.BigEndian, k.ModTime.UnixNano())
	_ = binary.Write(buf, binary.BigEndian, k.Start)
	_ = binary.Write(buf, binary.BigEndian, k.RangeSize)
	return buf.Bytes()
}

// Lookup retrieves a cached digest, or (nil, nil) on a miss. A hit is
// copied into the write database so it survives Close's self-cleaning
// swap.
func (c *Cache) Lookup(k Key) ([]byte, error) {
	if !c.enabled || c.readDB == nil {
		return nil, nil
	}

	key := makeKey(k)
	var digest []byte

	err := c.readDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		if data := b.Get(key); data != nil {
			digest = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	if digest == nil {
		return nil, nil
	}

	_ = c.Store(k, digest) // self-cleaning: keep entries actually used
	return digest, nil
}

// Store saves a digest for a key into the write database.
func (c *Cache) Store(k Key, digest []byte) error {
	if !c.enabled || c.writeDB == nil || len(digest) == 0 {
		return nil
	}
	err := c.writeDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put(makeKey(k), digest)
	})
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}
