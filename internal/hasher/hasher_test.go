package hasher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fswatcher-go/fswatcher/internal/cache"
	"github.com/fswatcher-go/fswatcher/internal/fserrors"
	"github.com/fswatcher-go/fswatcher/internal/fsmodel"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestHashFileEmptySHA256(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "empty.bin")
	writeFile(t, p, nil)

	res, err := HashFile(p, fsmodel.SHA256, DefaultChunkSize)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if res.HashHex != want {
		t.Errorf("empty file sha256 = %s, want %s", res.HashHex, want)
	}
	if res.Size != 0 {
		t.Errorf("Size = %d, want 0", res.Size)
	}
}

func TestHashFileKnownContentSHA256(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "hello.txt")
	writeFile(t, p, []byte("hello world"))

	res, err := HashFile(p, fsmodel.SHA256, DefaultChunkSize)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if res.HashHex != want {
		t.Errorf("hash = %s, want %s", res.HashHex, want)
	}
}

func TestHashFileLargerThanMmapThreshold(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "big.bin")
	content := make([]byte, mmapThreshold+1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	writeFile(t, p, content)

	viaMmap, err := HashFile(p, fsmodel.SHA256, DefaultChunkSize)
	if err != nil {
		t.Fatalf("HashFile (mmap path) failed: %v", err)
	}

	// Hash a truncated copy just under the threshold, which takes the
	// buffered path, and check that the two differently sized inputs do
	// not come out with the same digest.
	smallP := filepath.Join(dir, "small.bin")
	writeFile(t, smallP, content[:mmapThreshold-1])
	viaBuffered, err := HashFile(smallP, fsmodel.SHA256, DefaultChunkSize)
	if err != nil {
		t.Fatalf("HashFile (buffered path) failed: %v", err)
	}
	if viaMmap.HashHex == viaBuffered.HashHex {
		t.Fatalf("expected different digests for different content, both got %s", viaMmap.HashHex)
	}
	if viaMmap.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", viaMmap.Size, len(content))
	}
}

func TestHashFileAlgorithmsDisagree(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f.txt")
	writeFile(t, p, []byte("content for algorithm comparison"))

	sha, err := HashFile(p, fsmodel.SHA256, DefaultChunkSize)
	if err != nil {
		t.Fatalf("sha256 failed: %v", err)
	}
	b3, err := HashFile(p, fsmodel.BLAKE3, DefaultChunkSize)
	if err != nil {
		t.Fatalf("blake3 failed: %v", err)
	}
	if sha.HashHex == b3.HashHex {
		t.Error("sha256 and blake3 produced identical hex, expected different algorithms to differ")
	}
}

func TestHashFileMissingPath(t *testing.T) {
	_, err := HashFile("/nonexistent/path/file.txt", fsmodel.SHA256, DefaultChunkSize)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	var hashErr *fserrors.HashError
	if !errors.As(err, &hashErr) {
		t.Errorf("expected *fserrors.HashError, got %T", err)
	}
}

func TestHashFileUnknownAlgorithm(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f.txt")
	writeFile(t, p, []byte("x"))

	_, err := HashFile(p, fsmodel.HashAlgorithm("md5"), DefaultChunkSize)
	if err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestHashFilesParallelMatchesSequential(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 20; i++ {
		p := filepath.Join(dir, "file"+string(rune('a'+i))+".txt")
		writeFile(t, p, []byte("payload number "+string(rune('0'+i%10))))
		paths = append(paths, p)
	}

	results, err := HashFiles(context.Background(), paths, fsmodel.SHA256, DefaultChunkSize, Options{MaxWorkers: 4}, nil)
	if err != nil {
		t.Fatalf("HashFiles failed: %v", err)
	}
	if len(results) != len(paths) {
		t.Fatalf("got %d results, want %d", len(results), len(paths))
	}

	seen := make(map[string]bool)
	for _, r := range results {
		seen[r.Path] = true
		seq, err := HashFile(r.Path, fsmodel.SHA256, DefaultChunkSize)
		if err != nil {
			t.Fatalf("HashFile(%s) failed: %v", r.Path, err)
		}
		if r.HashHex != seq.HashHex {
			t.Errorf("%s: parallel hash %s, sequential hash %s", r.Path, r.HashHex, seq.HashHex)
		}
	}
	for _, p := range paths {
		if !seen[p] {
			t.Errorf("missing result for %s", p)
		}
	}
}

func TestHashFilesAbortsOnFirstFailure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	writeFile(t, good, []byte("ok"))
	missing := filepath.Join(dir, "does-not-exist.txt")

	results, err := HashFiles(context.Background(), []string{good, missing}, fsmodel.SHA256, DefaultChunkSize, Options{MaxWorkers: 2}, nil)
	if err == nil {
		t.Fatal("expected error when one path is missing")
	}
	if results != nil {
		t.Errorf("expected nil results on failure, got %v", results)
	}
}

func TestHashFilesEmptyInput(t *testing.T) {
	results, err := HashFiles(context.Background(), nil, fsmodel.SHA256, DefaultChunkSize, Options{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for empty input, got %v", results)
	}
}

func TestHashFileUsesCache(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.db")
	c, err := cache.Open(cachePath)
	if err != nil {
		t.Fatalf("cache.Open failed: %v", err)
	}
	defer func() { _ = c.Close() }()

	p := filepath.Join(dir, "cached.txt")
	writeFile(t, p, []byte("cache me"))

	first, err := hashFileWithCache(p, fsmodel.SHA256, DefaultChunkSize, c)
	if err != nil {
		t.Fatalf("first hash failed: %v", err)
	}

	// Lookups read the cache file as it stood at Open, so close and reopen
	// it to make the first digest visible.
	if err := c.Close(); err != nil {
		t.Fatalf("cache.Close failed: %v", err)
	}
	c, err = cache.Open(cachePath)
	if err != nil {
		t.Fatalf("cache.Open (reopen) failed: %v", err)
	}

	// Overwrite the file with same-size content and restore its mtime: if
	// the cache is actually consulted, the rewrite goes unnoticed and the
	// stale digest comes back.
	info, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, p, []byte("CACHE ME"))
	if err := os.Chtimes(p, info.ModTime(), info.ModTime()); err != nil {
		t.Fatal(err)
	}
	second, err := hashFileWithCache(p, fsmodel.SHA256, DefaultChunkSize, c)
	if err != nil {
		t.Fatalf("second hash failed: %v", err)
	}
	if first.HashHex != second.HashHex {
		t.Errorf("expected cache hit to return same digest, got %s vs %s", first.HashHex, second.HashHex)
	}
}
