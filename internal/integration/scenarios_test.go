// Package integration exercises the five components together against
// the concrete end-to-end scenarios their individual unit tests don't
// cover in combination: a filtered walk, an empty-file digest, a
// three-file dedup run, a throttled copy, a debounced watch with an
// ignore pattern, and a same-volume move.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fswatcher-go/fswatcher/internal/dedup"
	"github.com/fswatcher-go/fswatcher/internal/fsmodel"
	"github.com/fswatcher-go/fswatcher/internal/hasher"
	"github.com/fswatcher-go/fswatcher/internal/testfs"
	"github.com/fswatcher-go/fswatcher/internal/transfer"
	"github.com/fswatcher-go/fswatcher/internal/walker"
	"github.com/fswatcher-go/fswatcher/internal/watcher"
)

// Scenario 1: a filtered, globbed walk yields exactly the *.py files.
func TestScenarioWalkFiltersByGlobAndType(t *testing.T) {
	root := testfs.Build(t, t.TempDir(),
		testfs.File{Path: "a.py", Content: string(make([]byte, 100))},
		testfs.File{Path: "b.txt", Content: string(make([]byte, 50))},
		testfs.File{Path: "s/c.py", Content: string(make([]byte, 200))},
	)

	entries, err := walker.Walk(context.Background(), root, walker.Options{
		Unlimited:   true,
		FileType:    walker.OnlyFile,
		GlobPattern: "*.py",
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	var got []string
	for _, e := range entries {
		got = append(got, e.Path)
	}
	testfs.AssertPathSet(t, got, []string{
		filepath.Join(root, "a.py"),
		filepath.Join(root, "s", "c.py"),
	})
}

// Scenario 2: hashing an empty file with blake3 yields the algorithm's
// well-known empty-input digest.
func TestScenarioHashEmptyFileBlake3(t *testing.T) {
	path := testfs.WriteFile(t, t.TempDir(), "empty", "")

	result, err := hasher.HashFile(path, fsmodel.BLAKE3, hasher.DefaultChunkSize)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}

	const wantEmptyBlake3 = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	if result.HashHex != wantEmptyBlake3 {
		t.Errorf("HashHex = %q, want %q", result.HashHex, wantEmptyBlake3)
	}
}

// Scenario 3: two identical 1 MiB files and one different file yield
// exactly one duplicate group with the expected wasted-bytes total.
func TestScenarioFindDuplicatesOneGroup(t *testing.T) {
	const size = 1 << 20
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i)
	}
	different := make([]byte, size)
	copy(different, content)
	different[0] ^= 0xFF

	root := t.TempDir()
	x := testfs.WriteFile(t, root, "x", string(content))
	y := testfs.WriteFile(t, root, "y", string(content))
	z := testfs.WriteFile(t, root, "z", string(different))

	groups, err := dedup.FindDuplicates(context.Background(), []string{x, y, z}, dedup.Options{
		Algorithm: fsmodel.SHA256,
	})
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}

	if len(groups) != 1 {
		t.Fatalf("len(groups) = %d, want 1 (%v)", len(groups), groups)
	}
	g := groups[0]
	testfs.AssertPathSet(t, g.Paths, []string{x, y})
	if g.WastedBytes() != size {
		t.Errorf("WastedBytes = %d, want %d", g.WastedBytes(), size)
	}
}

// Scenario 4: copying a file reports a final callback with
// bytes_copied == total_bytes, and the destination content matches the
// source.
func TestScenarioCopyReportsFinalCallbackAtTotal(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()
	content := string(make([]byte, 64<<10))
	src := testfs.WriteFile(t, srcRoot, "big.bin", content)

	var calls []fsmodel.CopyProgress
	_, err := transfer.CopyFiles(context.Background(), []string{src}, dstRoot, transfer.Options{
		CallbackIntervalMs: 1,
		ProgressCallback: func(p fsmodel.CopyProgress) {
			calls = append(calls, p)
		},
	})
	if err != nil {
		t.Fatalf("CopyFiles: %v", err)
	}

	if len(calls) == 0 {
		t.Fatal("expected at least one progress callback")
	}
	last := calls[len(calls)-1]
	if last.BytesCopied != last.TotalBytes {
		t.Errorf("final callback BytesCopied = %d, want %d", last.BytesCopied, last.TotalBytes)
	}
	testfs.AssertSameContent(t, src, filepath.Join(dstRoot, "big.bin"))
}

// Scenario 5: creating an ignored file then a non-ignored file inside a
// debounce window produces a single batch with only the non-ignored
// created event.
func TestScenarioWatchIgnorePatternSuppressesEvent(t *testing.T) {
	root := t.TempDir()

	w, err := watcher.New(root, watcher.Options{
		DebounceMs:     200,
		IgnorePatterns: []string{"*.tmp"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = w.Stop() }()

	tmpPath := filepath.Join(root, "foo.tmp")
	logPath := filepath.Join(root, "foo.log")
	if err := os.WriteFile(tmpPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write tmp: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(logPath, []byte("y"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	batch := w.PollEvents(1000)
	if len(batch) != 1 {
		t.Fatalf("len(batch) = %d, want 1 (%v)", len(batch), batch)
	}
	if batch[0].Path != logPath {
		t.Errorf("batch[0].Path = %q, want %q", batch[0].Path, logPath)
	}
	if batch[0].ChangeType != fsmodel.Created {
		t.Errorf("batch[0].ChangeType = %q, want %q", batch[0].ChangeType, fsmodel.Created)
	}
}

// Scenario 6: moving a file within the same volume completes via
// rename and never invokes the progress callback.
func TestScenarioMoveSameVolumeSkipsProgressCallback(t *testing.T) {
	root := t.TempDir()
	srcDir := filepath.Join(root, "src")
	dstDir := filepath.Join(root, "dst")
	src := testfs.WriteFile(t, srcDir, "a", "payload")

	called := false
	completed, err := transfer.MoveFiles(context.Background(), []string{src}, dstDir, transfer.Options{
		ProgressCallback: func(fsmodel.CopyProgress) { called = true },
	})
	if err != nil {
		t.Fatalf("MoveFiles: %v", err)
	}
	if called {
		t.Error("progress callback invoked for a same-volume rename")
	}
	if len(completed) != 1 {
		t.Fatalf("len(completed) = %d, want 1", len(completed))
	}
	testfs.AssertMissing(t, src)
	testfs.AssertFileContent(t, filepath.Join(dstDir, "a"), "payload")
}
