package dedup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fswatcher-go/fswatcher/internal/fsmodel"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFindDuplicatesBasic(t *testing.T) {
	root := t.TempDir()
	content := []byte("identical payload identical payload")
	writeFile(t, filepath.Join(root, "a.txt"), content)
	writeFile(t, filepath.Join(root, "b.txt"), content)
	writeFile(t, filepath.Join(root, "c.txt"), []byte("unique payload unique payload unique"))

	groups, err := FindDuplicates(context.Background(), []string{root}, Options{Recursive: true, Algorithm: fsmodel.SHA256})
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if len(groups[0].Paths) != 2 {
		t.Fatalf("group has %d paths, want 2", len(groups[0].Paths))
	}
}

func TestFindDuplicatesUniqueSizeDroppedAtStage1(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "unique.txt"), []byte("a single file with a distinct size"))

	groups, err := FindDuplicates(context.Background(), []string{root}, Options{Recursive: true})
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("got %d groups, want 0", len(groups))
	}
}

func TestFindDuplicatesMinSizeFiltersSmallFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), []byte("xy"))
	writeFile(t, filepath.Join(root, "b.txt"), []byte("xy"))

	groups, err := FindDuplicates(context.Background(), []string{root}, Options{Recursive: true, MinSize: 100})
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("expected files below MinSize to be excluded, got %d groups", len(groups))
	}
}

func TestFindDuplicatesSameSizeDifferentContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), []byte("AAAAAAAAAA"))
	writeFile(t, filepath.Join(root, "b.txt"), []byte("BBBBBBBBBB"))

	groups, err := FindDuplicates(context.Background(), []string{root}, Options{Recursive: true})
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("same-size, different-content files should not be grouped, got %d groups", len(groups))
	}
}

func TestFindDuplicatesSmallFileFallsBackToWholeFile(t *testing.T) {
	root := t.TempDir()
	// Smaller than PartialHashSize, exercising the whole-file fallback at stage 2.
	writeFile(t, filepath.Join(root, "a.txt"), []byte("tiny"))
	writeFile(t, filepath.Join(root, "b.txt"), []byte("tiny"))

	groups, err := FindDuplicates(context.Background(), []string{root}, Options{Recursive: true, PartialHashSize: 4096})
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
}

func TestFindDuplicatesPathsSortedWithinGroup(t *testing.T) {
	root := t.TempDir()
	content := []byte("sorted path content sorted path content")
	writeFile(t, filepath.Join(root, "zebra.txt"), content)
	writeFile(t, filepath.Join(root, "alpha.txt"), content)

	groups, err := FindDuplicates(context.Background(), []string{root}, Options{Recursive: true})
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	paths := groups[0].Paths
	if filepath.Base(paths[0]) != "alpha.txt" || filepath.Base(paths[1]) != "zebra.txt" {
		t.Errorf("paths not sorted lexicographically: %v", paths)
	}
}

func TestFindDuplicatesOrderedByWastedBytesDescending(t *testing.T) {
	root := t.TempDir()
	small := []byte("small dup small dup")
	large := make([]byte, 10000)
	for i := range large {
		large[i] = byte(i % 7)
	}

	writeFile(t, filepath.Join(root, "s1.txt"), small)
	writeFile(t, filepath.Join(root, "s2.txt"), small)
	writeFile(t, filepath.Join(root, "l1.txt"), large)
	writeFile(t, filepath.Join(root, "l2.txt"), large)

	groups, err := FindDuplicates(context.Background(), []string{root}, Options{Recursive: true})
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].WastedBytes() < groups[1].WastedBytes() {
		t.Errorf("groups not sorted by wasted bytes descending: %v then %v", groups[0].WastedBytes(), groups[1].WastedBytes())
	}
}

func TestFindDuplicatesNonRecursiveIgnoresNestedDirs(t *testing.T) {
	root := t.TempDir()
	content := []byte("nested duplicate content nested duplicate")
	writeFile(t, filepath.Join(root, "top.txt"), content)
	writeFile(t, filepath.Join(root, "nested", "deep.txt"), content)

	groups, err := FindDuplicates(context.Background(), []string{root}, Options{Recursive: false})
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("non-recursive search should not find the nested duplicate, got %d groups", len(groups))
	}
}

func TestFindDuplicatesProgressCallbackInvoked(t *testing.T) {
	root := t.TempDir()
	content := []byte("progress callback content progress callback")
	writeFile(t, filepath.Join(root, "a.txt"), content)
	writeFile(t, filepath.Join(root, "b.txt"), content)

	stages := make(map[string]bool)
	_, err := FindDuplicates(context.Background(), []string{root}, Options{
		Recursive: true,
		ProgressCallback: func(stage string, processed, total int) {
			stages[stage] = true
		},
	})
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	for _, want := range []string{"collecting", "partial_hash", "full_hash"} {
		if !stages[want] {
			t.Errorf("expected a progress callback for stage %q", want)
		}
	}
}
