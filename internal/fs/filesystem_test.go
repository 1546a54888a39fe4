package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"devcat/internal/devcat"
)

func writeTree(t *testing.T, fsys afero.Fs, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := afero.WriteFile(fsys, path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
}

func collect(t *testing.T, w *Walker, ctx context.Context, root string) ([]devcat.FileObservation, error) {
	t.Helper()
	var got []devcat.FileObservation
	for obs, err := range w.Walk(ctx, root) {
		if err != nil {
			return got, err
		}
		got = append(got, obs)
	}
	return got, nil
}

func TestWalker_Walk(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, "/mnt/vol", map[string]string{
		"b.txt":                             "bb",
		"a/z.json":                          "{}",
		"a/y":                               "hello",
		"lost+found/orphan":                 "x",
		".Trash-1000/files/old.txt":         "x",
		"System Volume Information/tracker": "x",
		"cache/tmp.bin":                     "x",
		"notes.log":                         "x",
		IgnoreFileName:                      "cache/\n*.log\n",
	})

	w := NewWalker(fsys, nil, true, devcat.NewNopLogger())
	got, err := collect(t, w, context.Background(), "/mnt/vol")
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	want := []devcat.FileObservation{
		{Filename: "y", Size: 5, ContentType: "text/plain", Path: "/mnt/vol/a/y"},
		{Filename: "z.json", Size: 2, ContentType: "application/json", Path: "/mnt/vol/a/z.json"},
		{Filename: "b.txt", Size: 2, Path: "/mnt/vol/b.txt"},
	}
	if len(got) != len(want) {
		t.Fatalf("Walk() yielded %d files, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Path != want[i].Path || got[i].Filename != want[i].Filename || got[i].Size != want[i].Size {
			t.Errorf("file %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if got[1].ContentType != "application/json" {
		t.Errorf("ContentType(z.json) = %q, want application/json", got[1].ContentType)
	}
	if got[0].ContentType != "text/plain" {
		t.Errorf("ContentType(y) = %q, want text/plain", got[0].ContentType)
	}
}

func TestWalker_ConfiguredIgnores(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, "/mnt/vol", map[string]string{
		"keep.txt":       "k",
		"build/out.o":    "o",
		"src/main.o":     "o",
		"src/main.c":     "c",
		"deep/build/x.o": "o",
	})

	w := NewWalker(fsys, []string{"build/*.o", "main.o"}, false, devcat.NewNopLogger())
	got, err := collect(t, w, context.Background(), "/mnt/vol")
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	var paths []string
	for _, obs := range got {
		paths = append(paths, obs.Path)
	}
	want := []string{"/mnt/vol/deep/build/x.o", "/mnt/vol/keep.txt", "/mnt/vol/src/main.c"}
	if len(paths) != len(want) {
		t.Fatalf("Walk() paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestWalker_StopsWhenConsumerStops(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, "/v", map[string]string{"a": "1", "b": "2", "c": "3"})

	w := NewWalker(fsys, nil, false, devcat.NewNopLogger())
	n := 0
	for _, err := range w.Walk(context.Background(), "/v") {
		if err != nil {
			t.Fatalf("Walk() error = %v", err)
		}
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("consumed %d files, want 2", n)
	}
}

func TestWalker_Cancellation(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, "/v", map[string]string{"a": "1", "b": "2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWalker(fsys, nil, false, devcat.NewNopLogger())
	got, err := collect(t, w, ctx, "/v")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Walk() error = %v, want context.Canceled", err)
	}
	if len(got) != 0 {
		t.Errorf("Walk() yielded %d files before failing, want 0", len(got))
	}
}

func TestWalker_MissingRoot(t *testing.T) {
	w := NewWalker(afero.NewMemMapFs(), nil, false, devcat.NewNopLogger())
	if _, err := collect(t, w, context.Background(), "/not/mounted"); err == nil {
		t.Fatal("Walk() expected error for missing root")
	}
}

func TestWalker_RootIsFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, "/", map[string]string{"file": "x"})

	w := NewWalker(fsys, nil, false, devcat.NewNopLogger())
	if _, err := collect(t, w, context.Background(), "/file"); err == nil {
		t.Fatal("Walk() expected error when root is a file")
	}
}

func TestOSWalker_SkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "real.txt"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "elsewhere")); err != nil {
		t.Fatal(err)
	}

	w := NewOSWalker(nil, false, devcat.NewNopLogger())
	got, err := collect(t, w, context.Background(), root)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(got) != 1 || got[0].Filename != "real.txt" {
		t.Fatalf("Walk() = %+v, want only real.txt", got)
	}
	if got[0].Size != 4 {
		t.Errorf("Size = %d, want 4", got[0].Size)
	}
}

func TestContentType(t *testing.T) {
	fsys := afero.NewMemMapFs()
	png := "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"
	writeTree(t, fsys, "/v", map[string]string{
		"photo.PNG": "not really a png",
		"image":     png,
		"blob.zzq":  "\x00\x01\x02\x03",
		"readme":    "plain words here\n",
	})

	tests := []struct {
		path  string
		sniff bool
		want  string
	}{
		{path: "/v/photo.PNG", sniff: false, want: "image/png"},
		{path: "/v/image", sniff: true, want: "image/png"},
		{path: "/v/image", sniff: false, want: ""},
		{path: "/v/blob.zzq", sniff: true, want: ""},
		{path: "/v/readme", sniff: true, want: "text/plain"},
		{path: "/v/missing", sniff: true, want: ""},
	}

	for _, tt := range tests {
		t.Run(filepath.Base(tt.path), func(t *testing.T) {
			if got := ContentType(fsys, tt.path, tt.sniff); got != tt.want {
				t.Errorf("ContentType(%q, %v) = %q, want %q", tt.path, tt.sniff, got, tt.want)
			}
		})
	}
}
