package build

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStagingAreaAddFile(t *testing.T) {
	ctx := t.TempDir()
	if err := os.WriteFile(filepath.Join(ctx, "requirements.txt"), []byte("flask\n"), 0644); err != nil {
		t.Fatalf("writing context file: %v", err)
	}

	staging, err := newStagingArea(t.TempDir())
	if err != nil {
		t.Fatalf("creating staging area: %v", err)
	}

	if err := staging.addFile(ctx, "requirements.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(staging.root, "requirements.txt"))
	if err != nil {
		t.Fatalf("reading staged file: %v", err)
	}
	if string(got) != "flask\n" {
		t.Errorf("staged contents = %q, want %q", got, "flask\n")
	}
}

func TestStagingAreaAddFileErrors(t *testing.T) {
	ctx := t.TempDir()
	if err := os.Mkdir(filepath.Join(ctx, "pkg"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ctx, "requirements.txt"), []byte("flask\n"), 0644); err != nil {
		t.Fatal(err)
	}

	staging, err := newStagingArea(t.TempDir())
	if err != nil {
		t.Fatalf("creating staging area: %v", err)
	}
	if err := staging.addFile(ctx, "requirements.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		rel  string
	}{
		{name: "missing file", rel: "nope.txt"},
		{name: "directory", rel: "pkg"},
		{name: "already staged", rel: "requirements.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := staging.addFile(ctx, tt.rel); !errors.Is(err, ErrStage) {
				t.Errorf("error = %v, want ErrStage", err)
			}
		})
	}
}

func TestStagingAreaAddTreePreservesStagedFiles(t *testing.T) {
	ctx := t.TempDir()
	files := map[string]string{
		"requirements.txt": "flask==2.0.1\n",
		"newapp.py":        "app code\n",
	}
	for name, contents := range files {
		if err := os.WriteFile(filepath.Join(ctx, name), []byte(contents), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(ctx, "static"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ctx, "static", "style.css"), []byte("body{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	staging, err := newStagingArea(t.TempDir())
	if err != nil {
		t.Fatalf("creating staging area: %v", err)
	}
	if err := staging.addFile(ctx, "requirements.txt"); err != nil {
		t.Fatalf("staging manifest: %v", err)
	}

	// The manifest changes between staging steps. The earlier copy must
	// win.
	if err := os.WriteFile(filepath.Join(ctx, "requirements.txt"), []byte("mutated\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := staging.addTree(ctx); err != nil {
		t.Fatalf("staging tree: %v", err)
	}

	want := map[string]string{
		"requirements.txt": "flask==2.0.1\n",
		"newapp.py":        "app code\n",
		filepath.Join("static", "style.css"): "body{}\n",
	}
	for rel, contents := range want {
		got, err := os.ReadFile(filepath.Join(staging.root, rel))
		if err != nil {
			t.Errorf("reading %s: %v", rel, err)
			continue
		}
		if string(got) != contents {
			t.Errorf("%s = %q, want %q", rel, got, contents)
		}
	}
}
