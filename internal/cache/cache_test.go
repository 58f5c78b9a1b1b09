package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/layout"
)

func TestKey(t *testing.T) {
	base := digest.FromString("base")
	manifest := []byte("flask==3.0.0\n")

	key := Key(base, manifest, "pip install -r requirements.txt", "linux/amd64")
	if len(key) != 64 {
		t.Fatalf("key length = %d, want 64 hex chars", len(key))
	}

	if Key(base, manifest, "pip install -r requirements.txt", "linux/amd64") != key {
		t.Error("key is not deterministic")
	}

	variants := []string{
		Key(digest.FromString("other"), manifest, "pip install -r requirements.txt", "linux/amd64"),
		Key(base, []byte("flask==2.0.0\n"), "pip install -r requirements.txt", "linux/amd64"),
		Key(base, manifest, "pip install --no-deps -r requirements.txt", "linux/amd64"),
		Key(base, manifest, "pip install -r requirements.txt", "linux/arm64"),
	}
	for i, v := range variants {
		if v == key {
			t.Errorf("variant %d produced the same key", i)
		}
	}
}

func TestGetMiss(t *testing.T) {
	c := New(t.TempDir())

	_, ok, err := c.Get(Key(digest.FromString("base"), []byte("x"), "install", "linux/amd64"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("empty cache reported a hit")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	blob := filepath.Join(dir, "layer.tar.gz")
	if err := os.WriteFile(blob, []byte("layer-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	layer := layout.Layer{
		Path:   blob,
		Digest: digest.FromString("compressed"),
		DiffID: digest.FromString("uncompressed"),
		Size:   11,
	}

	key := Key(digest.FromString("base"), []byte("flask\n"), "pip install", "linux/amd64")
	cached, err := c.Put(key, layer)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if cached.Path == blob {
		t.Fatal("cached layer still points at the original blob")
	}

	got, ok, err := c.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("stored entry not found")
	}
	if got.Digest != layer.Digest || got.DiffID != layer.DiffID || got.Size != layer.Size {
		t.Fatalf("got %+v, want metadata of %+v", got, layer)
	}

	data, err := os.ReadFile(got.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "layer-bytes" {
		t.Fatalf("blob content = %q", data)
	}
}

func TestPutOverwritesExistingEntry(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	blob := filepath.Join(dir, "layer.tar.gz")
	if err := os.WriteFile(blob, []byte("first"), 0644); err != nil {
		t.Fatal(err)
	}

	key := Key(digest.FromString("base"), []byte("flask\n"), "pip install", "linux/amd64")
	layer := layout.Layer{Path: blob, Digest: digest.FromString("a"), DiffID: digest.FromString("b"), Size: 5}
	if _, err := c.Put(key, layer); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(blob, []byte("second"), 0644); err != nil {
		t.Fatal(err)
	}
	layer.Size = 6
	if _, err := c.Put(key, layer); err != nil {
		t.Fatal(err)
	}

	got, ok, err := c.Get(key)
	if err != nil || !ok {
		t.Fatalf("get after overwrite: ok=%v err=%v", ok, err)
	}
	data, err := os.ReadFile(got.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Fatalf("blob content = %q, want second", data)
	}
}
