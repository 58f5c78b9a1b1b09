package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/distribution/registry/api/errcode"
	v2 "github.com/docker/distribution/registry/api/v2"
	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/layout"
)

func TestRefKey(t *testing.T) {
	base := refKey("python:3.9-slim", "linux/amd64")

	if got := refKey("python:3.9-slim", "linux/amd64"); got != base {
		t.Errorf("key not deterministic: %s vs %s", got, base)
	}
	if got := refKey("python:3.10-slim", "linux/amd64"); got == base {
		t.Error("key ignores the reference")
	}
	if got := refKey("python:3.9-slim", "linux/arm64"); got == base {
		t.Error("key ignores the platform")
	}
}

func TestResolveEmptyReference(t *testing.T) {
	puller, err := New(t.TempDir(), "linux/amd64")
	if err != nil {
		t.Fatalf("creating puller: %v", err)
	}
	defer puller.Close()

	if _, err := puller.Resolve(context.Background(), ""); !errors.Is(err, ErrReference) {
		t.Errorf("error = %v, want ErrReference", err)
	}
}

func TestResolveServesCachedArchive(t *testing.T) {
	puller, err := New(t.TempDir(), "linux/amd64")
	if err != nil {
		t.Fatalf("creating puller: %v", err)
	}
	defer puller.Close()

	// Seed the cache entry the reference would resolve to.
	entry := puller.entryPath("python:3.9-slim")
	if err := os.MkdirAll(entry, 0755); err != nil {
		t.Fatal(err)
	}
	dgst := writeArchiveFixture(t, filepath.Join(entry, archiveName))

	base, err := puller.Resolve(context.Background(), "python:3.9-slim")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.Digest != dgst {
		t.Errorf("digest = %s, want %s", base.Digest, dgst)
	}
	if base.Path != filepath.Join(entry, archiveName) {
		t.Errorf("path = %q, want the cached archive", base.Path)
	}
}

func writeArchiveFixture(t *testing.T, dest string) digest.Digest {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "python"), []byte("#!interpreter"), 0644); err != nil {
		t.Fatal(err)
	}
	layer, err := layout.BuildLayerFromDir(dir, "/usr", filepath.Join(t.TempDir(), "layer.tar.gz"))
	if err != nil {
		t.Fatalf("building layer: %v", err)
	}

	d, err := layout.WriteArchive(dest, layout.ArchiveArgs{
		Platform: "linux/amd64",
		Layers:   []layout.Layer{layer},
	})
	if err != nil {
		t.Fatalf("writing archive: %v", err)
	}
	return d
}

func TestPullErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "unknown manifest",
			err:  fmt.Errorf("reading manifest: %w", errcode.Error{Code: v2.ErrorCodeManifestUnknown}),
			want: ErrNotFound,
		},
		{
			name: "unknown repository",
			err:  fmt.Errorf("initializing source: %w", errcode.Error{Code: v2.ErrorCodeNameUnknown}),
			want: ErrNotFound,
		},
		{
			name: "aggregated registry response",
			err:  fmt.Errorf("copying image: %w", errcode.Errors{errcode.Error{Code: v2.ErrorCodeManifestUnknown}}),
			want: ErrNotFound,
		},
		{
			name: "denied response",
			err:  fmt.Errorf("copying image: %w", errcode.Error{Code: errcode.ErrorCodeDenied}),
			want: ErrPull,
		},
		{
			name: "network fault",
			err:  errors.New("dial tcp: i/o timeout"),
			want: ErrPull,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pullError("python:3.9-slim", tt.err)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
