package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestImageTag(t *testing.T) {
	tag := imageTag("/some/archive.tar")

	if !strings.HasPrefix(tag, "import/") {
		t.Fatalf("tag %q missing import/ prefix", tag)
	}
	if !strings.HasSuffix(tag, ":latest") {
		t.Fatalf("tag %q missing :latest suffix", tag)
	}

	if imageTag("/some/archive.tar") != tag {
		t.Fatal("imageTag is not deterministic")
	}

	if imageTag("/other/archive.tar") == tag {
		t.Fatal("different paths produced the same tag")
	}
}

func TestImportArchiveMissingFile(t *testing.T) {
	rt := &Runtime{}

	// The archive is checked before any containerd call, so a missing
	// path must surface as ErrArtifactNotFound without touching the
	// daemon.
	path := filepath.Join(t.TempDir(), "image.tar")
	_, err := rt.importArchive(context.Background(), path)
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("error = %v, want ErrArtifactNotFound", err)
	}
}
