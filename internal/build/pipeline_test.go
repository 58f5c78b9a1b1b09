package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/cache"
	"github.com/kilnhq/kiln/internal/layout"
	"github.com/kilnhq/kiln/internal/recipe"
)

type fakeResolver struct {
	base  BaseImage
	err   error
	calls int
}

func (r *fakeResolver) Resolve(_ context.Context, _ string) (BaseImage, error) {
	r.calls++
	if r.err != nil {
		return BaseImage{}, r.err
	}
	return r.base, nil
}

type fakeInstaller struct {
	layer layout.Layer
	err   error
	calls int
}

func (i *fakeInstaller) Install(_ context.Context, _ InstallRequest) (layout.Layer, error) {
	i.calls++
	if i.err != nil {
		return layout.Layer{}, i.err
	}
	return i.layer, nil
}

// Builds a gzip layer blob from the given files.
func buildLayer(t *testing.T, prefix string, files map[string]string) layout.Layer {
	t.Helper()

	dir := t.TempDir()
	for name, contents := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0644); err != nil {
			t.Fatalf("writing layer file: %v", err)
		}
	}

	layer, err := layout.BuildLayerFromDir(dir, prefix, filepath.Join(t.TempDir(), "layer.tar.gz"))
	if err != nil {
		t.Fatalf("building layer: %v", err)
	}
	return layer
}

// Writes a minimal base runtime archive and returns its location and
// manifest digest.
func writeBaseArchive(t *testing.T) BaseImage {
	t.Helper()

	layer := buildLayer(t, "/usr", map[string]string{"python": "#!interpreter"})
	path := filepath.Join(t.TempDir(), "base.tar")
	dgst, err := layout.WriteArchive(path, layout.ArchiveArgs{
		Platform: "linux/amd64",
		Layers:   []layout.Layer{layer},
		Env:      map[string]string{"PATH": "/usr/local/bin:/usr/bin"},
	})
	if err != nil {
		t.Fatalf("writing base archive: %v", err)
	}
	return BaseImage{Path: path, Digest: dgst}
}

// Creates a build context holding a manifest and an entry file.
func writeContext(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	files := map[string]string{
		"requirements.txt": "flask==2.0.1\n",
		"newapp.py":        "from flask import Flask\n",
	}
	for name, contents := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0644); err != nil {
			t.Fatalf("writing context file: %v", err)
		}
	}
	return dir
}

// Assembles working fakes around a shared layer cache.
func testDeps(t *testing.T, layers *cache.LayerCache) (Deps, *fakeResolver, *fakeInstaller) {
	t.Helper()

	resolver := &fakeResolver{base: writeBaseArchive(t)}
	installer := &fakeInstaller{
		layer: buildLayer(t, "/usr/lib/site-packages", map[string]string{"flask.py": "package"}),
	}
	return Deps{Resolver: resolver, Installer: installer, Layers: layers}, resolver, installer
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Plan:     recipe.Default("python:3.9-slim", "newapp.py"),
		Context:  writeContext(t),
		Output:   t.TempDir(),
		Platform: "linux/amd64",
	}
}

func TestRunProducesArtifact(t *testing.T) {
	deps, _, _ := testDeps(t, cache.New(t.TempDir()))
	opts := testOptions(t)

	result, err := Run(context.Background(), deps, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output != filepath.Join(opts.Output, "image.tar") {
		t.Errorf("output = %q, want image.tar under the output directory", result.Output)
	}
	if result.Digest == "" {
		t.Error("expected a manifest digest")
	}

	img, closeImg, err := layout.OpenBase(result.Output)
	if err != nil {
		t.Fatalf("opening artifact: %v", err)
	}
	defer closeImg()

	// Base layer, install layer, source layer.
	if len(img.Layers) != 3 {
		t.Errorf("layer count = %d, want 3", len(img.Layers))
	}

	cfg := img.Config.Config
	if len(cfg.ExposedPorts) != 1 {
		t.Fatalf("exposed ports = %v, want exactly one", cfg.ExposedPorts)
	}
	if _, ok := cfg.ExposedPorts["5000/tcp"]; !ok {
		t.Errorf("exposed ports = %v, want 5000/tcp", cfg.ExposedPorts)
	}
	if want := []string{"python", "newapp.py"}; !slices.Equal(cfg.Cmd, want) {
		t.Errorf("cmd = %v, want %v", cfg.Cmd, want)
	}
	if cfg.WorkingDir != "/app" {
		t.Errorf("working dir = %q, want /app", cfg.WorkingDir)
	}

	for _, want := range []string{"FLASK_APP=newapp.py", "FLASK_ENV=production", "PATH=/usr/local/bin:/usr/bin"} {
		if !slices.Contains(cfg.Env, want) {
			t.Errorf("env %v missing %q", cfg.Env, want)
		}
	}
}

func TestRunDeterministic(t *testing.T) {
	layers := cache.New(t.TempDir())

	var digests []digest.Digest
	for range 2 {
		deps, _, _ := testDeps(t, layers)
		opts := testOptions(t)

		result, err := Run(context.Background(), deps, opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		digests = append(digests, result.Digest)
	}

	if digests[0] != digests[1] {
		t.Errorf("digests differ across identical builds: %s vs %s", digests[0], digests[1])
	}
}

func TestRunMissingManifestAbortsBeforeInstall(t *testing.T) {
	deps, _, installer := testDeps(t, cache.New(t.TempDir()))
	opts := testOptions(t)

	if err := os.Remove(filepath.Join(opts.Context, "requirements.txt")); err != nil {
		t.Fatalf("removing manifest: %v", err)
	}

	_, err := Run(context.Background(), deps, opts)
	if !errors.Is(err, ErrStage) {
		t.Fatalf("error = %v, want ErrStage", err)
	}
	if installer.calls != 0 {
		t.Errorf("installer invoked %d times, want 0", installer.calls)
	}
	assertNoArtifact(t, opts.Output)
}

func TestRunResolveFailure(t *testing.T) {
	deps, resolver, installer := testDeps(t, cache.New(t.TempDir()))
	resolver.err = errors.New("registry unreachable")
	opts := testOptions(t)

	_, err := Run(context.Background(), deps, opts)
	if !errors.Is(err, ErrResolve) {
		t.Fatalf("error = %v, want ErrResolve", err)
	}
	if installer.calls != 0 {
		t.Errorf("installer invoked %d times, want 0", installer.calls)
	}
	assertNoArtifact(t, opts.Output)
}

func TestRunInstallFailureLeavesNoArtifact(t *testing.T) {
	deps, _, installer := testDeps(t, cache.New(t.TempDir()))
	installer.err = errors.New("no matching distribution")
	opts := testOptions(t)

	_, err := Run(context.Background(), deps, opts)
	if !errors.Is(err, ErrInstall) {
		t.Fatalf("error = %v, want ErrInstall", err)
	}
	assertNoArtifact(t, opts.Output)
}

func TestRunReusesInstallLayerAcrossSourceChanges(t *testing.T) {
	layers := cache.New(t.TempDir())
	deps, _, installer := testDeps(t, layers)
	opts := testOptions(t)

	first, err := Run(context.Background(), deps, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Source-only change: the manifest and install command are untouched.
	if err := os.WriteFile(filepath.Join(opts.Context, "newapp.py"), []byte("print('changed')\n"), 0644); err != nil {
		t.Fatalf("updating source: %v", err)
	}

	second, err := Run(context.Background(), deps, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if installer.calls != 1 {
		t.Errorf("installer invoked %d times, want 1", installer.calls)
	}
	if first.Digest == second.Digest {
		t.Error("expected digest to change with the source tree")
	}
}

func TestRunNoCacheBypassesLayerCache(t *testing.T) {
	layers := cache.New(t.TempDir())
	deps, _, installer := testDeps(t, layers)
	opts := testOptions(t)
	opts.NoCache = true

	for range 2 {
		if _, err := Run(context.Background(), deps, opts); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if installer.calls != 2 {
		t.Errorf("installer invoked %d times, want 2", installer.calls)
	}
}

func assertNoArtifact(t *testing.T, output string) {
	t.Helper()
	if _, err := os.Stat(filepath.Join(output, "image.tar")); !os.IsNotExist(err) {
		t.Errorf("artifact present after failed build (stat err = %v)", err)
	}
}
