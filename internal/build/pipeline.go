package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kilnhq/kiln/internal/cache"
	"github.com/kilnhq/kiln/internal/layout"
	"github.com/kilnhq/kiln/internal/recipe"
)

// Filename of the OCI archive published to the output directory.
const exportFilename = "image.tar"

// Holds shared state for one plan execution.
type pipeline struct {
	deps     Deps
	plan     recipe.Plan
	context  string // Build context root.
	output   string // Output directory for the final artifact.
	platform string // Target platform.
	noCache  bool
	work     string // Scratch directory, removed when the build finishes.
}

// Creates a new [pipeline] from the given options.
func newPipeline(deps Deps, opts Options, work string) *pipeline {
	return &pipeline{
		deps:     deps,
		plan:     opts.Plan,
		context:  opts.Context,
		output:   opts.Output,
		platform: opts.Platform,
		noCache:  opts.NoCache,
		work:     work,
	}
}

// Runs the pipeline end-to-end.
//
// The artifact is assembled in the scratch directory and moved into the
// output directory in a single rename, so a failed build never publishes
// a partial artifact.
func (p *pipeline) run(ctx context.Context) (*Result, error) {
	base, err := p.resolveBase(ctx)
	if err != nil {
		return nil, err
	}

	staging, err := p.stageManifest()
	if err != nil {
		return nil, err
	}

	installLayer, err := p.installDependencies(ctx, base, staging)
	if err != nil {
		return nil, err
	}

	sourceLayer, err := p.stageSource(staging)
	if err != nil {
		return nil, err
	}

	return p.assemble(base, []layout.Layer{installLayer, sourceLayer})
}

// Resolves the base runtime reference through the registry collaborator.
func (p *pipeline) resolveBase(ctx context.Context) (BaseImage, error) {
	base, err := p.deps.Resolver.Resolve(ctx, p.plan.Base)
	if err != nil {
		return BaseImage{}, fmt.Errorf("%w: %s: %w", ErrResolve, p.plan.Base, err)
	}

	slog.Debug("base runtime resolved", "ref", p.plan.Base, "digest", base.Digest)
	return base, nil
}

// Stages the dependency manifest into a fresh staging area.
//
// A missing manifest aborts the build here, before the installer is
// invoked.
func (p *pipeline) stageManifest() (*stagingArea, error) {
	staging, err := newStagingArea(p.work)
	if err != nil {
		return nil, err
	}

	if err := staging.addFile(p.context, p.plan.Manifest); err != nil {
		return nil, err
	}

	slog.Debug("manifest staged", "manifest", p.plan.Manifest)
	return staging, nil
}

// Produces the installed-packages layer, via the layer cache when the
// same base, manifest, and install command have been built before.
func (p *pipeline) installDependencies(ctx context.Context, base BaseImage, staging *stagingArea) (layout.Layer, error) {
	manifestPath := filepath.Join(staging.root, p.plan.Manifest)

	manifest, err := os.ReadFile(manifestPath)
	if err != nil {
		return layout.Layer{}, fmt.Errorf("%w: %w", ErrStage, err)
	}
	key := cache.Key(base.Digest, manifest, p.plan.Install, p.platform)

	if !p.noCache {
		layer, ok, err := p.deps.Layers.Get(key)
		if err != nil {
			return layout.Layer{}, fmt.Errorf("%w: %w", ErrInstall, err)
		}
		if ok {
			slog.Debug("install layer cache hit", "key", key[:12])
			return layer, nil
		}
	}

	layer, err := p.deps.Installer.Install(ctx, InstallRequest{
		Base:     base,
		Manifest: manifestPath,
		Command:  p.plan.Install,
		Workdir:  p.plan.Workdir,
		Platform: p.platform,
		Scratch:  p.work,
	})
	if err != nil {
		return layout.Layer{}, fmt.Errorf("%w: %w", ErrInstall, err)
	}

	cached, err := p.deps.Layers.Put(key, layer)
	if err != nil {
		return layout.Layer{}, fmt.Errorf("%w: %w", ErrInstall, err)
	}

	slog.Debug("dependencies installed", "layer", cached.Digest)
	return cached, nil
}

// Stages the full source tree and builds the application layer from the
// staging area.
//
// Everything under the build context is staged unconditionally, with no
// include or exclude filtering. Paths staged by the manifest step are
// preserved as-is.
func (p *pipeline) stageSource(staging *stagingArea) (layout.Layer, error) {
	if err := staging.addTree(p.context); err != nil {
		return layout.Layer{}, err
	}

	layer, err := layout.BuildLayerFromDir(staging.root, p.plan.Workdir, filepath.Join(p.work, "source-layer.tar.gz"))
	if err != nil {
		return layout.Layer{}, fmt.Errorf("%w: %w", ErrStage, err)
	}

	slog.Debug("source tree staged", "layer", layer.Digest)
	return layer, nil
}

// Assembles the artifact and publishes it to the output directory.
//
// The declared metadata (exposed port, env bindings) and the entrypoint
// command are recorded on the image config; nothing is validated or
// executed. The archive is written to the scratch directory first and
// renamed into place only on success.
func (p *pipeline) assemble(base BaseImage, layers []layout.Layer) (*Result, error) {
	baseArchive, closeBase, err := layout.OpenBase(base.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}
	defer closeBase()

	staged := filepath.Join(p.work, exportFilename)
	dgst, err := layout.WriteArchive(staged, layout.ArchiveArgs{
		Base:       baseArchive,
		Layers:     layers,
		Env:        p.plan.Env,
		Port:       p.plan.Port,
		Workdir:    p.plan.Workdir,
		Entrypoint: p.plan.Entrypoint,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	exportPath := filepath.Join(p.output, exportFilename)
	if err := publish(staged, exportPath); err != nil {
		return nil, err
	}

	slog.Info("image exported", "path", exportPath, "digest", dgst)
	return &Result{Output: exportPath, Digest: dgst}, nil
}

// Moves the finished archive into the output directory.
//
// Rename only works within a filesystem, so the archive is copied next to
// its final path first when the scratch directory lives elsewhere.
func publish(staged, dest string) error {
	if err := os.Rename(staged, dest); err == nil {
		return nil
	}

	tmp := dest + ".partial"
	os.Remove(tmp)
	if err := copyEntry(staged, tmp, 0644, false); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	return nil
}
