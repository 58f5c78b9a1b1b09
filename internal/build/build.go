package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	goruntime "runtime"

	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/cache"
	"github.com/kilnhq/kiln/internal/paths"
	"github.com/kilnhq/kiln/internal/recipe"
)

// Controls plan execution.
type Options struct {
	Plan     recipe.Plan // Plan to execute.
	Context  string      // Build context root, for resolving the manifest and source tree.
	Output   string      // Directory for the exported image.
	Platform string      // Target platform (e.g., "linux/amd64"). Defaults to host.
	NoCache  bool        // Skips the install-layer cache.
}

// Collaborators the pipeline delegates to.
type Deps struct {
	Resolver  Resolver          // Resolves the base runtime reference.
	Installer Installer         // Installs the dependency manifest.
	Layers    *cache.LayerCache // Install-layer cache. Nil uses the default location.
}

// Returned after successful plan execution.
type Result struct {
	Output string        // Path to the exported image archive.
	Digest digest.Digest // Image manifest digest of the artifact.
}

// Executes a build plan.
//
// Steps run strictly in order: resolve the base runtime, stage the
// dependency manifest, install dependencies, stage the source tree, then
// assemble the artifact with its declared metadata and entrypoint. Any
// step failure aborts the build; the artifact is published to the output
// directory only after every step has succeeded.
func Run(ctx context.Context, deps Deps, opts Options) (*Result, error) {
	if opts.Platform == "" {
		opts.Platform = "linux/" + goruntime.GOARCH
	}
	if deps.Layers == nil {
		deps.Layers = cache.New("")
	}

	slog.Info("executing build plan",
		"base", opts.Plan.Base,
		"manifest", opts.Plan.Manifest,
		"output", opts.Output,
		"platform", opts.Platform,
	)

	if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	work, err := os.MkdirTemp("", "kiln-build-")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	defer os.RemoveAll(work)

	return newPipeline(deps, opts, work).run(ctx)
}
