package build

import (
	"context"

	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/layout"
)

// A resolved base runtime.
//
// Path points at an immutable local OCI archive; Digest identifies its
// content and feeds the install-layer cache key.
type BaseImage struct {
	Path   string
	Digest digest.Digest
}

// Resolves base runtime references into local archives.
//
// Implementations pull name:tag references from an image registry. A
// reference that cannot be resolved is fatal to the build.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (BaseImage, error)
}

// Describes one dependency installation.
type InstallRequest struct {
	Base     BaseImage // Base runtime to install into.
	Manifest string    // Staged dependency manifest on the local filesystem.
	Command  string    // Shell command that performs the installation.
	Workdir  string    // Working directory for the command; the manifest is placed here.
	Platform string    // Target OCI platform.
	Scratch  string    // Directory the implementation may write the layer blob into.
}

// Turns a dependency manifest into an installed-packages layer.
//
// Implementations run the install command against the base runtime and
// capture the resulting filesystem diff. Any failure (unresolvable
// package, network error, version conflict) is fatal to the build; there
// is no partial install state.
type Installer interface {
	Install(ctx context.Context, req InstallRequest) (layout.Layer, error)
}
