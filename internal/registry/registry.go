package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	imagecopy "github.com/containers/image/v5/copy"
	"github.com/containers/image/v5/docker"
	"github.com/containers/image/v5/oci/archive"
	"github.com/containers/image/v5/signature"
	"github.com/containers/image/v5/types"

	"github.com/kilnhq/kiln/internal/build"
	"github.com/kilnhq/kiln/internal/layout"
	"github.com/kilnhq/kiln/internal/paths"
)

// Archive filename within a cache entry.
const archiveName = "base.tar"

// Pulls base runtime images from an image registry into a local archive
// cache.
//
// A reference is pulled at most once per cache: subsequent resolutions of
// the same reference return the cached archive without touching the
// network. References are not re-checked against the registry, so a
// moved tag keeps resolving to the originally pulled content until the
// cache entry is removed.
type Puller struct {
	dir      string
	platform string
	policy   *signature.PolicyContext
}

// Creates a [Puller] caching archives under dir for the given platform.
//
// An empty dir uses the default XDG location. An empty platform pulls
// the registry's default for the host.
func New(dir, platform string) (*Puller, error) {
	if dir == "" {
		dir = paths.BaseCache()
	}

	policy, err := signature.NewPolicyContext(&signature.Policy{
		Default: signature.PolicyRequirements{signature.NewPRInsecureAcceptAnything()},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: setting up registry policy: %w", ErrPull, err)
	}

	return &Puller{dir: dir, platform: platform, policy: policy}, nil
}

// Releases the registry policy context.
func (p *Puller) Close() error {
	return p.policy.Destroy()
}

// Resolves a name:tag reference to a local base archive.
//
// The archive is served from the cache when present, pulled from the
// registry otherwise. Resolution failures are fatal to the caller's
// build; there is no fallback reference.
func (p *Puller) Resolve(ctx context.Context, ref string) (build.BaseImage, error) {
	if ref == "" {
		return build.BaseImage{}, fmt.Errorf("%w: empty reference", ErrReference)
	}

	path := filepath.Join(p.entryPath(ref), archiveName)
	if _, err := os.Stat(path); err == nil {
		return p.describe(path)
	}

	if err := p.pull(ctx, ref, path); err != nil {
		return build.BaseImage{}, err
	}
	return p.describe(path)
}

// Pulls a reference from the registry into the cache.
//
// The archive is written next to its final location and renamed into
// place, so a failed pull never leaves a partial cache entry.
func (p *Puller) pull(ctx context.Context, ref, dest string) error {
	slog.Info("pulling base runtime", "ref", ref)

	srcRef, err := docker.Transport.ParseReference("//" + ref)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrReference, ref, err)
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return fmt.Errorf("%w: creating cache directory: %w", ErrPull, err)
	}

	tmp, err := os.CreateTemp(dir, ".pull-*.tar")
	if err != nil {
		return fmt.Errorf("%w: staging archive: %w", ErrPull, err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	destRef, err := archive.Transport.ParseReference(tmp.Name())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPull, err)
	}

	opts := &imagecopy.Options{SourceCtx: &types.SystemContext{}}
	if osName, arch, ok := strings.Cut(p.platform, "/"); ok {
		opts.SourceCtx.OSChoice = osName
		opts.SourceCtx.ArchitectureChoice = arch
	}

	if _, err := imagecopy.Image(ctx, p.policy, destRef, srcRef, opts); err != nil {
		return pullError(ref, err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("%w: publishing cache entry: %w", ErrPull, err)
	}
	return nil
}

// Reads the manifest digest of a cached archive.
func (p *Puller) describe(path string) (build.BaseImage, error) {
	base, closeBase, err := layout.OpenBase(path)
	if err != nil {
		return build.BaseImage{}, fmt.Errorf("%w: %w", ErrPull, err)
	}
	closeBase()

	return build.BaseImage{Path: path, Digest: base.Digest}, nil
}

// Returns the cache directory for a reference.
func (p *Puller) entryPath(ref string) string {
	key := refKey(ref, p.platform)
	return filepath.Join(p.dir, key[:2], key)
}

// Hashes a reference and platform into a cache key.
func refKey(ref, platform string) string {
	h := sha256.New()
	h.Write([]byte(ref))
	h.Write([]byte{0})
	h.Write([]byte(platform))
	return hex.EncodeToString(h.Sum(nil))
}
