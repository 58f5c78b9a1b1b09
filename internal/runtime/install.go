package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/pkg/rootfs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/kilnhq/kiln/internal/build"
	"github.com/kilnhq/kiln/internal/layout"
)

// Shell used to run the install command inside the container.
const installShell = "/bin/sh"

// Installs dependency manifests by running the install command inside a
// container and capturing the filesystem diff as a layer.
type Installer struct {
	rt *Runtime
}

// Creates an installer backed by the given runtime.
func NewInstaller(rt *Runtime) *Installer {
	return &Installer{rt: rt}
}

// Runs the install command against the base runtime and returns the
// resulting layer.
//
// A container is started from the base archive, the staged manifest is
// copied into the working directory, and the command runs under the
// shell. Any failure, including a non-zero exit from the install command,
// aborts the installation; there is no partial layer. On success the diff
// between the container's snapshot and the base is written to the scratch
// directory as a compressed blob.
func (in *Installer) Install(ctx context.Context, req build.InstallRequest) (layout.Layer, error) {
	ctr, err := in.rt.StartContainer(ctx, req.Base.Path, installContainerID(req), req.Platform)
	if err != nil {
		return layout.Layer{}, err
	}
	defer ctr.Destroy(ctx)

	if err := in.stageManifest(ctx, ctr, req); err != nil {
		return layout.Layer{}, err
	}

	slog.Info("installing dependencies", "command", req.Command)

	result, err := ctr.Exec(ctx, installShell, req.Command, nil, req.Workdir)
	if err != nil {
		return layout.Layer{}, err
	}
	if result.ExitCode != 0 {
		return layout.Layer{}, fmt.Errorf("%w: install command exited with code %d (%s)",
			ErrRuntime, result.ExitCode, result.Stderr)
	}

	return ctr.diffLayer(ctx, filepath.Join(req.Scratch, "install-layer.tar.gz"))
}

// Copies the staged manifest into the container's working directory.
func (in *Installer) stageManifest(ctx context.Context, ctr *Container, req build.InstallRequest) error {
	if err := ctr.MkdirAll(ctx, req.Workdir); err != nil {
		return err
	}

	stream, err := fileTar(req.Manifest)
	if err != nil {
		return err
	}
	return ctr.CopyTo(ctx, stream, req.Workdir)
}

// Commits the diff between the container's snapshot and its parent and
// writes the layer blob to dest.
func (c *Container) diffLayer(ctx context.Context, dest string) (layout.Layer, error) {
	loaded, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return layout.Layer{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	info, err := loaded.Info(ctx)
	if err != nil {
		return layout.Layer{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	// Hold a content lease so the diff blob survives until it is copied
	// out. Without a lease, containerd's GC scheduler may collect it
	// between the write and the read.
	ctx, done, err := c.client.WithLease(ctx)
	if err != nil {
		return layout.Layer{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	defer done(context.Background())

	desc, err := rootfs.CreateDiff(ctx,
		info.SnapshotKey,
		c.client.SnapshotService(info.Snapshotter),
		c.client.DiffService(),
	)
	if err != nil {
		return layout.Layer{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	diffID, err := images.GetDiffID(ctx, c.client.ContentStore(), desc)
	if err != nil {
		return layout.Layer{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := c.copyBlob(ctx, desc, dest); err != nil {
		return layout.Layer{}, err
	}

	return layout.Layer{
		Path:   dest,
		Digest: desc.Digest,
		DiffID: diffID,
		Size:   desc.Size,
	}, nil
}

// Copies a blob out of the content store to a local file.
func (c *Container) copyBlob(ctx context.Context, desc ocispec.Descriptor, dest string) error {
	ra, err := c.client.ContentStore().ReaderAt(ctx, desc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	defer ra.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if _, err := io.Copy(f, content.NewReader(ra)); err != nil {
		f.Close()
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return nil
}

// Builds an in-memory tar stream holding a single file.
func fileTar(path string) (io.Reader, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	err = tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     filepath.Base(path),
		Mode:     0644,
		Size:     int64(len(contents)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	if _, err := tw.Write(contents); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	return &buf, nil
}

// Derives a stable container ID for an installation.
func installContainerID(req build.InstallRequest) string {
	h := sha256.Sum256([]byte(req.Base.Digest.String() + "\x00" + req.Scratch))
	return "kiln-install-" + hex.EncodeToString(h[:8])
}
