package layout

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"

	tarfs "github.com/nlepage/go-tarfs"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// A base runtime archive opened for reading.
//
// The archive is an OCI layout tar with a single image manifest. Layers
// returns the base's layer descriptors in order; Config carries the base
// image config (env, working dir, platform) that the assembled image
// inherits from.
type Base struct {
	Digest digest.Digest
	Layers []ocispec.Descriptor
	Config ocispec.Image

	fsys fs.FS
}

// Opens a base runtime archive.
//
// The archive's index must reference exactly one image manifest. The
// returned [Base] keeps the archive open for streaming layer blobs; it is
// valid for the lifetime of the underlying file.
func OpenBase(path string) (*Base, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrBaseArchive, err)
	}

	base, err := readBase(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	return base, f.Close, nil
}

// Reads the index, manifest, and config of a base archive.
func readBase(r io.Reader) (*Base, error) {
	fsys, err := tarfs.New(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBaseArchive, err)
	}

	index, err := readTarJSON[ocispec.Index](fsys, "index.json")
	if err != nil {
		return nil, err
	}

	var manifestDesc *ocispec.Descriptor
	for i, m := range index.Manifests {
		if m.MediaType == ocispec.MediaTypeImageManifest {
			if manifestDesc != nil {
				return nil, fmt.Errorf("%w: multiple image manifests", ErrBaseArchive)
			}
			manifestDesc = &index.Manifests[i]
		}
	}
	if manifestDesc == nil {
		return nil, fmt.Errorf("%w: no image manifest in index", ErrBaseArchive)
	}

	manifest, err := readTarJSON[ocispec.Manifest](fsys, blobPath(manifestDesc.Digest))
	if err != nil {
		return nil, err
	}

	config, err := readTarJSON[ocispec.Image](fsys, blobPath(manifest.Config.Digest))
	if err != nil {
		return nil, err
	}

	return &Base{
		Digest: manifestDesc.Digest,
		Layers: manifest.Layers,
		Config: config,
		fsys:   fsys,
	}, nil
}

// Opens a layer blob of the base archive for streaming.
func (b *Base) OpenLayer(desc ocispec.Descriptor) (fs.File, error) {
	f, err := b.fsys.Open(blobPath(desc.Digest))
	if err != nil {
		return nil, fmt.Errorf("%w: layer %s: %w", ErrBaseArchive, desc.Digest, err)
	}
	return f, nil
}

// Reads and unmarshals a JSON file from a tar filesystem.
func readTarJSON[T any](fsys fs.FS, path string) (out T, err error) {
	f, err := fsys.Open(path)
	if err != nil {
		return out, fmt.Errorf("%w: missing %s: %w", ErrBaseArchive, path, err)
	}
	defer f.Close()

	contents, err := io.ReadAll(f)
	if err != nil {
		return out, fmt.Errorf("%w: reading %s: %w", ErrBaseArchive, path, err)
	}
	if err := json.Unmarshal(contents, &out); err != nil {
		return out, fmt.Errorf("%w: unmarshaling %s: %w", ErrBaseArchive, path, err)
	}
	return out, nil
}

// Returns the in-archive path of a blob.
func blobPath(dgst digest.Digest) string {
	return fmt.Sprintf("blobs/%s/%s", dgst.Algorithm(), dgst.Hex())
}
