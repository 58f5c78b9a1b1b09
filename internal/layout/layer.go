package layout

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// A single image layer stored as a gzip-compressed tar blob on disk.
//
// Digest addresses the compressed blob; DiffID addresses the uncompressed
// tar stream, as required by the image config's rootfs section.
type Layer struct {
	Path   string        // Blob file on the local filesystem.
	Digest digest.Digest // Digest of the compressed blob.
	DiffID digest.Digest // Digest of the uncompressed tar stream.
	Size   int64         // Size of the compressed blob in bytes.
}

// Returns the OCI descriptor for the layer.
func (l Layer) Descriptor() ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageLayerGzip,
		Digest:    l.Digest,
		Size:      l.Size,
	}
}

// Builds a layer blob from a directory tree.
//
// Every file under dir is written into the layer beneath prefix (a
// container-absolute path such as "/app"). Entries are emitted in the
// lexical order of the walk with normalized headers: zero timestamps, zero
// owner, and only the permission bits of the source mode. Two builds over
// an identical tree therefore produce an identical blob and digests.
func BuildLayerFromDir(dir, prefix, dest string) (Layer, error) {
	f, err := os.Create(dest)
	if err != nil {
		return Layer{}, fmt.Errorf("%w: %w", ErrLayout, err)
	}
	defer f.Close()

	uncompressed := sha256.New()
	compressed := sha256.New()

	gz := gzip.NewWriter(io.MultiWriter(compressed, f))
	tw := tar.NewWriter(io.MultiWriter(uncompressed, gz))

	root := strings.TrimPrefix(prefix, "/")
	if err := writeTreeToTar(tw, dir, root); err != nil {
		return Layer{}, err
	}

	if err := tw.Close(); err != nil {
		return Layer{}, fmt.Errorf("%w: closing layer tar: %w", ErrLayout, err)
	}
	if err := gz.Close(); err != nil {
		return Layer{}, fmt.Errorf("%w: closing layer gzip: %w", ErrLayout, err)
	}

	info, err := f.Stat()
	if err != nil {
		return Layer{}, fmt.Errorf("%w: %w", ErrLayout, err)
	}

	return Layer{
		Path:   dest,
		Digest: digest.NewDigest(digest.SHA256, compressed),
		DiffID: digest.NewDigest(digest.SHA256, uncompressed),
		Size:   info.Size(),
	}, nil
}

// Writes a directory tree into a tar writer rooted at the given prefix.
func writeTreeToTar(tw *tar.Writer, dir, prefix string) error {
	if prefix != "" {
		if err := writeDirHeader(tw, prefix); err != nil {
			return err
		}
	}

	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLayout, err)
		}
		if path == dir {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLayout, err)
		}
		name := filepath.ToSlash(filepath.Join(prefix, rel))

		if d.IsDir() {
			return writeDirHeader(tw, name)
		}
		return writeFileEntry(tw, path, name)
	})
}

// Writes a directory entry with a fixed mode and zeroed metadata.
func writeDirHeader(tw *tar.Writer, name string) error {
	err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     name + "/",
		Mode:     0755,
	})
	if err != nil {
		return fmt.Errorf("%w: writing dir header %s: %w", ErrLayout, name, err)
	}
	return nil
}

// Writes a regular file entry, keeping only the source's permission bits.
func writeFileEntry(tw *tar.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLayout, err)
	}

	err = tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     int64(info.Mode().Perm()),
		Size:     info.Size(),
	})
	if err != nil {
		return fmt.Errorf("%w: writing file header %s: %w", ErrLayout, name, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLayout, err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("%w: copying %s into layer: %w", ErrLayout, path, err)
	}
	return nil
}
