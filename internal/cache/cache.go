// Package cache stores dependency-install layers between builds.
//
// Entries are keyed by the inputs that determine the install result: the
// base runtime digest, the manifest bytes, the install command, and the
// target platform. A build whose source tree changed but whose manifest
// did not therefore reuses the cached layer without re-installing.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/layout"
	"github.com/kilnhq/kiln/internal/paths"
)

// Blob filename within a cache entry.
const blobName = "layer.tar.gz"

// Metadata filename within a cache entry.
const metadataName = "metadata.json"

// Persisted descriptor of a cached layer.
type entryMetadata struct {
	Digest digest.Digest `json:"digest"`
	DiffID digest.Digest `json:"diff_id"`
	Size   int64         `json:"size"`
}

// A filesystem-backed layer cache.
//
// Structure:
//
//	{dir}/
//	  {key[0:2]}/
//	    {key}/
//	      metadata.json
//	      layer.tar.gz
type LayerCache struct {
	dir string
}

// Creates a cache rooted at dir. An empty dir uses the default XDG
// location.
func New(dir string) *LayerCache {
	if dir == "" {
		dir = paths.LayerCache()
	}
	return &LayerCache{dir: dir}
}

// Computes the cache key for an install layer.
//
// Any change to the base runtime, the manifest content, the install
// command, or the platform changes the key.
func Key(base digest.Digest, manifest []byte, install, platform string) string {
	h := sha256.New()
	h.Write([]byte(base))
	h.Write([]byte{0})
	h.Write(manifest)
	h.Write([]byte{0})
	h.Write([]byte(install))
	h.Write([]byte{0})
	h.Write([]byte(platform))
	return hex.EncodeToString(h.Sum(nil))
}

// Looks up a cached layer.
//
// Returns false when no entry exists for the key.
func (c *LayerCache) Get(key string) (layout.Layer, bool, error) {
	dir := c.entryPath(key)

	data, err := os.ReadFile(filepath.Join(dir, metadataName))
	if err != nil {
		if os.IsNotExist(err) {
			return layout.Layer{}, false, nil
		}
		return layout.Layer{}, false, fmt.Errorf("reading cache metadata: %w", err)
	}

	var meta entryMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return layout.Layer{}, false, fmt.Errorf("parsing cache metadata: %w", err)
	}

	blob := filepath.Join(dir, blobName)
	if _, err := os.Stat(blob); err != nil {
		return layout.Layer{}, false, fmt.Errorf("cache entry missing blob: %w", err)
	}

	return layout.Layer{
		Path:   blob,
		Digest: meta.Digest,
		DiffID: meta.DiffID,
		Size:   meta.Size,
	}, true, nil
}

// Stores a layer under the key and returns the cached copy.
//
// The entry is staged in a temp directory and renamed into place so a
// concurrent reader never observes a partial entry.
func (c *LayerCache) Put(key string, layer layout.Layer) (layout.Layer, error) {
	dir := c.entryPath(key)
	parent := filepath.Dir(dir)

	// Parent must exist so the temp dir lands on the same filesystem.
	if err := os.MkdirAll(parent, paths.DefaultDirMode); err != nil {
		return layout.Layer{}, fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.MkdirTemp(parent, ".staging-")
	if err != nil {
		return layout.Layer{}, fmt.Errorf("creating cache staging dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := copyFile(layer.Path, filepath.Join(tmp, blobName)); err != nil {
		return layout.Layer{}, err
	}

	meta, err := json.Marshal(entryMetadata{
		Digest: layer.Digest,
		DiffID: layer.DiffID,
		Size:   layer.Size,
	})
	if err != nil {
		return layout.Layer{}, fmt.Errorf("encoding cache metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, metadataName), meta, paths.DefaultFileMode); err != nil {
		return layout.Layer{}, fmt.Errorf("writing cache metadata: %w", err)
	}

	os.RemoveAll(dir)
	if err := os.Rename(tmp, dir); err != nil {
		return layout.Layer{}, fmt.Errorf("publishing cache entry: %w", err)
	}

	cached := layer
	cached.Path = filepath.Join(dir, blobName)
	return cached, nil
}

// Returns the directory of a cache entry.
func (c *LayerCache) entryPath(key string) string {
	return filepath.Join(c.dir, key[:2], key)
}

// Copies a file, creating the destination with default permissions.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening layer blob: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, paths.DefaultFileMode)
	if err != nil {
		return fmt.Errorf("staging layer blob: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying layer blob: %w", err)
	}
	return out.Close()
}
