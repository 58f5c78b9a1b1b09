package layout

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Inputs for assembling an image archive.
type ArchiveArgs struct {
	Base       *Base             // Base runtime to inherit layers, env, and platform from. Nil builds from scratch.
	Platform   string            // OCI platform (e.g., "linux/amd64"), used when Base is nil.
	Layers     []Layer           // Layers appended on top of the base, in order.
	Env        map[string]string // Environment bindings declared on the image, merged over the base env.
	Port       int               // Exposed TCP port declared on the image. Zero declares none.
	Workdir    string            // Working directory recorded in the image config.
	Entrypoint []string          // Launch command recorded in the image config.
}

// Assembles an OCI image archive at dest and returns the image manifest
// digest.
//
// The archive inherits the base's layers and platform, appends the given
// layers, and records the declared metadata in the image config. Writing
// is deterministic: blobs are emitted in a fixed order and all JSON is
// marshaled canonically, so the returned digest identifies the build
// inputs exactly.
func WriteArchive(dest string, args ArchiveArgs) (digest.Digest, error) {
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLayout, err)
	}
	defer f.Close()

	w := &archiveWriter{tw: tar.NewWriter(f)}

	if err := w.writeJSON("oci-layout", ocispec.ImageLayout{Version: "1.0.0"}); err != nil {
		return "", err
	}

	layers, diffIDs, err := w.writeLayerBlobs(args.Base, args.Layers)
	if err != nil {
		return "", err
	}

	configDesc, err := w.writeConfig(args, diffIDs)
	if err != nil {
		return "", err
	}

	manifestDigest, manifest := canonicalJSON(ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    configDesc,
		Layers:    layers,
	})
	if err := w.writeBlob(manifestDigest, manifest); err != nil {
		return "", err
	}

	err = w.writeJSON("index.json", ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		Manifests: []ocispec.Descriptor{{
			MediaType: ocispec.MediaTypeImageManifest,
			Digest:    manifestDigest,
			Size:      int64(len(manifest)),
		}},
	})
	if err != nil {
		return "", err
	}

	if err := w.tw.Close(); err != nil {
		return "", fmt.Errorf("%w: closing archive: %w", ErrLayout, err)
	}
	return manifestDigest, nil
}

// Copies the base's layer blobs and the appended layer blobs into the
// archive, returning the combined layer descriptors and diff IDs.
func (w *archiveWriter) writeLayerBlobs(base *Base, extra []Layer) ([]ocispec.Descriptor, []digest.Digest, error) {
	var layers []ocispec.Descriptor
	var diffIDs []digest.Digest

	if base != nil {
		layers = append(layers, base.Layers...)
		diffIDs = append(diffIDs, base.Config.RootFS.DiffIDs...)

		for _, desc := range base.Layers {
			src, err := base.OpenLayer(desc)
			if err != nil {
				return nil, nil, err
			}
			err = w.writeBlobReader(desc.Digest, desc.Size, src)
			src.Close()
			if err != nil {
				return nil, nil, err
			}
		}
	}

	for _, layer := range extra {
		src, err := os.Open(layer.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: opening layer blob: %w", ErrLayout, err)
		}
		err = w.writeBlobReader(layer.Digest, layer.Size, src)
		src.Close()
		if err != nil {
			return nil, nil, err
		}
		layers = append(layers, layer.Descriptor())
		diffIDs = append(diffIDs, layer.DiffID)
	}

	return layers, diffIDs, nil
}

// Writes the image config blob and returns its descriptor.
//
// The config inherits the base's platform and env, overlays the declared
// bindings, and records the working directory, the exposed port, and the
// launch command. Env entries are sorted so the config bytes do not depend
// on map iteration order.
func (w *archiveWriter) writeConfig(args ArchiveArgs, diffIDs []digest.Digest) (ocispec.Descriptor, error) {
	var ports map[string]struct{}
	if args.Port > 0 {
		ports = map[string]struct{}{
			fmt.Sprintf("%d/tcp", args.Port): {},
		}
	}

	platform := ocispec.Platform{OS: "linux"}
	var baseEnv []string
	if args.Base != nil {
		platform.Architecture = args.Base.Config.Architecture
		platform.OS = args.Base.Config.OS
		baseEnv = args.Base.Config.Config.Env
	} else if osName, arch, ok := strings.Cut(args.Platform, "/"); ok {
		platform.OS = osName
		platform.Architecture = arch
	}

	configDigest, config := canonicalJSON(ocispec.Image{
		Platform: platform,
		Config: ocispec.ImageConfig{
			Env:          mergeEnv(baseEnv, args.Env),
			WorkingDir:   args.Workdir,
			ExposedPorts: ports,
			Cmd:          args.Entrypoint,
		},
		RootFS: ocispec.RootFS{
			Type:    "layers",
			DiffIDs: diffIDs,
		},
	})
	if err := w.writeBlob(configDigest, config); err != nil {
		return ocispec.Descriptor{}, err
	}

	return ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageConfig,
		Digest:    configDigest,
		Size:      int64(len(config)),
	}, nil
}

// Overlays declared bindings on the base env and returns a sorted
// "key=value" list.
func mergeEnv(base []string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Emits tar entries for an image archive.
type archiveWriter struct {
	tw *tar.Writer
}

// Writes an in-memory file into the archive.
func (w *archiveWriter) writeMemory(name string, contents []byte) error {
	err := w.tw.WriteHeader(&tar.Header{
		Name: name,
		Mode: 0600,
		Size: int64(len(contents)),
	})
	if err != nil {
		return fmt.Errorf("%w: writing header for %s: %w", ErrLayout, name, err)
	}
	if _, err := w.tw.Write(contents); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrLayout, name, err)
	}
	return nil
}

// Marshals a value canonically and writes it as an in-memory file.
func (w *archiveWriter) writeJSON(name string, contents any) error {
	_, data := canonicalJSON(contents)
	return w.writeMemory(name, data)
}

// Writes a blob from memory.
func (w *archiveWriter) writeBlob(dgst digest.Digest, contents []byte) error {
	return w.writeMemory(blobPath(dgst), contents)
}

// Streams a blob into the archive.
func (w *archiveWriter) writeBlobReader(dgst digest.Digest, size int64, r io.Reader) error {
	err := w.tw.WriteHeader(&tar.Header{
		Name: blobPath(dgst),
		Mode: 0600,
		Size: size,
	})
	if err != nil {
		return fmt.Errorf("%w: writing blob header: %w", ErrLayout, err)
	}
	if _, err := io.Copy(w.tw, r); err != nil {
		return fmt.Errorf("%w: writing blob %s: %w", ErrLayout, dgst, err)
	}
	return nil
}

// Marshals a value to canonical JSON and returns the digest of the bytes.
//
// Go does not order keys for arbitrary struct serialization, so the value
// is round-tripped through untyped maps, which marshal with sorted keys.
func canonicalJSON(v any) (digest.Digest, []byte) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		panic(err)
	}
	data, err = json.Marshal(generic)
	if err != nil {
		panic(err)
	}

	sum := sha256.New()
	_, _ = sum.Write(data)
	return digest.NewDigest(digest.SHA256, sum), data
}
