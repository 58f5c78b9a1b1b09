// Package registry resolves base runtime references.
//
// A [Puller] pulls name:tag references from an image registry and caches
// the resulting OCI archives on disk, keyed by reference and platform. A
// cached reference is never re-checked against the registry: whatever
// content a tag resolved to on first pull is what later builds get,
// until the cache entry is removed.
//
// Example usage:
//
//	puller, err := registry.New("", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//	defer puller.Close()
//
//	base, err := puller.Resolve(ctx, "python:3.9-slim")
//	if err != nil {
//	    return err
//	}
package registry
