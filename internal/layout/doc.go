// Package layout assembles OCI image archives.
//
// An archive is a tar file containing an OCI image layout: the oci-layout
// marker, content-addressed blobs under blobs/sha256, and an index.json
// referencing a single image manifest. The base runtime's layers are copied
// through unchanged; the dependency-install layer and the source layer are
// appended on top; the image config records the declared launch metadata
// (environment bindings, exposed port, working directory, entrypoint
// command).
//
// All JSON blobs are marshaled canonically and tar entries are written in
// a fixed order with normalized headers, so identical inputs produce a
// byte-identical archive and therefore an identical artifact digest.
package layout
