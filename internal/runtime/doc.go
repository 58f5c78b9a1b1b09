// Package runtime manages containers backed by containerd.
//
// A [Runtime] connects to a containerd daemon and provides image import
// and container creation. OCI archives are imported, tagged with a
// deterministic content hash, unpacked for the target platform, and used
// to create containers with overlayfs snapshots.
//
// The [Installer] turns a dependency manifest into an image layer: it
// starts a container from the base runtime archive, copies the manifest
// in, runs the install command, and commits the snapshot diff as a
// compressed blob. [Runtime.Launch] runs a built artifact: the container
// process comes from the image config, so the declared entrypoint and
// environment take effect without further configuration.
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "kiln")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	layer, err := runtime.NewInstaller(rt).Install(ctx, req)
//	if err != nil {
//	    return err
//	}
//
//	code, err := rt.Launch(ctx, "dist/image.tar", "kiln-run-1", "linux/amd64")
//	if err != nil {
//	    return err
//	}
package runtime
