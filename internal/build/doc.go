// Package build executes image build plans.
//
// A plan is a fixed, ordered sequence of steps: resolve the base
// runtime, stage the dependency manifest, install dependencies, stage
// the application source tree, then assemble the final OCI archive with
// its declared metadata and entrypoint. Steps never run conditionally
// or in parallel; the first failure aborts the build and no artifact is
// published.
//
// Base resolution and dependency installation are delegated to the
// [Resolver] and [Installer] collaborators. The registry package
// provides the former, the runtime package the latter. Install layers
// are cached between builds keyed on the base digest, the manifest
// content, and the install command, so a build whose only change is in
// the source tree reuses the cached install layer.
//
// Example usage:
//
//	result, err := build.Run(ctx, build.Deps{
//	    Resolver:  puller,
//	    Installer: installer,
//	}, build.Options{
//	    Plan:    plan,
//	    Context: ".",
//	    Output:  "dist",
//	})
//	if err != nil {
//	    return err
//	}
package build
