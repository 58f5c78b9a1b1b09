// Package recipe describes image builds as declarative plans.
//
// A [Plan] carries everything the build pipeline needs: the base runtime
// reference, the dependency manifest path, the install command, and the
// launch metadata (port, environment bindings, entrypoint) declared on the
// output artifact. Plans come from two places: [Default] produces the
// canonical Flask surface for a named entry file, and [Parse] derives a
// plan from a Dockerfile-compatible recipe, accepting only the linear
// five-step shape the pipeline can execute.
//
// Example usage:
//
//	plan, err := recipe.ParseFile("Dockerfile")
//	if err != nil {
//	    return err
//	}
//
//	result, err := build.Run(ctx, deps, build.Options{
//	    Plan:    plan,
//	    Context: ".",
//	    Output:  "dist",
//	})
package recipe
