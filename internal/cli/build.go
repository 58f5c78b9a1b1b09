package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/kilnhq/kiln/internal/protocol"
	"github.com/kilnhq/kiln/internal/recipe"
)

// Represents the 'kiln build' command.
type BuildCmd struct {
	Context  string `arg:"" optional:"" default:"." help:"Build context directory."`
	Recipe   string `short:"f" default:"Dockerfile" help:"Recipe file, relative to the context."`
	Output   string `short:"o" default:"dist" help:"Output directory for the image archive."`
	Platform string `help:"Target platform (e.g. linux/amd64). Defaults to the host."`
	NoCache  bool   `help:"Ignore the install-layer cache."`
}

// Executes the build command.
//
// Parses the recipe into a build plan and sends it to the daemon, which
// pulls the base runtime, installs dependencies, and writes the image
// archive to the output directory.
func (c *BuildCmd) Run(ctx context.Context) error {
	contextDir, err := filepath.Abs(c.Context)
	if err != nil {
		return err
	}
	output, err := filepath.Abs(c.Output)
	if err != nil {
		return err
	}

	plan, err := recipe.ParseFile(filepath.Join(contextDir, c.Recipe))
	if err != nil {
		return err
	}

	slog.Info("sending build to daemon", "recipe", c.Recipe, "context", contextDir)

	payload, err := request(protocol.CmdBuild, &protocol.BuildRequest{
		Plan:     plan,
		Context:  contextDir,
		Output:   output,
		Platform: c.Platform,
		NoCache:  c.NoCache,
	})
	if err != nil {
		return err
	}

	result, err := protocol.DecodePayload[protocol.BuildResult](payload)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", result.Output, result.Digest)
	return nil
}
