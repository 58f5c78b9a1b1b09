package cli

import (
	"context"
	"fmt"
	goruntime "runtime"

	"github.com/kilnhq/kiln/internal/runtime"
)

// Represents the 'kiln run' command.
type RunCmd struct {
	Archive             string `arg:"" optional:"" default:"dist/image.tar" help:"Image archive to run."`
	Platform            string `help:"Target platform (e.g. linux/amd64). Defaults to the host."`
	ID                  string `default:"kiln-run" help:"Container identifier."`
	ContainerdAddress   string `default:"/run/containerd/containerd.sock" help:"Containerd socket address."`
	ContainerdNamespace string `default:"kilnd" help:"Containerd namespace."`
}

// Executes the run command.
//
// Launches the entrypoint declared on the archive's image config and
// blocks until the process exits. The container uses host networking, so
// the image's declared port is reachable on the host.
func (c *RunCmd) Run(ctx context.Context) error {
	platform := c.Platform
	if platform == "" {
		platform = "linux/" + goruntime.GOARCH
	}

	rt, err := runtime.New(c.ContainerdAddress, c.ContainerdNamespace)
	if err != nil {
		return err
	}
	defer rt.Close()

	code, err := rt.Launch(ctx, c.Archive, c.ID, platform)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("process exited with code %d", code)
	}
	return nil
}
