package cli

import (
	"context"
	"fmt"

	"github.com/kilnhq/kiln/internal/protocol"
)

// Represents the 'kiln stop' command.
type StopCmd struct{}

// Executes the stop command.
//
// Asks the running daemon to shut down. The daemon acknowledges before
// stopping, so a successful return means the request was accepted, not
// that the process has already exited.
func (c *StopCmd) Run(ctx context.Context) error {
	if _, err := request(protocol.CmdShutdown, nil); err != nil {
		return err
	}

	fmt.Println("daemon stopping")
	return nil
}
