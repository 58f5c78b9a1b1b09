package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"

	"github.com/kilnhq/kiln/internal/paths"
	"github.com/kilnhq/kiln/internal/protocol"
)

// Sends one command to the daemon and returns the response payload.
//
// Connects to the daemon socket, writes a newline-delimited envelope,
// and reads the single response. An error response from the daemon is
// surfaced as an error.
func request(cmd protocol.Command, payload any) (json.RawMessage, error) {
	socket := RootCmd.Socket
	if socket == "" {
		socket = paths.Socket()
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("%w: is kilnd running? (%v)", ErrDaemonUnavailable, err)
	}
	defer conn.Close()

	data, err := protocol.Encode(cmd, payload)
	if err != nil {
		return nil, err
	}
	data = append(data, byte(10))

	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDaemonUnavailable, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes(byte(10))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDaemonUnavailable, err)
	}

	env, body, err := protocol.Decode(line)
	if err != nil {
		return nil, err
	}

	if env.Command == protocol.CmdError {
		result, err := protocol.DecodePayload[protocol.ErrorResult](body)
		if err != nil {
			return nil, fmt.Errorf("daemon returned an unreadable error: %w", err)
		}
		return nil, fmt.Errorf("%s", result.Message)
	}

	return body, nil
}
