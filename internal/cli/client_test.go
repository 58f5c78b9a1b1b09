package cli

import (
	"bufio"
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/kilnhq/kiln/internal/protocol"
)

// Serves a single exchange on a Unix socket and records the command it
// received. Points the client at the socket for the duration of the test.
func serveOneExchange(t *testing.T, reply protocol.Command, payload any) <-chan protocol.Command {
	t.Helper()

	socket := filepath.Join(t.TempDir(), "kiln.sock")
	listener, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	prev := RootCmd.Socket
	RootCmd.Socket = socket
	t.Cleanup(func() { RootCmd.Socket = prev })

	received := make(chan protocol.Command, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		line, err := bufio.NewReader(conn).ReadBytes(byte(10))
		if err != nil {
			return
		}
		env, _, err := protocol.Decode(line)
		if err != nil {
			return
		}
		received <- env.Command

		data, err := protocol.Encode(reply, payload)
		if err != nil {
			return
		}
		conn.Write(append(data, byte(10)))
	}()

	return received
}

func TestStopSendsShutdown(t *testing.T) {
	received := serveOneExchange(t, protocol.CmdOK, nil)

	cmd := &StopCmd{}
	if err := cmd.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := <-received; got != protocol.CmdShutdown {
		t.Errorf("daemon received %q, want %q", got, protocol.CmdShutdown)
	}
}

func TestRequestSurfacesDaemonError(t *testing.T) {
	serveOneExchange(t, protocol.CmdError, protocol.ErrorResult{Message: "build failed"})

	_, err := request(protocol.CmdBuild, nil)
	if err == nil || err.Error() != "build failed" {
		t.Fatalf("error = %v, want daemon message", err)
	}
}

func TestRequestDaemonUnavailable(t *testing.T) {
	prev := RootCmd.Socket
	RootCmd.Socket = filepath.Join(t.TempDir(), "kiln.sock")
	t.Cleanup(func() { RootCmd.Socket = prev })

	_, err := request(protocol.CmdStatus, nil)
	if !errors.Is(err, ErrDaemonUnavailable) {
		t.Fatalf("error = %v, want ErrDaemonUnavailable", err)
	}
}
