package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	goruntime "runtime"
	"time"

	"github.com/kilnhq/kiln/internal"
	"github.com/kilnhq/kiln/internal/build"
	"github.com/kilnhq/kiln/internal/protocol"
	"github.com/kilnhq/kiln/internal/registry"
	"github.com/kilnhq/kiln/internal/runtime"
)

// Handles a build command.
//
// Receives a build plan from the kiln CLI and executes it against the
// container runtime.
func (s *Server) handleBuild(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.BuildRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	platform := req.Platform
	if platform == "" {
		platform = "linux/" + goruntime.GOARCH
	}

	puller, err := registry.New("", platform)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}
	defer puller.Close()

	result, err := build.Run(ctx, build.Deps{
		Resolver:  puller,
		Installer: runtime.NewInstaller(s.runtime),
	}, build.Options{
		Plan:     req.Plan,
		Context:  req.Context,
		Output:   req.Output,
		Platform: platform,
		NoCache:  req.NoCache,
	})
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	s.mu.Lock()
	s.builds++
	s.mu.Unlock()

	s.respond(conn, protocol.CmdOK, &protocol.BuildResult{
		Output: result.Output,
		Digest: result.Digest.String(),
	})
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	builds := s.builds
	s.mu.Unlock()

	uptime := time.Since(s.startedAt).Truncate(time.Second)

	s.respond(conn, protocol.CmdOK, &protocol.StatusResult{
		Running: true,
		Version: internal.VersionString(),
		Pid:     os.Getpid(),
		Uptime:  uptime.String(),
		Builds:  builds,
	})
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, nil)
	slog.Info("shutdown requested")

	go func() {
		s.Stop()
	}()
}
