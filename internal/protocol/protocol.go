// Package protocol defines the wire format between the kiln CLI and the
// kilnd daemon.
//
// Messages are JSON envelopes carrying a command name and an optional
// payload. Each connection holds a single request-response exchange;
// envelopes are newline-delimited on the socket.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/kilnhq/kiln/internal/recipe"
)

// Identifies a daemon command or response.
type Command string

const (
	CmdBuild    Command = "build"    // Execute a build plan.
	CmdStatus   Command = "status"   // Query daemon status.
	CmdShutdown Command = "shutdown" // Stop the daemon.

	CmdOK    Command = "ok"    // Successful response.
	CmdError Command = "error" // Error response.
)

// The JSON message wrapper carried on the socket.
type Envelope struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Asks the daemon to execute a build plan.
type BuildRequest struct {
	Plan     recipe.Plan `json:"plan"`
	Context  string      `json:"context"`
	Output   string      `json:"output"`
	Platform string      `json:"platform,omitempty"`
	NoCache  bool        `json:"no_cache,omitempty"`
}

// Reports a completed build.
type BuildResult struct {
	Output string `json:"output"`
	Digest string `json:"digest"`
}

// Reports daemon status.
type StatusResult struct {
	Running bool   `json:"running"`
	Version string `json:"version"`
	Pid     int    `json:"pid"`
	Uptime  string `json:"uptime"`
	Builds  int    `json:"builds"`
}

// Carries an error message back to the client.
type ErrorResult struct {
	Message string `json:"message"`
}

// Serializes a command and payload into an envelope.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Command: cmd}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		env.Payload = data
	}

	return json.Marshal(env)
}

// Parses an envelope, returning the raw payload for command-specific
// decoding.
func Decode(data []byte) (Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Command == "" {
		return Envelope{}, nil, fmt.Errorf("envelope missing command")
	}
	return env, env.Payload, nil
}

// Parses a payload into the given type.
func DecodePayload[T any](payload json.RawMessage) (T, error) {
	var out T
	if len(payload) == 0 {
		return out, fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decoding payload: %w", err)
	}
	return out, nil
}
