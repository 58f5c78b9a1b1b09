package protocol

import (
	"testing"

	"github.com/kilnhq/kiln/internal/recipe"
)

func TestEncodeDecodeBuildRequest(t *testing.T) {
	req := BuildRequest{
		Plan:    recipe.Default("python:3.9-slim", "newapp.py"),
		Context: "/home/dev/app",
		Output:  "dist",
	}

	data, err := Encode(CmdBuild, req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, payload, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Command != CmdBuild {
		t.Errorf("command = %q, want %q", env.Command, CmdBuild)
	}

	got, err := DecodePayload[BuildRequest](payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Context != req.Context {
		t.Errorf("context = %q, want %q", got.Context, req.Context)
	}
	if got.Plan.Base != req.Plan.Base {
		t.Errorf("base = %q, want %q", got.Plan.Base, req.Plan.Base)
	}
	if got.Plan.Env["FLASK_ENV"] != "production" {
		t.Errorf("env = %v, want FLASK_ENV=production", got.Plan.Env)
	}
}

func TestEncodeNilPayload(t *testing.T) {
	data, err := Encode(CmdShutdown, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, payload, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Command != CmdShutdown {
		t.Errorf("command = %q, want %q", env.Command, CmdShutdown)
	}
	if len(payload) != 0 {
		t.Errorf("payload = %q, want empty", payload)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: "nope"},
		{name: "missing command", input: `{"payload":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Decode([]byte(tt.input)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestDecodePayloadMissing(t *testing.T) {
	if _, err := DecodePayload[BuildRequest](nil); err == nil {
		t.Fatal("expected error for missing payload")
	}
}
