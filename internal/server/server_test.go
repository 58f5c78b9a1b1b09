package server

import (
	"path/filepath"
	"testing"
	"time"
)

func TestStopIsIdempotent(t *testing.T) {
	s := &Server{
		socketPath: filepath.Join(t.TempDir(), "kiln.sock"),
		done:       make(chan struct{}),
	}

	// A shutdown command and a termination signal can both trigger Stop.
	if err := s.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("Wait would not return after Stop")
	}
}
