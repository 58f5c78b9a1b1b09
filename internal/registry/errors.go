package registry

import (
	"errors"
	"fmt"

	"github.com/docker/distribution/registry/api/errcode"
	v2 "github.com/docker/distribution/registry/api/v2"
)

var (
	ErrReference = errors.New("invalid image reference")
	ErrPull      = errors.New("image pull failed")
	ErrNotFound  = errors.New("image not found")
)

// Classifies a pull failure. Registry responses naming a missing
// repository or manifest map to [ErrNotFound] so callers can tell a bad
// reference apart from a transient fault. Everything else, network
// errors included, stays [ErrPull].
func pullError(ref string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, ref, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrPull, ref, err)
}

func isNotFound(err error) bool {
	var ec errcode.Error
	if errors.As(err, &ec) {
		return unknownCode(ec.Code)
	}
	var ecs errcode.Errors
	if errors.As(err, &ecs) {
		for _, e := range ecs {
			if ec, ok := e.(errcode.Error); ok && unknownCode(ec.Code) {
				return true
			}
		}
	}
	return false
}

func unknownCode(code errcode.ErrorCode) bool {
	return code == v2.ErrorCodeManifestUnknown || code == v2.ErrorCodeNameUnknown
}
