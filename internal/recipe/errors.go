package recipe

import "errors"

var (
	ErrParse       = errors.New("recipe parse failed")
	ErrUnsupported = errors.New("unsupported instruction")
	ErrInvalid     = errors.New("invalid recipe")
)
