package runtime

import "errors"

var (
	ErrRuntime          = errors.New("runtime error")
	ErrEmptyArchive     = errors.New("archive contains no image")
	ErrMultipleImages   = errors.New("archive contains multiple images")
	ErrArtifactNotFound = errors.New("image archive not found")
)
