package build

import "errors"

var (
	ErrBuild               = errors.New("build failed")
	ErrResolve             = errors.New("base runtime resolution failed")
	ErrInstall             = errors.New("dependency installation failed")
	ErrStage               = errors.New("staging failed")
	ErrFileSystemOperation = errors.New("file system operation failed")
)
