package build

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kilnhq/kiln/internal/paths"
)

// The append-only staging area for files that become the application
// layer.
//
// Steps may only add entries. A path staged by an earlier step is never
// replaced or removed by a later one: staging the full source tree skips
// any path the manifest step already staged.
type stagingArea struct {
	root string
}

// Creates a staging area rooted at an empty directory under dir.
func newStagingArea(dir string) (*stagingArea, error) {
	root := filepath.Join(dir, "staging")
	if err := os.MkdirAll(root, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	return &stagingArea{root: root}, nil
}

// Stages a single file from the build context.
//
// Fails when the file does not exist in the context or is already staged.
func (s *stagingArea) addFile(contextRoot, rel string) error {
	src := filepath.Join(contextRoot, rel)
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStage, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory, expected a file", ErrStage, rel)
	}

	dest := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(dest), paths.DefaultDirMode); err != nil {
		return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	if err := copyEntry(src, dest, info.Mode(), false); err != nil {
		return err
	}
	return nil
}

// Stages every file in the build context.
//
// Paths already present in the staging area are left untouched.
func (s *stagingArea) addTree(contextRoot string) error {
	return filepath.WalkDir(contextRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStage, err)
		}
		if path == contextRoot {
			return nil
		}

		rel, err := filepath.Rel(contextRoot, path)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStage, err)
		}
		dest := filepath.Join(s.root, rel)

		if d.IsDir() {
			if err := os.MkdirAll(dest, paths.DefaultDirMode); err != nil {
				return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStage, err)
		}
		return copyEntry(path, dest, info.Mode(), true)
	})
}

// Copies a file into the staging area.
//
// With skipExisting, an already-staged destination is preserved as-is.
// Without it, an existing destination is a staging error.
func copyEntry(src, dest string, mode os.FileMode, skipExisting bool) error {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode.Perm())
	if err != nil {
		if os.IsExist(err) {
			if skipExisting {
				return nil
			}
			return fmt.Errorf("%w: %s already staged", ErrStage, dest)
		}
		return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	in, err := os.Open(src)
	if err != nil {
		out.Close()
		return fmt.Errorf("%w: %w", ErrStage, err)
	}
	defer in.Close()

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	return nil
}
