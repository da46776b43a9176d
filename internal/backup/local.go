package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// Local is a backup store in a local directory.
type Local struct {
	dir string
}

// Testing support.
var rename = os.Rename

// NewLocal returns a store that moves files into dir, which must exist.
func NewLocal(dir string) (*Local, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %v: not a directory", ErrConfig, dir)
	}
	return &Local{dir: filepath.Clean(dir)}, nil
}

// Name returns the name of the store.
func (l *Local) Name() string {
	return "local:" + l.dir
}

// Store renames srcPath into the backup directory, replacing any file
// with the same name.  If the directories are on different filesystems,
// the file is copied and then removed.
func (l *Local) Store(ctx context.Context, name, srcPath string) error {
	dstPath := filepath.Join(l.dir, filepath.Base(name))
	verbose("moving %v to %v", srcPath, dstPath)
	err := rename(srcPath, dstPath)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("%w: %w", ErrMove, err)
	}
	verbose("%v and %v are on different filesystems, copying", srcPath, dstPath)
	if err := copyFile(srcPath, dstPath); err != nil {
		return fmt.Errorf("%w: %w", ErrMove, err)
	}
	if err := os.Remove(srcPath); err != nil {
		return fmt.Errorf("%w: %w", ErrMove, err)
	}
	return nil
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		return err //nolint:wrapcheck
	}
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err //nolint:wrapcheck
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err //nolint:wrapcheck
	}
	return dst.Close() //nolint:wrapcheck
}
