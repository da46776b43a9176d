// Package backup implements the stores that uploaded data files are
// moved to.  A file is handed to a store only after HIEv accepted it;
// once stored, the file no longer exists in the watched directory.
package backup

import (
	"context"
	"errors"
)

// Store moves a local file out of the watched directory.
type Store interface {
	// Name returns a human-readable description of the store.
	Name() string
	// Store moves srcPath into the store under name.
	Store(ctx context.Context, name, srcPath string) error
}

var (
	ErrConfig = errors.New("invalid backup configuration")
	ErrMove   = errors.New("failed to move file to backup store")

	// Testing and debugging support.
	verbose = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}
