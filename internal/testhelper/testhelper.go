// Package testhelper implements code that helps in unit and integration
// testing.  The helpers in this package include verbose logging (with
// colored details) and fake implementations of the uploader and the
// backup store that record what they were asked to do.
package testhelper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m-lab/hievup/api"
)

const (
	ANSIGreen  = "\033[00;32m"
	ANSIBlue   = "\033[00;34m"
	ANSIPurple = "\033[00;35m"
	ANSIEnd    = "\033[0m"
)

var (
	ErrFakeUpload = errors.New("fake upload failure")
	ErrFakeStore  = errors.New("fake store failure")
)

// VLogf logs messages in verbose mode (mostly for debugging).  Messages
// are prefixed by "filename:line-number function()" printed in green and
// the message printed in blue for easier visual inspection.
func VLogf(format string, args ...interface{}) {
	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		log.Printf(format, args...)
		return
	}
	details := runtime.FuncForPC(pc)
	if details == nil {
		log.Printf(format, args...)
		return
	}
	file = filepath.Base(file)
	idx := strings.LastIndex(details.Name(), "/")
	if idx == -1 {
		idx = 0
	} else {
		idx++
	}
	a := []interface{}{ANSIGreen, file, line, details.Name()[idx:], ANSIBlue}
	a = append(a, args...)
	log.Printf("%s%s:%d: %s(): %s"+format+"%s", append(a, ANSIEnd)...)
}

// Upload records a single call to the fake uploader.
type Upload struct {
	Filename string
	Payload  api.UploadPayload
	Contents string
}

// FakeUploader mimics uploads to HIEv.  Uploads are rejected if the
// filename or the payload's experiment ID contains "fail".
type FakeUploader struct {
	mu      sync.Mutex
	Uploads []Upload
}

// Upload mimics uploading the contents of a file along with its payload.
func (f *FakeUploader) Upload(ctx context.Context, payload api.UploadPayload, filename string, r io.Reader) error {
	contents, err := io.ReadAll(r)
	if err != nil {
		return err //nolint:wrapcheck
	}
	f.mu.Lock()
	f.Uploads = append(f.Uploads, Upload{Filename: filename, Payload: payload, Contents: string(contents)})
	f.mu.Unlock()
	if strings.Contains(filename, "fail") || strings.Contains(payload.ExperimentID, "fail") {
		return fmt.Errorf("%v: %w", filename, ErrFakeUpload)
	}
	return nil
}

// Count returns the number of uploads attempted for filename.
func (f *FakeUploader) Count(filename string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.Uploads {
		if u.Filename == filename {
			n++
		}
	}
	return n
}

// DirStore mimics a backup store by renaming files into Dir.  Files
// whose names contain "nomove" are not moved.
type DirStore struct {
	Dir string
}

// Name returns the name of the store.
func (d *DirStore) Name() string {
	return "dir:" + d.Dir
}

// Store moves srcPath into the store's directory.
func (d *DirStore) Store(ctx context.Context, name, srcPath string) error {
	if strings.Contains(name, "nomove") {
		return fmt.Errorf("%v: %w", name, ErrFakeStore)
	}
	return os.Rename(srcPath, filepath.Join(d.Dir, name)) //nolint:wrapcheck
}

// WriteFiles creates the named files in dir with their names as contents.
func WriteFiles(dir string, names ...string) error {
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o666); err != nil {
			return err //nolint:wrapcheck
		}
	}
	return nil
}
