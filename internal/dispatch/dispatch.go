// Package dispatch runs a single pass over the watched directory: every
// file is checked against every rule, and the file is uploaded once per
// matching rule with that rule's metadata.  After its last upload, a
// file with at least one successful upload is moved to the backup store.
//
// A pass is strictly sequential.  Errors concerning a single file are
// logged and the pass continues with the next (file, rule) pair.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/m-lab/hievup/api"
	"github.com/m-lab/hievup/internal/backup"
	"github.com/m-lab/hievup/internal/metrics"
	"github.com/m-lab/hievup/internal/rules"
)

// Uploader uploads a file and its metadata to the data repository.
type Uploader interface {
	Upload(ctx context.Context, payload api.UploadPayload, filename string, r io.Reader) error
}

// EventLog records the outcome of each step of a pass.
type EventLog interface {
	MatchFound(filename, experimentID string)
	InvalidDate(filename string, err error)
	Skipped(filename, reason string)
	Uploaded(filename string)
	UploadFailed(filename string, err error)
	Moved(filename, store string)
	MoveFailed(filename string, err error)
	// Remaining reports the regular files left in the watched
	// directory.  Subdirectories are not counted.
	Remaining(n int)
}

// Config defines dispatcher configuration options.
type Config struct {
	WatchDir string // directory holding files to upload
	// SkipOnDateError skips the upload of a (file, rule) pair whose date
	// token cannot be parsed.  By default the file is uploaded with
	// empty start and end times.
	SkipOnDateError bool
}

// FileRecord is a file found in the watched directory.
type FileRecord struct {
	Name string // base name
	Path string // full pathname
}

// Pair is a file together with one of the rules it matched.
type Pair struct {
	File FileRecord
	Rule rules.Rule
}

// Summary counts what happened during a pass.
type Summary struct {
	Files        int // files found at the start of the pass
	Matches      int // (file, rule) pairs
	DateFailures int
	Skipped      int
	Uploaded     int
	UploadFailed int
	Moved        int
	MoveFailed   int
	Remaining    int // regular files left at the end of the pass; subdirectories are not counted
}

// Dispatcher uploads matching files.
type Dispatcher struct {
	conf     Config
	rules    *rules.Set
	uploader Uploader
	store    backup.Store
	metrics  *metrics.Metrics
}

var (
	ErrConfig  = errors.New("invalid dispatcher configuration")
	ErrListDir = errors.New("failed to list watched directory")

	// Testing and debugging support.
	verbose = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// New returns a new dispatcher.  If m is nil, metrics are collected in a
// private registry.
func New(conf Config, rs *rules.Set, uploader Uploader, store backup.Store, m *metrics.Metrics) (*Dispatcher, error) {
	if conf.WatchDir == "" {
		return nil, fmt.Errorf("%w: empty watch directory", ErrConfig)
	}
	if rs == nil || uploader == nil || store == nil {
		return nil, fmt.Errorf("%w: nil rules, uploader, or store", ErrConfig)
	}
	if m == nil {
		m = metrics.New()
	}
	return &Dispatcher{
		conf:     Config{WatchDir: filepath.Clean(conf.WatchDir), SkipOnDateError: conf.SkipOnDateError},
		rules:    rs,
		uploader: uploader,
		store:    store,
		metrics:  m,
	}, nil
}

// ListFiles returns the files (not directories) in dir, sorted by name.
func ListFiles(dir string) ([]FileRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListDir, err)
	}
	files := make([]FileRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, FileRecord{Name: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	return files, nil
}

// Pairs returns every (file, rule) pair where the rule matches the file,
// ordered by file and then by rule.
func Pairs(files []FileRecord, rs *rules.Set) []Pair {
	var pairs []Pair
	for _, f := range files {
		for _, r := range rs.Matching(f.Name) {
			pairs = append(pairs, Pair{File: f, Rule: r})
		}
	}
	return pairs
}

// Run performs one pass over the watched directory.  It returns an error
// only if the directory cannot be listed or ctx is canceled; everything
// else is reported through el and the summary.
func (d *Dispatcher) Run(ctx context.Context, el EventLog) (Summary, error) {
	var s Summary
	files, err := ListFiles(d.conf.WatchDir)
	if err != nil {
		return s, err
	}
	s.Files = len(files)
	verbose("found %d files in %v", len(files), d.conf.WatchDir)
	var runErr error
	pairs := Pairs(files, d.rules)
	for i := 0; i < len(pairs); {
		j := i + 1
		for j < len(pairs) && pairs[j].File == pairs[i].File {
			j++
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		d.processFile(ctx, el, pairs[i:j], &s)
		i = j
	}

	remaining, err := ListFiles(d.conf.WatchDir)
	if err != nil {
		return s, err
	}
	s.Remaining = len(remaining)
	el.Remaining(s.Remaining)
	d.metrics.FilesRemaining.Set(float64(s.Remaining))
	d.metrics.Passes.Inc()
	verbose("pass summary: %+v", s)
	return s, runErr
}

// processFile uploads a file once for each of its pairs.  The file is
// moved to the backup store after its last pair, if at least one of its
// uploads succeeded.
func (d *Dispatcher) processFile(ctx context.Context, el EventLog, pairs []Pair, s *Summary) {
	f := pairs[0].File
	uploaded := false
	for _, p := range pairs {
		if d.processPair(ctx, el, p, s) {
			uploaded = true
		}
	}
	if !uploaded {
		return
	}
	if err := d.store.Store(ctx, f.Name, f.Path); err != nil {
		el.MoveFailed(f.Name, err)
		s.MoveFailed++
		d.metrics.Move(false)
		return
	}
	el.Moved(f.Name, d.store.Name())
	s.Moved++
	d.metrics.Move(true)
}

// processPair uploads the file of a single pair and reports whether the
// upload succeeded.
func (d *Dispatcher) processPair(ctx context.Context, el EventLog, p Pair, s *Summary) bool {
	name := p.File.Name
	el.MatchFound(name, p.Rule.ExperimentID)
	s.Matches++
	d.metrics.FilesMatched.Inc()

	// The time window of every pair starts out empty, so a failed
	// extraction never inherits the window of a previous pair.
	payload, err := p.Rule.Payload(name)
	if err != nil {
		el.InvalidDate(name, err)
		s.DateFailures++
		d.metrics.DateFailures.Inc()
		if d.conf.SkipOnDateError {
			el.Skipped(name, "no valid date or date range")
			s.Skipped++
			return false
		}
	}

	if err := d.upload(ctx, payload, p.File); err != nil {
		el.UploadFailed(name, err)
		s.UploadFailed++
		d.metrics.Upload(false)
		return false
	}
	el.Uploaded(name)
	s.Uploaded++
	d.metrics.Upload(true)
	return true
}

// upload opens the file and hands it to the uploader.  The file is
// closed before returning so it can be moved.
func (d *Dispatcher) upload(ctx context.Context, payload api.UploadPayload, f FileRecord) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer file.Close()
	return d.uploader.Upload(ctx, payload, f.Name, file) //nolint:wrapcheck
}
