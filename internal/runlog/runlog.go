// Package runlog writes the append-only run log that operators read to
// find out what happened to their data files.
//
// Every run starts with a banner and the current time, followed by one
// line per event and ends with the number of files left in the watched
// directory:
//
//	-----------------------------------------------
//	------------  2016-01-02 03:04:05  ------------
//	-----------------------------------------------
//
//	 Match found - Flux_20160101_TowerA.dat
//	 File successfully uploaded to HIEv
//	 File moved from Data folder to Backup folder
//	 Number of files remaining in the Data directory - 0
//
// Each event is also sent as a structured record to a slog.Logger,
// tagged with the run's ID.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m-lab/hievup/internal/filedate"
)

const (
	rule      = "-----------------------------------------------"
	ruleShort = "------------"
)

// RunLog is the log of a single run.  It is safe for concurrent use;
// lines written by concurrent callers are never interleaved.
type RunLog struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	logger *slog.Logger
	runID  string
	err    error // first write error
}

var (
	ErrOpen  = errors.New("failed to open run log")
	ErrWrite = errors.New("failed to write run log")

	// Testing and debugging support.
	now = time.Now
)

// Open opens (or creates) the log file at path for appending and starts
// a new run.
func Open(path string, logger *slog.Logger) (*RunLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	rl := New(f, logger)
	rl.closer = f
	return rl, nil
}

// New starts a new run that writes to w.  A nil logger discards
// structured records.
func New(w io.Writer, logger *slog.Logger) *RunLog {
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	runID := uuid.NewString()
	rl := &RunLog{
		w:      w,
		logger: logger.With("run_id", runID),
		runID:  runID,
	}
	rl.printf("\n%s \n", rule)
	rl.printf("%s  %s  %s \n", ruleShort, now().Format("2006-01-02 15:04:05"), ruleShort)
	rl.printf("%s \n\n", rule)
	rl.logger.Info("run started")
	return rl
}

// RunID returns the unique identifier of this run.
func (rl *RunLog) RunID() string {
	return rl.runID
}

// MatchFound records that filename matched a rule.
func (rl *RunLog) MatchFound(filename, experimentID string) {
	rl.printf(" Match found - %s \n", filename)
	rl.logger.Info("match found", "file", filename, "experiment_id", experimentID)
}

// InvalidDate records that the date token of filename could not be
// converted to a time window.
func (rl *RunLog) InvalidDate(filename string, err error) {
	detail := err.Error()
	var de *filedate.DateError
	if errors.As(err, &de) {
		detail = de.Detail
	}
	rl.printf(" ERROR - Not a valid date or date range in %s - %s \n", filename, detail)
	rl.logger.Warn("invalid date format", "file", filename, "error", err)
}

// Skipped records that an upload was not attempted.
func (rl *RunLog) Skipped(filename, reason string) {
	rl.printf(" File not uploaded - %s - %s \n", filename, reason)
	rl.logger.Warn("upload skipped", "file", filename, "reason", reason)
}

// Uploaded records a successful upload.
func (rl *RunLog) Uploaded(filename string) {
	rl.printf(" File successfully uploaded to HIEv \n")
	rl.logger.Info("upload succeeded", "file", filename)
}

// UploadFailed records a failed upload.
func (rl *RunLog) UploadFailed(filename string, err error) {
	rl.printf(" ERROR - There was a problem uploading the file to HIEv - %v \n", err)
	rl.logger.Error("upload failed", "file", filename, "error", err)
}

// Moved records that filename was moved to the backup store.
func (rl *RunLog) Moved(filename, store string) {
	rl.printf(" File moved from Data folder to Backup folder \n")
	rl.logger.Info("file moved", "file", filename, "store", store)
}

// MoveFailed records that filename was uploaded but could not be moved
// to the backup store.
func (rl *RunLog) MoveFailed(filename string, err error) {
	rl.printf(" ERROR - There was a problem moving the file to the Backup folder - %v \n", err)
	rl.logger.Error("move failed", "file", filename, "error", err)
}

// InsecureTransport records that TLS certificate verification is
// disabled for uploads.
func (rl *RunLog) InsecureTransport(endpoint string) {
	rl.printf(" WARNING - TLS certificate verification is disabled for %s \n", endpoint)
	rl.logger.Warn("TLS certificate verification disabled", "endpoint", endpoint)
}

// Error records an error that is not tied to a single file.
func (rl *RunLog) Error(msg string, err error) {
	rl.printf(" ERROR - %s - %v \n", msg, err)
	rl.logger.Error(msg, "error", err)
}

// Remaining records the number of files left in the watched directory.
// Only regular files are counted.  Older versions of the log counted
// every directory entry, subdirectories included.
func (rl *RunLog) Remaining(n int) {
	rl.printf(" Number of files remaining in the Data directory - %d \n", n)
	rl.logger.Info("run finished", "remaining", n)
}

// Close ends the run and closes the underlying file if the log was
// opened with Open.  It returns the first write error, if any.
func (rl *RunLog) Close() error {
	rl.printf("\n\n")
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.closer != nil {
		if err := rl.closer.Close(); err != nil && rl.err == nil {
			rl.err = fmt.Errorf("%w: %w", ErrWrite, err)
		}
		rl.closer = nil
	}
	return rl.err
}

func (rl *RunLog) printf(format string, args ...interface{}) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, err := fmt.Fprintf(rl.w, format, args...); err != nil && rl.err == nil {
		rl.err = fmt.Errorf("%w: %w", ErrWrite, err)
	}
}

// discardHandler drops all records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
