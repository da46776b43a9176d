// Package watchdir watches a directory and sends notifications to its
// client when a new file is written to it or moved into it.
// Subdirectories are not watched.
package watchdir

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/rjeczalik/notify"
)

// WatchEvent is the message that is passed through the watch channel.
type WatchEvent struct {
	Path string // file pathname
	Name string // base name of the file
}

// WatchDir defines the directory to watch.
type WatchDir struct {
	watchDir    string          // directory to watch
	watchEvents []notify.Event  // events to watch for
	watchChan   chan WatchEvent // channel to send watch events through
}

const (
	// The values of these constants should be big enough to allow
	// for a flurry of file creations.
	watchChanSize  = 1000
	notifyChanSize = 1000
)

var (
	// DefaultWatchEvents are the events that indicate a complete
	// file has appeared in the directory.
	DefaultWatchEvents = []notify.Event{notify.InCloseWrite, notify.InMovedTo}

	// AllWatchEvents is the list of all possible events to watch for.
	AllWatchEvents = []notify.Event{
		notify.InAccess,
		notify.InModify,
		notify.InAttrib,
		notify.InCloseWrite,
		notify.InCloseNowrite,
		notify.InOpen,
		notify.InMovedFrom,
		notify.InMovedTo,
		notify.InCreate,
		notify.InDelete,
		notify.InDeleteSelf,
		notify.InMoveSelf,
	}

	ErrUnrecognizedEvent = errors.New("unrecognized event")
	ErrNotifyWatch       = errors.New("failed to start notify.Watch")
	ErrNotDir            = errors.New("not a directory")

	// Testing and debugging support.
	vFunc     = func(fmt string, args ...interface{}) {}
	vFuncLock sync.Mutex
)

// Verbose prints verbose messages if initialized by the caller.
func Verbose(v func(string, ...interface{})) {
	vFuncLock.Lock()
	vFunc = v
	vFuncLock.Unlock()
}

func verbose(fmt string, args ...interface{}) {
	vFuncLock.Lock()
	vFunc(fmt, args...)
	vFuncLock.Unlock()
}

// New returns a new instance of WatchDir.  If watchEvents is empty,
// DefaultWatchEvents are watched.
func New(watchDir string, watchEvents []notify.Event) (*WatchDir, error) {
	fi, err := os.Stat(watchDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotDir, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%v: %w", watchDir, ErrNotDir)
	}
	if len(watchEvents) == 0 {
		watchEvents = DefaultWatchEvents
	} else if err := validateWatchEvents(watchEvents); err != nil {
		return nil, err
	}
	return &WatchDir{
		watchDir:    filepath.Clean(watchDir),
		watchEvents: watchEvents,
		watchChan:   make(chan WatchEvent, watchChanSize),
	}, nil
}

// WatchChan returns the channel through which watch events are sent to
// the client.
func (wd *WatchDir) WatchChan() <-chan WatchEvent {
	return wd.watchChan
}

// WatchAndNotify watches the directory for the configured events and
// sends the pathnames of regular files directly inside it through the
// watch channel.  It returns when ctx is canceled.
func (wd *WatchDir) WatchAndNotify(ctx context.Context) error {
	verbose("watching directory %v and notifying", wd.watchDir)
	eiChan := make(chan notify.EventInfo, notifyChanSize)
	if err := notify.Watch(wd.watchDir, eiChan, wd.watchEvents...); err != nil {
		return fmt.Errorf("%w: %w", ErrNotifyWatch, err)
	}
	defer notify.Stop(eiChan)
	for {
		select {
		case <-ctx.Done():
			verbose("'watch and notify' context canceled for %v", wd.watchDir)
			return nil
		case ei, chOpen := <-eiChan:
			if !chOpen {
				verbose("event info channel closed")
				return nil
			}
			if err := validateWatchEvents([]notify.Event{ei.Event()}); err != nil {
				log.Printf("WARNING: ignoring unrecognized event %v for %v\n", ei, ei.Path())
				continue
			}
			if !wd.validPath(ei.Path()) {
				verbose("ignoring %v", ei.Path())
				continue
			}
			we := WatchEvent{Path: ei.Path(), Name: filepath.Base(ei.Path())}
			select {
			case wd.watchChan <- we:
				verbose("notification sent for %v", we)
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// validateWatchEvents validates that all watch events in the specified
// list are valid.
func validateWatchEvents(watchEvents []notify.Event) error {
	for _, we := range watchEvents {
		found := false
		for i := range AllWatchEvents {
			if we == AllWatchEvents[i] {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%v: %w", we, ErrUnrecognizedEvent)
		}
	}
	return nil
}

// validPath returns true if path is a regular file directly inside the
// watched directory.
func (wd *WatchDir) validPath(path string) bool {
	if filepath.Dir(path) != wd.watchDir {
		return false
	}
	fi, err := os.Stat(path)
	if err != nil {
		// The file may already have been moved by a pass.
		verbose("failed to stat: %v", err)
		return false
	}
	return fi.Mode().IsRegular()
}
