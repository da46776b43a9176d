// Package filedate derives the time span of a data file from a date or
// date range token embedded in its filename.
//
// Filenames are expected to follow this convention:
//
//	<segment>_<segment>_..._<segment>.<extension>
//
// where one of the segments, selected by its zero-based position, is
// either a single date (yyyymmdd) or a date range (yyyymmdd-yyyymmdd).
// Everything after the first dot is ignored, so date tokens cannot
// contain dots.
package filedate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/m-lab/hievup/api"
)

const (
	startOfDay = "00:00:00"
	// End of a day's window.  Files have always been uploaded with
	// this value; changing it to 23:59:59 would change the metadata
	// of every file in the repository.
	endOfDay = "11:59:59"
)

var (
	ErrInvalidDateFormat = errors.New("is not a valid date or date range")

	dateToken = regexp.MustCompile(`^[0-9]{8}$|^[0-9]{8}-[0-9]{8}$`)

	// Testing and debugging support.
	verbose = func(fmt string, args ...interface{}) {}
)

// DateError reports a filename without a valid date token.  It wraps
// ErrInvalidDateFormat.
type DateError struct {
	Filename string
	Detail   string // what was found instead of a date token
}

func (e *DateError) Error() string {
	return fmt.Sprintf("%v: %v: %v", e.Filename, e.Detail, ErrInvalidDateFormat)
}

func (e *DateError) Unwrap() error {
	return ErrInvalidDateFormat
}

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// Token returns the segment of filename at the given position after
// discarding the extension and splitting on underscores.
func Token(filename string, position int) (string, error) {
	stem, _, _ := strings.Cut(filename, ".")
	segments := strings.Split(stem, "_")
	if position < 0 || position >= len(segments) {
		return "", &DateError{Filename: filename, Detail: fmt.Sprintf("position %d of %d segments", position, len(segments))}
	}
	return segments[position], nil
}

// Extract returns the time window encoded in the date token of filename
// at the given position.  A single date yields a window from the start
// of that date to 11:59:59 of the same date.  A date range yields a
// window from the start of the first date to 11:59:59 of the second.
func Extract(filename string, position int) (api.TimeWindow, error) {
	token, err := Token(filename, position)
	if err != nil {
		return api.TimeWindow{}, err
	}
	if !dateToken.MatchString(token) {
		return api.TimeWindow{}, &DateError{Filename: filename, Detail: fmt.Sprintf("token %q at position %d", token, position)}
	}
	first, last, isRange := strings.Cut(token, "-")
	if !isRange {
		last = first
	}
	tw := api.TimeWindow{
		Start: format(first, startOfDay),
		End:   format(last, endOfDay),
	}
	verbose("%v: token %v: window %v - %v", filename, token, tw.Start, tw.End)
	return tw, nil
}

// format converts yyyymmdd to "yyyy-mm-dd hh:mm:ss".  The digits are
// taken as they are; no calendar validation is done.
func format(yyyymmdd, clock string) string {
	return fmt.Sprintf("%s-%s-%s %s", yyyymmdd[0:4], yyyymmdd[4:6], yyyymmdd[6:8], clock)
}
