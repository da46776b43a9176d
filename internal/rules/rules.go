// Package rules implements the ordered set of rules that decide which
// data files are uploaded and with what metadata.
//
// Every rule is evaluated against every filename.  A file that matches
// more than one rule is uploaded once per matching rule, so rules with
// overlapping patterns cause duplicate uploads.
package rules

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/m-lab/hievup/api"
	"github.com/m-lab/hievup/internal/config"
	"github.com/m-lab/hievup/internal/filedate"
)

// Rule is a compiled matcher.
type Rule struct {
	config.Matcher
	Index int // position in the settings file
	re    *regexp.Regexp
}

// Set is an ordered, immutable collection of rules.
type Set struct {
	rules []Rule
}

var (
	ErrPattern = errors.New("invalid pattern")

	// Testing and debugging support.
	verbose = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// New compiles the given matchers in order.  Patterns are anchored at the
// start of the filename but not at its end.
func New(matchers []config.Matcher) (*Set, error) {
	s := &Set{rules: make([]Rule, 0, len(matchers))}
	for i, m := range matchers {
		re, err := regexp.Compile(`^(?:` + m.Pattern + `)`)
		if err != nil {
			return nil, fmt.Errorf("%w: matchers[%d]: %v: %w", config.ErrConfig, i, ErrPattern, err)
		}
		s.rules = append(s.rules, Rule{Matcher: m, Index: i, re: re})
	}
	return s, nil
}

// Len returns the number of rules in the set.
func (s *Set) Len() int {
	return len(s.rules)
}

// Rules returns a copy of the rules in evaluation order.
func (s *Set) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// Matching returns, in evaluation order, every rule whose pattern matches
// filename.
func (s *Set) Matching(filename string) []Rule {
	var matched []Rule
	for _, r := range s.rules {
		if r.Match(filename) {
			matched = append(matched, r)
		}
	}
	verbose("%v matched %d of %d rules", filename, len(matched), len(s.rules))
	return matched
}

// Match reports whether the rule's pattern matches filename.
func (r Rule) Match(filename string) bool {
	return r.re.MatchString(filename)
}

// Payload builds the upload payload of filename for this rule.  If the
// rule extracts dates and extraction fails, the payload's start and end
// times are left empty and the extraction error is returned along with
// the payload.
func (r Rule) Payload(filename string) (api.UploadPayload, error) {
	var (
		tw  api.TimeWindow
		err error
	)
	if r.ExtractDate {
		tw, err = filedate.Extract(filename, r.DatePosition)
	}
	return api.UploadPayload{
		Type:         r.FileType,
		ExperimentID: r.ExperimentID,
		StartTime:    tw.Start,
		EndTime:      tw.End,
		Description:  r.Description,
		Format:       r.Format,
	}, err
}
