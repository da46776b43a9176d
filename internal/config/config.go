// Package config loads the settings file that holds the HIEv API token
// and the rules used to match data files.
//
// The settings file is YAML:
//
//	api_token: ${HIEV_API_TOKEN}
//	matchers:
//	  - match: ^Flux_.*\.dat$
//	    filetype: RAW
//	    experiment_id: "70"
//	    description: Flux tower data
//	    format: TOA5
//	    extract_date: True
//	    date_position: 1
//
// Environment variable references are expanded before parsing.  Keys
// pattern and file_type are accepted as aliases of match and filetype.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings is the contents of the settings file.
type Settings struct {
	APIToken string
	Matchers []Matcher
}

// Matcher binds a filename pattern to upload metadata.
type Matcher struct {
	Pattern      string // regular expression matched from the start of the filename
	FileType     string
	ExperimentID string
	Description  string
	Format       string
	ExtractDate  bool
	DatePosition int // zero-based position of the date token; used only if ExtractDate
}

// rawSettings mirrors the settings file.  Pointers distinguish missing
// keys from empty values.
type rawSettings struct {
	APIToken *string      `yaml:"api_token"`
	Matchers []rawMatcher `yaml:"matchers"`
}

type rawMatcher struct {
	Match        *string   `yaml:"match"`
	Pattern      *string   `yaml:"pattern"`
	FileType     *string   `yaml:"filetype"`
	FileTypeAlt  *string   `yaml:"file_type"`
	ExperimentID *string   `yaml:"experiment_id"`
	Description  *string   `yaml:"description"`
	Format       *string   `yaml:"format"`
	ExtractDate  *flexBool `yaml:"extract_date"`
	DatePosition *int      `yaml:"date_position"`
}

// flexBool accepts YAML booleans as well as the strings "True" and
// "False" used by older settings files.
type flexBool bool

var (
	ErrConfig     = errors.New("invalid configuration")
	ErrReadFile   = errors.New("failed to read settings file")
	ErrParse      = errors.New("failed to parse settings file")
	ErrMissingKey = errors.New("missing required key")
	ErrBool       = errors.New("is not a boolean")
	ErrPosition   = errors.New("date_position must not be negative")

	// Testing and debugging support.
	verbose = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *flexBool) UnmarshalYAML(node *yaml.Node) error {
	var v bool
	if err := node.Decode(&v); err == nil {
		*b = flexBool(v)
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(node.Value)) {
	case "true":
		*b = true
	case "false":
		*b = false
	default:
		return fmt.Errorf("line %d: %q %w", node.Line, node.Value, ErrBool)
	}
	return nil
}

// Load reads, expands and validates the settings file.  All returned
// errors wrap ErrConfig.
func Load(path string) (*Settings, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrConfig, ErrReadFile, err)
	}
	verbose("read %v bytes from %v", len(contents), path)
	return Parse(contents)
}

// Parse expands environment variable references in contents and
// decodes the result.
func Parse(contents []byte) (*Settings, error) {
	var raw rawSettings
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(contents))), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrConfig, ErrParse, err)
	}
	return raw.settings()
}

func (raw *rawSettings) settings() (*Settings, error) {
	if raw.APIToken == nil || *raw.APIToken == "" {
		return nil, fmt.Errorf("%w: api_token: %w", ErrConfig, ErrMissingKey)
	}
	if raw.Matchers == nil {
		return nil, fmt.Errorf("%w: matchers: %w", ErrConfig, ErrMissingKey)
	}
	s := &Settings{
		APIToken: *raw.APIToken,
		Matchers: make([]Matcher, 0, len(raw.Matchers)),
	}
	for i := range raw.Matchers {
		m, err := raw.Matchers[i].matcher()
		if err != nil {
			return nil, fmt.Errorf("%w: matchers[%d]: %w", ErrConfig, i, err)
		}
		s.Matchers = append(s.Matchers, m)
	}
	verbose("loaded %d matchers", len(s.Matchers))
	return s, nil
}

func (rm *rawMatcher) matcher() (Matcher, error) {
	pattern := firstOf(rm.Match, rm.Pattern)
	fileType := firstOf(rm.FileType, rm.FileTypeAlt)
	required := []struct {
		key   string
		value *string
	}{
		{"match", pattern},
		{"filetype", fileType},
		{"experiment_id", rm.ExperimentID},
		{"description", rm.Description},
		{"format", rm.Format},
	}
	for _, r := range required {
		if r.value == nil {
			return Matcher{}, fmt.Errorf("%v: %w", r.key, ErrMissingKey)
		}
	}
	if rm.ExtractDate == nil {
		return Matcher{}, fmt.Errorf("extract_date: %w", ErrMissingKey)
	}
	m := Matcher{
		Pattern:      *pattern,
		FileType:     *fileType,
		ExperimentID: *rm.ExperimentID,
		Description:  *rm.Description,
		Format:       *rm.Format,
		ExtractDate:  bool(*rm.ExtractDate),
	}
	if m.ExtractDate {
		if rm.DatePosition == nil {
			return Matcher{}, fmt.Errorf("date_position: %w", ErrMissingKey)
		}
		if *rm.DatePosition < 0 {
			return Matcher{}, fmt.Errorf("%d: %w", *rm.DatePosition, ErrPosition)
		}
		m.DatePosition = *rm.DatePosition
	}
	return m, nil
}

func firstOf(values ...*string) *string {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
