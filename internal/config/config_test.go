package config //nolint:testpackage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSettings = `
api_token: ${HIEVUP_TEST_TOKEN}
matchers:
  - match: ^Flux_.*\.dat$
    filetype: RAW
    experiment_id: "70"
    description: Flux tower data
    format: TOA5
    extract_date: 'True'
    date_position: 1
  - pattern: ^Soil_.*\.csv$
    file_type: PROCESSED
    experiment_id: "71"
    description: ""
    format: CSV
    extract_date: false
`

func TestVerbose(t *testing.T) { //nolint:paralleltest
	Verbose(func(fmt string, args ...interface{}) {})
}

func TestLoad(t *testing.T) { //nolint:paralleltest
	t.Setenv("HIEVUP_TEST_TOKEN", "secret-token")
	path := filepath.Join(t.TempDir(), "file_settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validSettings), 0o666))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", s.APIToken)
	require.Len(t, s.Matchers, 2)
	assert.Equal(t, Matcher{
		Pattern:      `^Flux_.*\.dat$`,
		FileType:     "RAW",
		ExperimentID: "70",
		Description:  "Flux tower data",
		Format:       "TOA5",
		ExtractDate:  true,
		DatePosition: 1,
	}, s.Matchers[0])
	assert.Equal(t, Matcher{
		Pattern:      `^Soil_.*\.csv$`,
		FileType:     "PROCESSED",
		ExperimentID: "71",
		Description:  "",
		Format:       "CSV",
	}, s.Matchers[1])
}

func TestLoadNoFile(t *testing.T) { //nolint:paralleltest
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.ErrorIs(t, err, ErrConfig)
	require.ErrorIs(t, err, ErrReadFile)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseErrors(t *testing.T) { //nolint:paralleltest
	const matcher = `
    filetype: RAW
    experiment_id: "70"
    description: d
    format: TOA5
`
	tests := []struct {
		name     string
		contents string
		wantErr  error
	}{
		{"malformed yaml", "api_token: [", ErrParse},
		{"no api_token", "matchers: []", ErrMissingKey},
		{"empty api_token", "api_token: ''\nmatchers: []", ErrMissingKey},
		{"no matchers", "api_token: t", ErrMissingKey},
		{"no match", "api_token: t\nmatchers:\n  - extract_date: false" + matcher, ErrMissingKey},
		{"no extract_date", "api_token: t\nmatchers:\n  - match: x" + matcher, ErrMissingKey},
		{"bad extract_date", "api_token: t\nmatchers:\n  - match: x\n    extract_date: maybe" + matcher, ErrBool},
		{"no date_position", "api_token: t\nmatchers:\n  - match: x\n    extract_date: true" + matcher, ErrMissingKey},
		{"negative date_position", "api_token: t\nmatchers:\n  - match: x\n    extract_date: true\n    date_position: -1" + matcher, ErrPosition},
	}
	for i, test := range tests {
		t.Logf(">>> test %02d %s", i, test.name)
		_, err := Parse([]byte(test.contents))
		require.ErrorIs(t, err, ErrConfig, test.name)
		require.ErrorIs(t, err, test.wantErr, test.name)
	}
}

func TestParseEmptyMatchers(t *testing.T) { //nolint:paralleltest
	s, err := Parse([]byte("api_token: t\nmatchers: []"))
	require.NoError(t, err)
	assert.Empty(t, s.Matchers)
}
