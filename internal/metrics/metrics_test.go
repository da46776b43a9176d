package metrics //nolint:testpackage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) { //nolint:paralleltest
	m := New()
	m.FilesMatched.Inc()
	m.FilesMatched.Inc()
	m.Upload(true)
	m.Upload(false)
	m.Move(true)
	m.DateFailures.Inc()
	m.FilesRemaining.Set(3)

	if got := testutil.ToFloat64(m.FilesMatched); got != 2 {
		t.Fatalf("FilesMatched = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Uploads.WithLabelValues("error")); got != 1 {
		t.Fatalf("Uploads{status=error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Moves.WithLabelValues("ok")); got != 1 {
		t.Fatalf("Moves{status=ok} = %v, want 1", got)
	}

	path := filepath.Join(t.TempDir(), "hievup.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() = %v, want nil", err)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("os.ReadFile() = %v", err)
	}
	for _, want := range []string{
		`hievup_files_matched_total 2`,
		`hievup_uploads_total{status="ok"} 1`,
		`hievup_files_remaining 3`,
	} {
		if !strings.Contains(string(contents), want) {
			t.Fatalf("textfile does not contain %q:\n%s", want, contents)
		}
	}

	err = m.WriteTextfile(filepath.Join(t.TempDir(), "no-such-dir", "hievup.prom"))
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("WriteTextfile() = %v, want %v", err, ErrWrite)
	}
}
