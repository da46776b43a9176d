package dispatch //nolint:testpackage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-lab/hievup/api"
	"github.com/m-lab/hievup/internal/config"
	"github.com/m-lab/hievup/internal/rules"
	"github.com/m-lab/hievup/internal/runlog"
	"github.com/m-lab/hievup/internal/testhelper"
)

var testMatchers = []config.Matcher{
	{Pattern: `Flux_.*\.dat$`, FileType: "RAW", ExperimentID: "70", Description: "flux", Format: "TOA5", ExtractDate: true, DatePosition: 1},
	{Pattern: `Soil_.*\.csv$`, FileType: "PROCESSED", ExperimentID: "71", Description: "soil", Format: "CSV", ExtractDate: true, DatePosition: 1},
	{Pattern: `Weather_`, FileType: "RAW", ExperimentID: "72", Description: "weather", Format: "CSV", ExtractDate: true, DatePosition: 1},
	{Pattern: `Flux_.*_TowerB`, FileType: "RAW", ExperimentID: "73", Description: "tower B", Format: "TOA5"},
}

type testEnv struct {
	dataDir   string
	backupDir string
	uploader  *testhelper.FakeUploader
	log       bytes.Buffer
}

func newTestEnv(t *testing.T, files ...string) *testEnv {
	t.Helper()
	env := &testEnv{
		dataDir:   t.TempDir(),
		backupDir: t.TempDir(),
		uploader:  &testhelper.FakeUploader{},
	}
	if err := testhelper.WriteFiles(env.dataDir, files...); err != nil {
		t.Fatalf("WriteFiles() = %v", err)
	}
	return env
}

func (env *testEnv) run(t *testing.T, skipOnDateError bool) Summary {
	t.Helper()
	return env.runWith(t, testMatchers, skipOnDateError)
}

func (env *testEnv) runWith(t *testing.T, matchers []config.Matcher, skipOnDateError bool) Summary {
	t.Helper()
	rs, err := rules.New(matchers)
	if err != nil {
		t.Fatalf("rules.New() = %v", err)
	}
	d, err := New(Config{WatchDir: env.dataDir, SkipOnDateError: skipOnDateError}, rs, env.uploader, &testhelper.DirStore{Dir: env.backupDir}, nil)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	rl := runlog.New(&env.log, nil)
	s, err := d.Run(context.Background(), rl)
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if err := rl.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	return s
}

func exists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("os.Stat(%v) = %v", path, err)
	}
	return err == nil
}

func TestVerbose(t *testing.T) { //nolint:paralleltest
	Verbose(func(fmt string, args ...interface{}) {})
}

func TestNew(t *testing.T) { //nolint:paralleltest
	rs, err := rules.New(testMatchers)
	if err != nil {
		t.Fatalf("rules.New() = %v", err)
	}
	uploader := &testhelper.FakeUploader{}
	store := &testhelper.DirStore{Dir: "/backups"}
	tests := []struct {
		name     string
		conf     Config
		rs       *rules.Set
		uploader Uploader
		wantErr  error
	}{
		{"valid", Config{WatchDir: "/data"}, rs, uploader, nil},
		{"no watch dir", Config{}, rs, uploader, ErrConfig},
		{"nil rules", Config{WatchDir: "/data"}, nil, uploader, ErrConfig},
		{"nil uploader", Config{WatchDir: "/data"}, rs, nil, ErrConfig},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d %s%s", testhelper.ANSIPurple, i, test.name, testhelper.ANSIEnd)
		if _, err := New(test.conf, test.rs, test.uploader, store, nil); !errors.Is(err, test.wantErr) {
			t.Fatalf("New() = %v, want %v", err, test.wantErr)
		}
	}
}

func TestPairs(t *testing.T) { //nolint:paralleltest
	rs, err := rules.New(testMatchers)
	if err != nil {
		t.Fatalf("rules.New() = %v", err)
	}
	files := []FileRecord{
		{Name: "Flux_20160101_TowerB.dat"},
		{Name: "README.txt"},
		{Name: "Soil_20160101-20160107_Plot3.csv"},
	}
	pairs := Pairs(files, rs)
	want := []struct {
		file  string
		index int
	}{
		{"Flux_20160101_TowerB.dat", 0},
		{"Flux_20160101_TowerB.dat", 3},
		{"Soil_20160101-20160107_Plot3.csv", 1},
	}
	if len(pairs) != len(want) {
		t.Fatalf("Pairs() returned %d pairs, want %d", len(pairs), len(want))
	}
	for i := range want {
		if pairs[i].File.Name != want[i].file || pairs[i].Rule.Index != want[i].index {
			t.Fatalf("Pairs()[%d] = %v/%d, want %v/%d", i, pairs[i].File.Name, pairs[i].Rule.Index, want[i].file, want[i].index)
		}
	}
}

func TestRunScenarios(t *testing.T) { //nolint:paralleltest,funlen
	tests := []struct {
		name          string
		file          string
		skipOnDateErr bool
		wantPayload   *api.UploadPayload
		wantUploads   int
		wantMoved     bool
		wantLog       []string
		wantRemaining int
	}{
		{
			name: "single date",
			file: "Flux_20160101_TowerA.dat",
			wantPayload: &api.UploadPayload{
				Type: "RAW", ExperimentID: "70", Description: "flux", Format: "TOA5",
				StartTime: "2016-01-01 00:00:00", EndTime: "2016-01-01 11:59:59",
			},
			wantUploads: 1,
			wantMoved:   true,
			wantLog: []string{
				" Match found - Flux_20160101_TowerA.dat \n",
				" File successfully uploaded to HIEv \n",
				" File moved from Data folder to Backup folder \n",
				" Number of files remaining in the Data directory - 0 \n",
			},
		},
		{
			name: "date range",
			file: "Soil_20160101-20160107_Plot3.csv",
			wantPayload: &api.UploadPayload{
				Type: "PROCESSED", ExperimentID: "71", Description: "soil", Format: "CSV",
				StartTime: "2016-01-01 00:00:00", EndTime: "2016-01-07 11:59:59",
			},
			wantUploads: 1,
			wantMoved:   true,
		},
		{
			name: "malformed date uploads with empty times",
			file: "Weather_2016-01-01.csv",
			wantPayload: &api.UploadPayload{
				Type: "RAW", ExperimentID: "72", Description: "weather", Format: "CSV",
			},
			wantUploads: 1,
			wantMoved:   true,
			wantLog:     []string{" ERROR - Not a valid date or date range in Weather_2016-01-01.csv"},
		},
		{
			name:          "malformed date skipped",
			file:          "Weather_2016-01-01.csv",
			skipOnDateErr: true,
			wantUploads:   0,
			wantMoved:     false,
			wantLog:       []string{" File not uploaded - Weather_2016-01-01.csv"},
			wantRemaining: 1,
		},
		{
			name:        "upload fails",
			file:        "Flux_20160101_failing.dat",
			wantUploads: 1,
			wantMoved:   false,
			wantLog: []string{
				" ERROR - There was a problem uploading the file to HIEv",
				" Number of files remaining in the Data directory - 1 \n",
			},
			wantRemaining: 1,
		},
		{
			name:        "move fails",
			file:        "Flux_20160101_nomove.dat",
			wantUploads: 1,
			wantMoved:   false,
			wantLog: []string{
				" File successfully uploaded to HIEv \n",
				" ERROR - There was a problem moving the file to the Backup folder",
			},
			wantRemaining: 1,
		},
		{
			name:          "no match",
			file:          "README.txt",
			wantUploads:   0,
			wantMoved:     false,
			wantRemaining: 1,
		},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d %s%s", testhelper.ANSIPurple, i, test.name, testhelper.ANSIEnd)
		env := newTestEnv(t, test.file)
		s := env.run(t, test.skipOnDateErr)
		if got := env.uploader.Count(test.file); got != test.wantUploads {
			t.Fatalf("uploads = %d, want %d", got, test.wantUploads)
		}
		if test.wantPayload != nil && env.uploader.Uploads[0].Payload != *test.wantPayload {
			t.Fatalf("payload = %+v, want %+v", env.uploader.Uploads[0].Payload, *test.wantPayload)
		}
		if test.wantUploads > 0 && env.uploader.Uploads[0].Contents != test.file {
			t.Fatalf("contents = %q, want %q", env.uploader.Uploads[0].Contents, test.file)
		}
		if got := exists(t, filepath.Join(env.backupDir, test.file)); got != test.wantMoved {
			t.Fatalf("file in backup dir = %v, want %v", got, test.wantMoved)
		}
		if got := exists(t, filepath.Join(env.dataDir, test.file)); got == test.wantMoved {
			t.Fatalf("file in data dir = %v, want %v", got, !test.wantMoved)
		}
		if s.Remaining != test.wantRemaining {
			t.Fatalf("Remaining = %d, want %d", s.Remaining, test.wantRemaining)
		}
		for _, want := range test.wantLog {
			if !strings.Contains(env.log.String(), want) {
				t.Fatalf("log does not contain %q:\n%s", want, env.log.String())
			}
		}
	}
}

// A file matching M rules is uploaded M times, each with the metadata of
// its rule, and then moved once.
func TestRunAllMatchingRulesFire(t *testing.T) { //nolint:paralleltest
	env := newTestEnv(t, "Flux_20160101_TowerB.dat", "Soil_20160101-20160107_Plot3.csv", "notes.txt")
	s := env.run(t, false)

	if got := env.uploader.Count("Flux_20160101_TowerB.dat"); got != 2 {
		t.Fatalf("uploads of Flux_20160101_TowerB.dat = %d, want 2", got)
	}
	if got := env.uploader.Count("Soil_20160101-20160107_Plot3.csv"); got != 1 {
		t.Fatalf("uploads of Soil_20160101-20160107_Plot3.csv = %d, want 1", got)
	}
	towerB := []api.UploadPayload{}
	for _, u := range env.uploader.Uploads {
		if u.Filename == "Flux_20160101_TowerB.dat" {
			towerB = append(towerB, u.Payload)
		}
	}
	if towerB[0].ExperimentID != "70" || towerB[0].StartTime != "2016-01-01 00:00:00" {
		t.Fatalf("first payload = %+v", towerB[0])
	}
	// The second rule does not extract dates and must not reuse the
	// window computed for the first.
	if towerB[1].ExperimentID != "73" || !(api.TimeWindow{Start: towerB[1].StartTime, End: towerB[1].EndTime}).IsZero() {
		t.Fatalf("second payload = %+v", towerB[1])
	}

	want := Summary{Files: 3, Matches: 3, Uploaded: 3, Moved: 2, Remaining: 1}
	if s != want {
		t.Fatalf("Run() = %+v, want %+v", s, want)
	}
	if n := strings.Count(env.log.String(), "Match found - Flux_20160101_TowerB.dat"); n != 2 {
		t.Fatalf("log has %d matches for Flux_20160101_TowerB.dat, want 2", n)
	}
	if !exists(t, filepath.Join(env.dataDir, "notes.txt")) {
		t.Fatalf("notes.txt should remain in the data directory")
	}
}

// A failed extraction must never pick up the window of an earlier file.
func TestRunNoStaleWindow(t *testing.T) { //nolint:paralleltest
	env := newTestEnv(t, "Weather_20160101_A.csv", "Weather_bad_B.csv")
	s := env.run(t, false)
	if s.DateFailures != 1 {
		t.Fatalf("DateFailures = %d, want 1", s.DateFailures)
	}
	for _, u := range env.uploader.Uploads {
		if u.Filename == "Weather_bad_B.csv" && (u.Payload.StartTime != "" || u.Payload.EndTime != "") {
			t.Fatalf("Weather_bad_B.csv payload = %+v, want empty times", u.Payload)
		}
	}
}

func TestRunSkipsDirectories(t *testing.T) { //nolint:paralleltest
	env := newTestEnv(t)
	if err := os.Mkdir(filepath.Join(env.dataDir, "Flux_20160101_dir.dat"), 0o755); err != nil {
		t.Fatalf("os.Mkdir() = %v", err)
	}
	s := env.run(t, false)
	if s.Files != 0 || s.Matches != 0 || s.Remaining != 0 || len(env.uploader.Uploads) != 0 {
		t.Fatalf("Run() = %+v, uploads %d, want nothing", s, len(env.uploader.Uploads))
	}
}

func TestRunListFail(t *testing.T) { //nolint:paralleltest
	rs, err := rules.New(testMatchers)
	if err != nil {
		t.Fatalf("rules.New() = %v", err)
	}
	d, err := New(Config{WatchDir: filepath.Join(t.TempDir(), "missing")}, rs, &testhelper.FakeUploader{}, &testhelper.DirStore{}, nil)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	var buf bytes.Buffer
	if _, err := d.Run(context.Background(), runlog.New(&buf, nil)); !errors.Is(err, ErrListDir) {
		t.Fatalf("Run() = %v, want %v", err, ErrListDir)
	}
}

func TestRunCanceled(t *testing.T) { //nolint:paralleltest
	env := newTestEnv(t, "Flux_20160101_TowerA.dat")
	rs, err := rules.New(testMatchers)
	if err != nil {
		t.Fatalf("rules.New() = %v", err)
	}
	d, err := New(Config{WatchDir: env.dataDir}, rs, env.uploader, &testhelper.DirStore{Dir: env.backupDir}, nil)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := d.Run(ctx, runlog.New(&env.log, nil))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want %v", err, context.Canceled)
	}
	if s.Remaining != 1 || len(env.uploader.Uploads) != 0 {
		t.Fatalf("Run() = %+v, uploads %d", s, len(env.uploader.Uploads))
	}
}

// A file whose upload succeeds for one rule and fails for another is
// still moved, and only once.
func TestRunMixedResults(t *testing.T) { //nolint:paralleltest
	matchers := []config.Matcher{
		{Pattern: `Flux_`, FileType: "RAW", ExperimentID: "70", Description: "flux", Format: "TOA5"},
		{Pattern: `Flux_`, FileType: "RAW", ExperimentID: "fail-71", Description: "rejected", Format: "TOA5"},
	}
	const file = "Flux_20160101_TowerA.dat"
	env := newTestEnv(t, file)
	s := env.runWith(t, matchers, false)

	if got := env.uploader.Count(file); got != 2 {
		t.Fatalf("uploads of %v = %d, want 2", file, got)
	}
	want := Summary{Files: 1, Matches: 2, Uploaded: 1, UploadFailed: 1, Moved: 1}
	if s != want {
		t.Fatalf("Run() = %+v, want %+v", s, want)
	}
	if n := strings.Count(env.log.String(), " ERROR - There was a problem uploading the file to HIEv"); n != 1 {
		t.Fatalf("log has %d upload errors, want 1:\n%s", n, env.log.String())
	}
	if n := strings.Count(env.log.String(), " File moved from Data folder to Backup folder \n"); n != 1 {
		t.Fatalf("log has %d moves, want 1:\n%s", n, env.log.String())
	}
	entries, err := os.ReadDir(env.backupDir)
	if err != nil {
		t.Fatalf("os.ReadDir() = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != file {
		t.Fatalf("backup dir = %v, want [%v]", entries, file)
	}
	if exists(t, filepath.Join(env.dataDir, file)) {
		t.Fatalf("%v should have left the data directory", file)
	}
}
