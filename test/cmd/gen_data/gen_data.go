// This tool is a part of e2e helper programs and deposits data files
// named like the output of field loggers into the watched directory
// so that hievup has something to upload.  Filenames look like:
//
//	<prefix>_<yyyymmdd>_<site>.<ext>
//	<prefix>_<yyyymmdd>-<yyyymmdd>_<site>.<ext>
//
// and a few of them carry a malformed date on purpose.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

var (
	watchDir = flag.String("watch-dir", "../e2e/Data", "directory in which data files are created")
	nFiles   = flag.Int("files", 20, "number of files to create (0 means forever)")
	nDays    = flag.Int("days", 7, "number of past days file dates are drawn from")
	sleep    = flag.Duration("sleep", 100*time.Millisecond, "sleep time between file creations")
	verbose  = flag.Bool("verbose", false, "enable verbose mode")

	kinds = []struct {
		prefix string
		ext    string
		site   string
	}{
		{"Flux", "dat", "TowerA"},
		{"Flux", "dat", "TowerB"},
		{"Soil", "csv", "Plot3"},
		{"Weather", "csv", "Station1"},
	}
)

func main() {
	flag.Parse()
	if *watchDir == "" {
		*watchDir = os.Getenv("WATCH_DIR")
	}
	if *watchDir == "" {
		fmt.Println("must specify watch-dir") //nolint
		os.Exit(1)
	}
	if err := os.MkdirAll(*watchDir, 0o755); err != nil {
		panic(err)
	}
	rnd := rand.New(rand.NewSource(int64(os.Getpid()))) //nolint:gosec
	for n := 0; *nFiles == 0 || n < *nFiles; n++ {
		createDataFile(rnd, n)
		time.Sleep(*sleep)
		fmt.Printf("%v\r", n) //nolint
	}
}

func createDataFile(rnd *rand.Rand, n int) {
	kind := kinds[rnd.Intn(len(kinds))]
	end := time.Now().AddDate(0, 0, -rnd.Intn(*nDays))
	var date string
	switch rnd.Intn(10) {
	case 0:
		// Malformed on purpose.
		date = end.Format("2006-01-02")
	case 1, 2:
		date = end.AddDate(0, 0, -6).Format("20060102") + "-" + end.Format("20060102")
	default:
		date = end.Format("20060102")
	}
	filename := filepath.Join(*watchDir, fmt.Sprintf("%s_%s_%s%03d.%s", kind.prefix, date, kind.site, n, kind.ext))
	if *verbose {
		fmt.Printf("creating %v\n", filename) //nolint
	}
	// Write to a temporary name and rename so that watchers see
	// a complete file.
	tmp := filepath.Join(filepath.Dir(*watchDir), "."+filepath.Base(filename)+".tmp")
	content := fmt.Sprintf("TIMESTAMP,RECORD,VALUE\n%s 00:00:00,%d,%.2f\n", end.Format("2006-01-02"), n, rnd.Float64()*100)
	if err := os.WriteFile(tmp, []byte(content), 0o666); err != nil {
		panic(err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		panic(err)
	}
}
