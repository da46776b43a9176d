// Package main implements hievup.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/robfig/cron/v3"

	"github.com/m-lab/hievup/internal/backup"
	"github.com/m-lab/hievup/internal/config"
	"github.com/m-lab/hievup/internal/dispatch"
	"github.com/m-lab/hievup/internal/filedate"
	"github.com/m-lab/hievup/internal/hiev"
	"github.com/m-lab/hievup/internal/rules"
	"github.com/m-lab/hievup/internal/testhelper"
	"github.com/m-lab/hievup/internal/watchdir"
)

var (
	// Flags related to local files.  Empty values are resolved
	// relative to the directory of the executable.
	watchDir     string
	backupDir    string
	settingsFile string
	logFile      string

	// Flags related to HIEv.
	endpoint           string
	apiToken           flagx.StringFile
	insecureSkipVerify bool
	uploadTimeout      time.Duration
	skipOnDateError    bool

	// Flags related to remote backup stores.
	gcsBucket   string
	gcsPrefix   string
	s3Bucket    string
	s3Prefix    string
	s3Endpoint  string
	s3Region    string
	s3AccessKey flagx.StringFile
	s3SecretKey flagx.StringFile
	s3UseSSL    bool

	// Flags related to program's execution.
	watch           bool
	schedule        string
	metricsTextfile string
	jsonLog         string
	verbose         bool
	testInterval    time.Duration

	// Errors related to command line parsing and validation.
	errExtraArgs   = errors.New("extra arguments on the command line")
	errTwoStores   = errors.New("must specify at most one of backup-gcs-bucket and backup-s3-bucket")
	errNoS3Host    = errors.New("must specify backup-s3-endpoint with backup-s3-bucket")
	errSchedule    = errors.New("invalid schedule")
	errExecutable  = errors.New("failed to find executable directory")
	errInterval    = errors.New("test-interval requires watch")
	errNegTimeout  = errors.New("upload-timeout must not be negative")
	errEmptyTarget = errors.New("must not be empty")
)

const (
	defaultWatchDir     = "Data"
	defaultBackupDir    = "Backups"
	defaultSettingsFile = "file_settings.yaml"
	defaultLogFile      = "log.txt"
)

func initFlags() {
	// Flags related to local files.
	flag.StringVar(&watchDir, "watch-dir", "", "directory holding data files to upload (default <executable-dir>/"+defaultWatchDir+")")
	flag.StringVar(&backupDir, "backup-dir", "", "directory uploaded files are moved to (default <executable-dir>/"+defaultBackupDir+")")
	flag.StringVar(&settingsFile, "settings", "", "YAML settings file with the API token and matchers (default <executable-dir>/"+defaultSettingsFile+")")
	flag.StringVar(&logFile, "log-file", "", "run log file (default <executable-dir>/"+defaultLogFile+")")

	// Flags related to HIEv.
	flag.StringVar(&endpoint, "endpoint", hiev.DefaultEndpoint, "HIEv file creation API")
	apiToken = flagx.StringFile{}
	flag.Var(&apiToken, "api-token", "API token, specified directly or via @file; overrides api_token in the settings file")
	flag.BoolVar(&insecureSkipVerify, "insecure-skip-verify", false, "do not verify the TLS certificate of the endpoint")
	flag.DurationVar(&uploadTimeout, "upload-timeout", 0, "maximum duration of a single upload (0 means no limit)")
	flag.BoolVar(&skipOnDateError, "skip-on-date-error", false, "do not upload files whose date token cannot be parsed")

	// Flags related to remote backup stores.
	flag.StringVar(&gcsBucket, "backup-gcs-bucket", "", "back up uploaded files to this GCS bucket instead of backup-dir")
	flag.StringVar(&gcsPrefix, "backup-gcs-prefix", "hievup", "object prefix in the GCS bucket")
	flag.StringVar(&s3Bucket, "backup-s3-bucket", "", "back up uploaded files to this S3 bucket instead of backup-dir")
	flag.StringVar(&s3Prefix, "backup-s3-prefix", "hievup", "object prefix in the S3 bucket")
	flag.StringVar(&s3Endpoint, "backup-s3-endpoint", "", "S3 endpoint as host[:port]")
	flag.StringVar(&s3Region, "backup-s3-region", "", "S3 region")
	s3AccessKey = flagx.StringFile{}
	s3SecretKey = flagx.StringFile{}
	flag.Var(&s3AccessKey, "backup-s3-access-key", "S3 access key, specified directly or via @file")
	flag.Var(&s3SecretKey, "backup-s3-secret-key", "S3 secret key, specified directly or via @file")
	flag.BoolVar(&s3UseSSL, "backup-s3-ssl", true, "use TLS to connect to the S3 endpoint")

	// Flags related to program's execution.
	flag.BoolVar(&watch, "watch", false, "keep running and upload files as they appear")
	flag.StringVar(&schedule, "schedule", "@every 30m", "cron schedule of passes in watch mode")
	flag.StringVar(&metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file after each pass")
	flag.StringVar(&jsonLog, "json-log", "", "also write structured JSON logs to this file")
	flag.BoolVar(&verbose, "verbose", false, "enable verbose mode")
	flag.DurationVar(&testInterval, "test-interval", 0, "time interval to stop running (for test purposes only)")
}

// parseAndValidateCLI parses and validates the command line.
func parseAndValidateCLI() error {
	initFlags()
	flag.Parse()
	if flag.NArg() != 0 {
		return errExtraArgs
	}

	// Now, check if some flags were set in the environment instead
	// of on the command line.
	if err := flagx.ArgsFromEnv(flag.CommandLine); err != nil {
		return fmt.Errorf("failed to get args from the environment: %w", err)
	}

	// Enable verbose mode in all packages as soon as the flags are
	// parsed because they may be called for during argument validation.
	if verbose {
		backup.Verbose(testhelper.VLogf)
		config.Verbose(testhelper.VLogf)
		dispatch.Verbose(testhelper.VLogf)
		filedate.Verbose(testhelper.VLogf)
		hiev.Verbose(testhelper.VLogf)
		rules.Verbose(testhelper.VLogf)
		watchdir.Verbose(testhelper.VLogf)
	}

	if err := resolvePaths(); err != nil {
		return err
	}
	if endpoint == "" {
		return fmt.Errorf("endpoint %w", errEmptyTarget)
	}
	if uploadTimeout < 0 {
		return errNegTimeout
	}
	if gcsBucket != "" && s3Bucket != "" {
		return errTwoStores
	}
	if s3Bucket != "" && s3Endpoint == "" {
		return errNoS3Host
	}
	if watch {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("%v: %w: %w", schedule, errSchedule, err)
		}
	} else if testInterval != 0 {
		return errInterval
	}
	return nil
}

// resolvePaths fills in the local paths that were not specified with
// their defaults in the directory of the executable.
func resolvePaths() error {
	if watchDir != "" && backupDir != "" && settingsFile != "" && logFile != "" {
		return nil
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("%w: %w", errExecutable, err)
	}
	exeDir := filepath.Dir(exe)
	for _, p := range []struct {
		value *string
		name  string
	}{
		{&watchDir, defaultWatchDir},
		{&backupDir, defaultBackupDir},
		{&settingsFile, defaultSettingsFile},
		{&logFile, defaultLogFile},
	} {
		if *p.value == "" {
			*p.value = filepath.Join(exeDir, p.name)
		}
	}
	return nil
}
