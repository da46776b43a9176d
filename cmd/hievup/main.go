// Package main implements hievup.
//
// hievup uploads the data files that appear in a directory to the HIEv
// data repository.  Each file is matched against the rules of the
// settings file and uploaded once per matching rule.  Files that were
// uploaded are moved to a backup store and every run is recorded in a
// plain text run log.
//
// By default hievup makes a single pass and exits, which suits running it
// from cron or a task scheduler.  With -watch it keeps running and makes
// a pass whenever a file is written to the directory and on a schedule.
//
// We use log.Panicf() instead of log.Fatalf() because log.Fatalf()
// calls os.Exit() which will not run deferred calls and also makes
// testing harder (for testing, we can recover from log.Panicf()).
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	slogmulti "github.com/samber/slog-multi"

	"github.com/m-lab/hievup/internal/backup"
	"github.com/m-lab/hievup/internal/config"
	"github.com/m-lab/hievup/internal/dispatch"
	"github.com/m-lab/hievup/internal/hiev"
	"github.com/m-lab/hievup/internal/metrics"
	"github.com/m-lab/hievup/internal/rules"
	"github.com/m-lab/hievup/internal/runlog"
	"github.com/m-lab/hievup/internal/watchdir"
)

// passer runs passes over the watched directory.
type passer struct {
	dispatcher *dispatch.Dispatcher
	uploader   *hiev.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

var (
	// Testing and debugging support.
	fatal = log.Panic
)

func main() {
	log.SetFlags(log.Ltime)
	if err := parseAndValidateCLI(); err != nil {
		fatal(err)
	}
	logger, closeLogger, err := newLogger()
	if err != nil {
		fatal(err)
	}
	defer closeLogger()

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	p, err := newPasser(mainCtx, logger)
	if err != nil {
		logConfigError(logger, err)
		fatal(err)
	}
	if !watch {
		if err := p.run(mainCtx, "single pass"); err != nil {
			fatal(err)
		}
		return
	}
	if err := watchAndUpload(mainCtx, p); err != nil {
		fatal(err)
	}
}

// newLogger returns the structured logger that mirrors the run log.
// Records go to stderr and, if -json-log is set, to a JSON file.
func newLogger() (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	if jsonLog == "" {
		return slog.New(stderrHandler), func() {}, nil
	}
	file, err := os.OpenFile(jsonLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open JSON log: %w", err)
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler)), func() { file.Close() }, nil
}

// newPasser loads the settings and builds the uploader, the backup store,
// and the dispatcher.  Any error here is a configuration error and no
// file is processed.
func newPasser(ctx context.Context, logger *slog.Logger) (*passer, error) {
	settings, err := config.Load(settingsFile)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	rs, err := rules.New(settings.Matchers)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	token := settings.APIToken
	if apiToken.Value != "" {
		token = apiToken.Value
	}
	uploader, err := hiev.New(hiev.Config{
		Endpoint:           endpoint,
		Token:              token,
		InsecureSkipVerify: insecureSkipVerify,
		Timeout:            uploadTimeout,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	store, err := newStore(ctx)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	d, err := dispatch.New(dispatch.Config{WatchDir: watchDir, SkipOnDateError: skipOnDateError}, rs, uploader, store, m)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	logger.Info("configured", "watch_dir", watchDir, "store", store.Name(), "rules", rs.Len(), "endpoint", uploader.Endpoint())
	return &passer{dispatcher: d, uploader: uploader, metrics: m, logger: logger}, nil
}

// logConfigError records a configuration error as a run of its own in
// the run log, where operators of unattended runs look for it.
func logConfigError(logger *slog.Logger, err error) {
	rl, openErr := runlog.Open(logFile, logger)
	if openErr != nil {
		logger.Error("failed to record configuration error", "error", openErr)
		return
	}
	rl.Error("invalid configuration", err)
	if closeErr := rl.Close(); closeErr != nil {
		logger.Error("failed to record configuration error", "error", closeErr)
	}
}

// newStore returns the backup store selected on the command line.
func newStore(ctx context.Context) (backup.Store, error) {
	switch {
	case gcsBucket != "":
		return backup.NewGCS(ctx, gcsBucket, gcsPrefix) //nolint:wrapcheck
	case s3Bucket != "":
		return backup.NewS3(backup.S3Config{ //nolint:wrapcheck
			Endpoint:  s3Endpoint,
			Region:    s3Region,
			Bucket:    s3Bucket,
			Prefix:    s3Prefix,
			AccessKey: s3AccessKey.Value,
			SecretKey: s3SecretKey.Value,
			UseSSL:    s3UseSSL,
		})
	default:
		return backup.NewLocal(backupDir) //nolint:wrapcheck
	}
}

// run makes one pass over the watched directory as a new run in the
// run log.
func (p *passer) run(ctx context.Context, reason string) error {
	rl, err := runlog.Open(logFile, p.logger)
	if err != nil {
		return err //nolint:wrapcheck
	}
	p.logger.Debug("starting pass", "reason", reason, "run_id", rl.RunID())
	if p.uploader.Insecure() {
		rl.InsecureTransport(p.uploader.Endpoint())
	}
	_, runErr := p.dispatcher.Run(ctx, rl)
	if runErr != nil {
		rl.Error("pass did not complete", runErr)
	}
	if err := rl.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if metricsTextfile != "" {
		if err := p.metrics.WriteTextfile(metricsTextfile); err != nil {
			p.logger.Warn("failed to write metrics", "file", metricsTextfile, "error", err)
		}
	}
	return runErr //nolint:wrapcheck
}

// watchAndUpload makes a pass at startup, whenever a new file appears in
// the watched directory, and on the configured schedule.  Passes are
// serialized and events that arrive during a pass are folded into the
// next one.
func watchAndUpload(ctx context.Context, p *passer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if testInterval > 0 {
		go stopAfter(ctx, cancel, testInterval)
	}

	wdClient, err := watchdir.New(watchDir, nil)
	if err != nil {
		return fmt.Errorf("failed to instantiate watcher: %w", err)
	}
	wdErr := make(chan error, 1)
	go func() {
		defer cancel()
		wdErr <- wdClient.WatchAndNotify(ctx)
	}()

	scheduled := make(chan struct{}, 1)
	cronRunner := cron.New()
	if _, err := cronRunner.AddFunc(schedule, func() {
		select {
		case scheduled <- struct{}{}:
		default:
		}
	}); err != nil {
		return fmt.Errorf("%w: %w", errSchedule, err)
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	p.runAndLog(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("watch mode stopped", "reason", context.Cause(ctx))
			select {
			case err := <-wdErr:
				return err //nolint:wrapcheck
			default:
				return nil
			}
		case we := <-wdClient.WatchChan():
			drainEvents(wdClient.WatchChan())
			p.runAndLog(ctx, "new file "+we.Name)
		case <-scheduled:
			p.runAndLog(ctx, "schedule")
		}
	}
}

// stopAfter calls cancel once d has elapsed, unless ctx ends first.
func stopAfter(ctx context.Context, cancel context.CancelFunc, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		cancel()
	case <-ctx.Done():
	}
}

// runAndLog makes a pass and logs its error, if any.  In watch mode a
// failed pass does not stop the program.
func (p *passer) runAndLog(ctx context.Context, reason string) {
	if err := p.run(ctx, reason); err != nil {
		p.logger.Error("pass failed", "reason", reason, "error", err)
	}
}

// drainEvents discards the events that are already queued because the
// next pass will pick up their files anyway.
func drainEvents(ch <-chan watchdir.WatchEvent) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
