// Package orchestrator sequences one pipeline run: fetch inputs, build the
// graph, start the query server, publish artifacts. Any failure funnels
// through a single path that flushes diagnostics before surfacing.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/transitwise/graph-orchestrator/internal/engine"
	"github.com/transitwise/graph-orchestrator/internal/logtail"
	"github.com/transitwise/graph-orchestrator/internal/manifest"
	"github.com/transitwise/graph-orchestrator/internal/notify"
	"github.com/transitwise/graph-orchestrator/internal/progress"
	"github.com/transitwise/graph-orchestrator/internal/runlog"
	"github.com/transitwise/graph-orchestrator/internal/supervise"
	"github.com/transitwise/graph-orchestrator/internal/transport"
)

// Artifact suffixes under the upload prefix. Fixed strings: the deployment
// tooling on the other end looks for exactly these names.
const (
	graphUploadName     = "graph.obj"
	buildLogUploadName  = "build.log"
	serverLogUploadName = "server.log"
	runnerLogUploadName = "orchestrator.log"
	reportUploadName    = "graph-build-report.zip"
)

// reportDirName is where the engine writes its build report inside the base
// directory.
const reportDirName = "report"

// statusMessageMaxLen bounds log lines surfaced as status messages.
const statusMessageMaxLen = 120

// downloadTask pairs a source URI with its destination. Created at setup,
// consumed once by the download fan-out.
type downloadTask struct {
	uri  string
	dest string
}

// Orchestrator runs one validated manifest to completion.
type Orchestrator struct {
	man    *manifest.Manifest
	tr     *transport.Transport
	log    *runlog.Logger
	ledger *progress.Ledger

	notifier notify.Notifier
	onChange progress.ChangeFunc

	logLevel     slog.Level
	pollInterval time.Duration
	settleDelay  time.Duration
}

// New creates an orchestrator for the given manifest. The manifest is
// validated inside Run so all violations surface through the fail funnel.
func New(man *manifest.Manifest) *Orchestrator {
	return &Orchestrator{
		man:          man,
		notifier:     notify.Noop{},
		logLevel:     slog.LevelInfo,
		pollInterval: supervise.DefaultPollInterval,
		settleDelay:  time.Second,
	}
}

// SetNotifier sets the channel announcing the run outcome.
func (o *Orchestrator) SetNotifier(n notify.Notifier) { o.notifier = n }

// SetLogLevel sets the orchestrator log verbosity.
func (o *Orchestrator) SetLogLevel(level slog.Level) { o.logLevel = level }

// SetTransport overrides the transport. Tests inject one with a stubbed
// object-store CLI.
func (o *Orchestrator) SetTransport(tr *transport.Transport) { o.tr = tr }

// SetPollInterval overrides the supervision tick. Tests shrink it.
func (o *Orchestrator) SetPollInterval(d time.Duration) { o.pollInterval = d }

// SetSettleDelay overrides the fail funnel's diagnostic settle wait.
func (o *Orchestrator) SetSettleDelay(d time.Duration) { o.settleDelay = d }

// OnStatusChange registers an observer of every status mutation (web server,
// TUI). Must be called before Run.
func (o *Orchestrator) OnStatusChange(fn progress.ChangeFunc) { o.onChange = fn }

// Status returns the current status snapshot, or the zero Status before the
// ledger exists.
func (o *Orchestrator) Status() progress.Status {
	if o.ledger == nil {
		return progress.Status{}
	}
	return o.ledger.Snapshot()
}

// Run executes the pipeline. Phases are strictly ordered
// download -> build -> serve, except that post-build uploads deliberately
// overlap server startup. The returned error is the single most specific
// fatal reason; diagnostics are flushed before it surfaces.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.man.Validate(); err != nil {
		return o.failEarly(err.Error())
	}

	if err := o.prepareBaseDir(); err != nil {
		return o.failEarly(fmt.Sprintf("preparing base directory: %v", err))
	}

	log, err := runlog.New(o.man.RunnerLogFile, o.logLevel)
	if err != nil {
		return o.failEarly(err.Error())
	}
	o.log = log
	defer o.log.Close()

	if o.tr == nil {
		o.tr = transport.New(o.log.Logger)
	}

	tasks := o.downloadTasks()
	o.ledger = progress.NewLedger(
		o.man.StatusFile,
		len(tasks),
		progress.Schedule(o.man.BuildGraph, o.man.RunServer),
		o.man.Nonce,
		o.log.Logger,
	)
	if o.onChange != nil {
		o.ledger.OnChange(o.onChange)
	}

	spec, err := engine.Lookup(o.man.Engine.MajorVersion)
	if err != nil {
		return o.fail(ctx, err.Error())
	}

	o.ledger.Advance(fmt.Sprintf("downloading %d files", len(tasks)), o.ledger.Checkpoints().DownloadStart)
	if err := o.downloadAll(ctx, tasks); err != nil {
		return o.fail(ctx, fmt.Sprintf("download failed: %v", err))
	}

	// Post-build uploads and the serve supervisor share this group so
	// server startup overlaps outstanding artifact publication.
	var followups errgroup.Group

	if o.man.BuildGraph {
		if err := o.runBuild(ctx, spec); err != nil {
			return o.fail(ctx, err.Error())
		}
		o.ledger.GraphBuilt()
		o.enqueueBuildUploads(ctx, &followups)
	}

	if o.man.RunServer {
		o.ledger.ServerStarting()
		followups.Go(func() error {
			return o.runServe(ctx, spec)
		})
	}

	if err := followups.Wait(); err != nil {
		return o.fail(ctx, err.Error())
	}

	o.uploadRunnerLog(ctx)
	o.ledger.Completed("run completed")
	o.notifier.Send(notify.Notification{
		Title:   "graph run completed",
		Message: fmt.Sprintf("build=%v serve=%v", o.man.BuildGraph, o.man.RunServer),
		Type:    notify.Success,
		RunID:   o.ledger.Snapshot().Nonce,
	})
	o.log.Info("run completed")
	return nil
}

// prepareBaseDir clears and recreates the working directory. Everything in
// it belongs to the previous run.
func (o *Orchestrator) prepareBaseDir() error {
	if err := os.RemoveAll(o.man.BaseDir); err != nil {
		return err
	}
	if err := os.MkdirAll(o.man.BaseDir, 0755); err != nil {
		return err
	}
	// Status and log files may be configured outside the base directory.
	for _, p := range []string{o.man.StatusFile, o.man.RunnerLogFile, o.man.BuildLogFile, o.man.ServerLogFile} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
	}
	return nil
}

// downloadTasks assembles the full fetch set: the engine jar plus either the
// graph inputs (build) or a pre-built graph (serve without build).
func (o *Orchestrator) downloadTasks() []downloadTask {
	tasks := []downloadTask{{uri: o.man.Engine.JarURI, dest: o.man.JarPath()}}
	if o.man.BuildGraph {
		for _, uri := range o.man.InputURIs {
			tasks = append(tasks, downloadTask{uri: uri, dest: filepath.Join(o.man.BaseDir, filepath.Base(uri))})
		}
	} else {
		tasks = append(tasks, downloadTask{uri: o.man.GraphURI, dest: o.man.GraphPath()})
	}
	return tasks
}

// downloadAll fans the task set out concurrently and awaits all of them,
// failing fast on the first error. Downloads are unordered among themselves.
func (o *Orchestrator) downloadAll(ctx context.Context, tasks []downloadTask) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error {
			if err := o.tr.FetchIfAbsent(ctx, task.uri, task.dest); err != nil {
				return err
			}
			o.ledger.RecordDownload(task.uri)
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) runBuild(ctx context.Context, spec engine.Spec) error {
	o.ledger.BuildStarted()

	phase := supervise.Phase{
		Name:         "graph build",
		Argv:         spec.BuildCommand(o.man.JarPath(), o.man.BaseDir, o.man.Engine.MemoryMB),
		Dir:          o.man.BaseDir,
		LogFile:      o.man.BuildLogFile,
		Timeout:      time.Duration(o.man.BuildTimeoutSeconds) * time.Second,
		PollInterval: o.pollInterval,
		ExitCodeOnly: true,
		OnTick:       o.surfaceLatestLine,
	}
	if o.man.Upload.Logs {
		phase.UploadLogTo = o.uploadURI(buildLogUploadName)
	}

	return supervise.New(phase, o.tr, o.log.Logger).Run(ctx)
}

func (o *Orchestrator) runServe(ctx context.Context, spec engine.Spec) error {
	phase := supervise.Phase{
		Name:         "server",
		Argv:         spec.ServeCommand(o.man.JarPath(), o.man.BaseDir, o.man.Engine.MemoryMB),
		Dir:          o.man.BaseDir,
		LogFile:      o.man.ServerLogFile,
		Timeout:      time.Duration(o.man.ServerTimeoutSeconds) * time.Second,
		PollInterval: o.pollInterval,
		ReadyMarkers: []string{spec.Markers.Listening, spec.Markers.GraphLoaded},
		FailMarkers:  []string{spec.Markers.RegistrationFailure},
		Detach:       true,
		OnTick:       o.surfaceLatestLine,
	}
	if o.man.Upload.Logs {
		phase.UploadLogTo = o.uploadURI(serverLogUploadName)
	}

	if err := supervise.New(phase, o.tr, o.log.Logger).Run(ctx); err != nil {
		return err
	}
	o.ledger.ServerStarted()
	o.uploadPhaseLog(ctx, o.man.ServerLogFile, serverLogUploadName)
	return nil
}

// uploadPhaseLog publishes a phase log after the phase succeeded. Best
// effort; failed phases upload their own log inside the supervisor.
func (o *Orchestrator) uploadPhaseLog(ctx context.Context, path, suffix string) {
	if !o.man.Upload.Logs {
		return
	}
	if !o.tr.PutFile(ctx, path, o.uploadURI(suffix)) {
		o.log.Warn("phase log upload failed", "log", path)
	}
}

// surfaceLatestLine mirrors the engine's most recent log line into the
// status message so pollers see what the engine is doing.
func (o *Orchestrator) surfaceLatestLine(w *logtail.Window) {
	if msg := w.LatestTrimmed(statusMessageMaxLen); msg != "" {
		o.ledger.Advance(msg, -1)
	}
}

// enqueueBuildUploads launches the post-build publications without awaiting
// them: graph artifact (fatal on failure), build log and report archive
// (best effort). They run concurrently with server startup.
func (o *Orchestrator) enqueueBuildUploads(ctx context.Context, g *errgroup.Group) {
	if o.man.Upload.Graph {
		g.Go(func() error {
			if !o.tr.PutFile(ctx, o.man.GraphPath(), o.uploadURI(graphUploadName)) {
				return fmt.Errorf("graph upload to %s failed", o.uploadURI(graphUploadName))
			}
			o.ledger.GraphUploaded()
			return nil
		})
	}
	if o.man.Upload.Logs {
		g.Go(func() error {
			o.uploadPhaseLog(ctx, o.man.BuildLogFile, buildLogUploadName)
			return nil
		})
	}
	if o.man.Upload.Report {
		g.Go(func() error {
			o.uploadBuildReport(ctx)
			return nil
		})
	}
}

// uploadBuildReport zips the engine's build report directory and publishes
// it. Any failure here is a warning, never fatal.
func (o *Orchestrator) uploadBuildReport(ctx context.Context) {
	reportDir := filepath.Join(o.man.BaseDir, reportDirName)
	if _, err := os.Stat(reportDir); err != nil {
		o.log.Warn("no build report directory", "dir", reportDir)
		return
	}

	archive := filepath.Join(o.man.BaseDir, reportUploadName)
	if err := zipDir(reportDir, archive); err != nil {
		o.log.Warn("archiving build report", "error", err)
		return
	}
	if !o.tr.PutFile(ctx, archive, o.uploadURI(reportUploadName)) {
		o.log.Warn("build report upload failed")
	}
}

// uploadRunnerLog publishes the orchestrator's own log. Best effort.
func (o *Orchestrator) uploadRunnerLog(ctx context.Context) {
	if !o.man.Upload.Logs {
		return
	}
	o.log.Sync()
	if !o.tr.PutFile(ctx, o.man.RunnerLogFile, o.uploadURI(runnerLogUploadName)) {
		o.log.Warn("orchestrator log upload failed")
	}
}

func (o *Orchestrator) uploadURI(suffix string) string {
	return strings.TrimSuffix(o.man.Upload.Prefix, "/") + "/" + suffix
}

// fail is the single failure funnel. It freezes the status message, waits
// briefly for concurrent diagnostic writes to settle, publishes the
// orchestrator log and the final status best-effort, then surfaces the
// error. A run never exits silently through here.
func (o *Orchestrator) fail(ctx context.Context, message string) error {
	o.log.Error("run failed", "reason", message)
	o.ledger.Fail(message)

	time.Sleep(o.settleDelay)

	o.uploadRunnerLog(ctx)
	if err := o.ledger.Persist(); err != nil {
		o.log.Warn("persisting final status", "error", err)
	}
	o.notifier.Send(notify.Notification{
		Title:   "graph run failed",
		Message: message,
		Type:    notify.Failure,
		RunID:   o.ledger.Snapshot().Nonce,
	})
	return fmt.Errorf("%s", message)
}

// failEarly handles failures before the ledger and run log exist, writing a
// final status straight to the configured path when possible.
func (o *Orchestrator) failEarly(message string) error {
	ledger := o.ledger
	if ledger == nil {
		logger := runlog.NewDiscard()
		if o.man.StatusFile != "" {
			os.MkdirAll(filepath.Dir(o.man.StatusFile), 0755)
		}
		ledger = progress.NewLedger(o.man.StatusFile, 0, progress.Schedule(o.man.BuildGraph, o.man.RunServer), o.man.Nonce, logger.Logger)
	}
	ledger.Fail(message)
	o.notifier.Send(notify.Notification{
		Title:   "graph run failed",
		Message: message,
		Type:    notify.Failure,
	})
	return fmt.Errorf("%s", message)
}
