// Package progress owns the run's status record: a single mutable document
// describing how far the pipeline has advanced, snapshotted to a JSON file
// after every change so external pollers can follow along.
package progress

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Status is the externally published state of one run. Field names are a
// wire contract with the deployment tooling that polls the status file.
type Status struct {
	Error                bool    `json:"error"`
	Message              string  `json:"message"`
	NumFilesDownloaded   int     `json:"numFilesDownloaded"`
	TotalFilesToDownload int     `json:"totalFilesToDownload"`
	PctProgress          float64 `json:"pctProgress"`
	GraphBuilt           bool    `json:"graphBuilt"`
	GraphUploaded        bool    `json:"graphUploaded"`
	ServerStarted        bool    `json:"serverStarted"`
	Nonce                string  `json:"nonce,omitempty"`
}

// Checkpoints are the fixed percentage values assigned to phase transitions.
// They depend only on which phases are enabled; tests pin the exact numbers.
type Checkpoints struct {
	DownloadStart float64
	DownloadWidth float64
	BuildStart    float64
	BuildDone     float64
	ServeStart    float64
	ServeDone     float64
	GraphUploaded float64
}

// Schedule returns the checkpoint table for the given phase flags. Download
// always starts at 10; its width shrinks as more phases share the run.
func Schedule(build, serve bool) Checkpoints {
	switch {
	case build && serve:
		return Checkpoints{
			DownloadStart: 10, DownloadWidth: 20,
			BuildStart: 30, BuildDone: 70,
			ServeStart: 70, ServeDone: 90,
			GraphUploaded: 80,
		}
	case build:
		return Checkpoints{
			DownloadStart: 10, DownloadWidth: 40,
			BuildStart: 50, BuildDone: 90,
			GraphUploaded: 100,
		}
	default:
		return Checkpoints{
			DownloadStart: 10, DownloadWidth: 30,
			ServeStart: 40, ServeDone: 90,
		}
	}
}

// DownloadPct maps a downloaded/total ratio into the download sub-range.
func (c Checkpoints) DownloadPct(downloaded, total int) float64 {
	if total <= 0 {
		return c.DownloadStart
	}
	return c.DownloadStart + c.DownloadWidth*float64(downloaded)/float64(total)
}

// ChangeFunc observes every committed status mutation. Called outside the
// ledger lock with a snapshot copy.
type ChangeFunc func(Status)

// Ledger is the single writer of the run's Status. All phase supervisors and
// the orchestrator report through it; it serializes mutations with a mutex
// and rewrites the status file on each one.
type Ledger struct {
	mu          sync.Mutex
	status      Status
	checkpoints Checkpoints
	path        string
	log         *slog.Logger
	onChange    ChangeFunc
}

// NewLedger creates a ledger persisting to path. A nonce is generated when
// the manifest did not supply one.
func NewLedger(path string, totalFiles int, checkpoints Checkpoints, nonce string, log *slog.Logger) *Ledger {
	if nonce == "" {
		nonce = uuid.NewString()
	}
	return &Ledger{
		status: Status{
			Message:              "starting",
			TotalFilesToDownload: totalFiles,
			Nonce:                nonce,
		},
		checkpoints: checkpoints,
		path:        path,
		log:         log,
	}
}

// OnChange registers a hook observing committed mutations. Must be set
// before the run starts.
func (l *Ledger) OnChange(fn ChangeFunc) { l.onChange = fn }

// Checkpoints returns the schedule this ledger was built with.
func (l *Ledger) Checkpoints() Checkpoints { return l.checkpoints }

// Snapshot returns a copy of the current status.
func (l *Ledger) Snapshot() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Advance records forward progress. The message is overwritten unless a
// failure already froze it; pctProgress only ever rises. Pass a negative pct
// to update the message alone.
func (l *Ledger) Advance(message string, pct float64) {
	l.mu.Lock()
	if message != "" && !l.status.Error {
		l.status.Message = message
	}
	if pct > l.status.PctProgress && !l.status.Error {
		l.status.PctProgress = pct
	}
	l.commitLocked()
}

// RecordDownload counts one finished download and recomputes pctProgress
// from the download sub-range.
func (l *Ledger) RecordDownload(uri string) {
	l.mu.Lock()
	if l.status.NumFilesDownloaded < l.status.TotalFilesToDownload {
		l.status.NumFilesDownloaded++
	}
	pct := l.checkpoints.DownloadPct(l.status.NumFilesDownloaded, l.status.TotalFilesToDownload)
	if !l.status.Error {
		l.status.Message = fmt.Sprintf("downloaded %s", uri)
		if pct > l.status.PctProgress {
			l.status.PctProgress = pct
		}
	}
	l.commitLocked()
}

// BuildStarted moves to the graph-build checkpoint.
func (l *Ledger) BuildStarted() {
	l.Advance("building graph", l.checkpoints.BuildStart)
}

// GraphBuilt marks the build phase complete.
func (l *Ledger) GraphBuilt() {
	l.mu.Lock()
	l.status.GraphBuilt = true
	if !l.status.Error {
		l.status.Message = "graph built"
		if l.checkpoints.BuildDone > l.status.PctProgress {
			l.status.PctProgress = l.checkpoints.BuildDone
		}
	}
	l.commitLocked()
}

// ServerStarting moves to the serve checkpoint before the engine is up.
func (l *Ledger) ServerStarting() {
	l.Advance("starting server", l.checkpoints.ServeStart)
}

// ServerStarted marks the serve phase ready.
func (l *Ledger) ServerStarted() {
	l.mu.Lock()
	l.status.ServerStarted = true
	if !l.status.Error {
		l.status.Message = "server started"
		if l.checkpoints.ServeDone > l.status.PctProgress {
			l.status.PctProgress = l.checkpoints.ServeDone
		}
	}
	l.commitLocked()
}

// GraphUploaded marks the graph artifact as published.
func (l *Ledger) GraphUploaded() {
	l.mu.Lock()
	l.status.GraphUploaded = true
	if !l.status.Error {
		l.status.Message = "graph uploaded"
		if l.checkpoints.GraphUploaded > l.status.PctProgress {
			l.status.PctProgress = l.checkpoints.GraphUploaded
		}
	}
	l.commitLocked()
}

// Completed records full success at 100 percent.
func (l *Ledger) Completed(message string) {
	l.Advance(message, 100)
}

// Fail marks the run failed and freezes the message. The first failure wins;
// later, less specific errors never replace it.
func (l *Ledger) Fail(message string) {
	l.mu.Lock()
	if !l.status.Error {
		l.status.Error = true
		l.status.Message = message
	}
	l.commitLocked()
}

// commitLocked persists the status and fires the change hook. Persist
// failures are warned about but never fail the run; the status file is a
// best-effort artifact.
func (l *Ledger) commitLocked() {
	snapshot := l.status
	l.mu.Unlock()

	if l.path != "" {
		if err := writeStatus(l.path, snapshot); err != nil {
			l.log.Warn("writing status file", "path", l.path, "error", err)
		}
	}
	if l.onChange != nil {
		l.onChange(snapshot)
	}
}

// Persist rewrites the status file with the current snapshot. Used by the
// fail funnel to guarantee a final write even when nothing changed.
func (l *Ledger) Persist() error {
	snapshot := l.Snapshot()
	if l.path == "" {
		return nil
	}
	return writeStatus(l.path, snapshot)
}

func writeStatus(path string, s Status) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
