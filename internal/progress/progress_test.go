package progress

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/transitwise/graph-orchestrator/internal/runlog"
)

func newTestLedger(t *testing.T, totalFiles int, build, serve bool) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "status.json")
	l := NewLedger(path, totalFiles, Schedule(build, serve), "test-nonce", runlog.NewDiscard().Logger)
	return l, path
}

// The checkpoint table is a contract: exact values per phase-flag combination.
func TestSchedule_CheckpointTable(t *testing.T) {
	tests := []struct {
		name         string
		build, serve bool
		want         Checkpoints
	}{
		{
			name: "build and serve", build: true, serve: true,
			want: Checkpoints{
				DownloadStart: 10, DownloadWidth: 20,
				BuildStart: 30, BuildDone: 70,
				ServeStart: 70, ServeDone: 90,
				GraphUploaded: 80,
			},
		},
		{
			name: "build only", build: true,
			want: Checkpoints{
				DownloadStart: 10, DownloadWidth: 40,
				BuildStart: 50, BuildDone: 90,
				GraphUploaded: 100,
			},
		},
		{
			name: "serve only", serve: true,
			want: Checkpoints{
				DownloadStart: 10, DownloadWidth: 30,
				ServeStart: 40, ServeDone: 90,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Schedule(tt.build, tt.serve); got != tt.want {
				t.Errorf("Schedule(%v, %v) = %+v, want %+v", tt.build, tt.serve, got, tt.want)
			}
		})
	}
}

func TestLedger_MilestonesBuildAndServe(t *testing.T) {
	l, _ := newTestLedger(t, 2, true, true)

	l.RecordDownload("a")
	if got := l.Snapshot().PctProgress; got != 20 {
		t.Errorf("after 1/2 downloads pct = %v, want 20", got)
	}
	l.RecordDownload("b")
	if got := l.Snapshot().PctProgress; got != 30 {
		t.Errorf("after 2/2 downloads pct = %v, want 30", got)
	}

	l.BuildStarted()
	if got := l.Snapshot().PctProgress; got != 30 {
		t.Errorf("build start pct = %v, want 30", got)
	}
	l.GraphBuilt()
	s := l.Snapshot()
	if s.PctProgress != 70 || !s.GraphBuilt {
		t.Errorf("build done = %+v, want pct 70 and graphBuilt", s)
	}

	l.ServerStarting()
	if got := l.Snapshot().PctProgress; got != 70 {
		t.Errorf("serve start pct = %v, want 70", got)
	}

	// Graph upload finishing after serve start must not regress progress.
	l.GraphUploaded()
	s = l.Snapshot()
	if s.PctProgress != 80 || !s.GraphUploaded {
		t.Errorf("graph uploaded = %+v, want pct 80", s)
	}

	l.ServerStarted()
	s = l.Snapshot()
	if s.PctProgress != 90 || !s.ServerStarted {
		t.Errorf("serve done = %+v, want pct 90", s)
	}

	l.Completed("done")
	if got := l.Snapshot().PctProgress; got != 100 {
		t.Errorf("completed pct = %v, want 100", got)
	}
}

func TestLedger_MilestonesBuildOnly(t *testing.T) {
	l, _ := newTestLedger(t, 2, true, false)

	l.RecordDownload("a")
	if got := l.Snapshot().PctProgress; got != 30 {
		t.Errorf("after 1/2 downloads pct = %v, want 30", got)
	}
	l.RecordDownload("b")
	if got := l.Snapshot().PctProgress; got != 50 {
		t.Errorf("after 2/2 downloads pct = %v, want 50", got)
	}

	l.BuildStarted()
	l.GraphBuilt()
	if got := l.Snapshot().PctProgress; got != 90 {
		t.Errorf("build done pct = %v, want 90", got)
	}

	l.GraphUploaded()
	if got := l.Snapshot().PctProgress; got != 100 {
		t.Errorf("graph uploaded pct = %v, want 100", got)
	}
}

func TestLedger_MilestonesServeOnly(t *testing.T) {
	l, _ := newTestLedger(t, 2, false, true)

	l.RecordDownload("jar")
	l.RecordDownload("graph")
	if got := l.Snapshot().PctProgress; got != 40 {
		t.Errorf("downloads done pct = %v, want 40", got)
	}

	l.ServerStarting()
	if got := l.Snapshot().PctProgress; got != 40 {
		t.Errorf("serve start pct = %v, want 40", got)
	}
	l.ServerStarted()
	if got := l.Snapshot().PctProgress; got != 90 {
		t.Errorf("serve done pct = %v, want 90", got)
	}
}

func TestLedger_DownloadCountNeverExceedsTotal(t *testing.T) {
	l, _ := newTestLedger(t, 2, true, false)

	for i := 0; i < 5; i++ {
		l.RecordDownload("x")
	}
	s := l.Snapshot()
	if s.NumFilesDownloaded != 2 {
		t.Errorf("numFilesDownloaded = %d, want clamped to 2", s.NumFilesDownloaded)
	}
	if s.NumFilesDownloaded > s.TotalFilesToDownload {
		t.Error("downloaded count exceeds total")
	}
}

func TestLedger_PctMonotonic(t *testing.T) {
	l, _ := newTestLedger(t, 1, true, true)

	l.Advance("forward", 50)
	l.Advance("backward attempt", 20)
	if got := l.Snapshot().PctProgress; got != 50 {
		t.Errorf("pct = %v, want monotonic 50", got)
	}
}

func TestLedger_MessageFrozenAfterError(t *testing.T) {
	l, _ := newTestLedger(t, 1, true, true)

	l.Fail("engine exploded")
	l.Advance("later happy message", 90)
	l.Fail("second, less specific failure")
	l.RecordDownload("straggler")

	s := l.Snapshot()
	if !s.Error {
		t.Fatal("error flag should be set")
	}
	if s.Message != "engine exploded" {
		t.Errorf("message = %q, want first failure preserved", s.Message)
	}
}

func TestLedger_PersistsStatusFile(t *testing.T) {
	l, path := newTestLedger(t, 2, true, true)
	l.RecordDownload("a")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("status file not written: %v", err)
	}

	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("status file not valid JSON: %v", err)
	}
	if s.NumFilesDownloaded != 1 || s.TotalFilesToDownload != 2 {
		t.Errorf("persisted %+v, want download counters", s)
	}
	if s.Nonce != "test-nonce" {
		t.Errorf("nonce = %q, want manifest nonce passed through", s.Nonce)
	}
}

func TestLedger_GeneratesNonce(t *testing.T) {
	l := NewLedger("", 0, Schedule(true, false), "", runlog.NewDiscard().Logger)
	if l.Snapshot().Nonce == "" {
		t.Error("ledger should generate a nonce when the manifest has none")
	}
}

func TestLedger_OnChange(t *testing.T) {
	l, _ := newTestLedger(t, 1, true, false)

	var seen []Status
	l.OnChange(func(s Status) { seen = append(seen, s) })

	l.RecordDownload("a")
	l.BuildStarted()

	if len(seen) != 2 {
		t.Fatalf("change hook fired %d times, want 2", len(seen))
	}
	if seen[1].PctProgress != 50 {
		t.Errorf("hook snapshot pct = %v, want 50", seen[1].PctProgress)
	}
}
