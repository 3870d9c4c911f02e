// Package supervise drives one externally spawned engine process to a
// terminal state. A supervisor polls the process once a second, feeding its
// output to a log window and deciding readiness from exit codes and marker
// lines under a deadline. There is no retry anywhere; every non-success
// outcome is terminal for the run.
package supervise

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/transitwise/graph-orchestrator/internal/logtail"
	"github.com/transitwise/graph-orchestrator/internal/transport"
)

// State is the supervisor's position in its lifecycle.
type State string

const (
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// DefaultPollInterval is the supervision tick.
const DefaultPollInterval = time.Second

// Phase describes one supervised engine invocation.
type Phase struct {
	// Name appears in failure messages ("graph build", "server").
	Name string
	// Argv is the full command line, argv[0] included.
	Argv []string
	// Dir is the working directory for the process.
	Dir string
	// LogFile receives the process output. For a detached phase the file is
	// handed to the child directly so output survives orchestrator exit.
	LogFile string
	// Timeout bounds the time until readiness.
	Timeout time.Duration
	// PollInterval overrides the 1s tick; tests shrink it.
	PollInterval time.Duration

	// ExitCodeOnly means readiness is exit code zero and nothing else.
	// Builds have no readiness log line.
	ExitCodeOnly bool
	// ReadyMarkers must all appear in the log window for readiness.
	ReadyMarkers []string
	// FailMarkers each terminate the phase immediately when seen,
	// pre-empting the timeout.
	FailMarkers []string

	// Detach puts the child in its own process group so it outlives the
	// orchestrator. Only the serve phase sets this; it is a deliberate
	// exception to normal parent/child cleanup.
	Detach bool

	// UploadLogTo, when set, receives the full log on any non-success
	// outcome. Best effort.
	UploadLogTo string

	// OnTick observes the log window once per poll, letting the caller
	// surface the engine's latest output as a progress message.
	OnTick func(*logtail.Window)
}

// Supervisor runs one Phase. Create with New, drive with Run.
type Supervisor struct {
	phase Phase
	log   *slog.Logger
	tr    *transport.Transport

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	exitCode int

	window   *logtail.Window
	fileTail *logtail.FileTail
	logFile  *os.File

	exitCh chan error
}

// New creates a supervisor for phase. tr may be nil when no log upload is
// configured.
func New(phase Phase, tr *transport.Transport, log *slog.Logger) *Supervisor {
	if phase.PollInterval <= 0 {
		phase.PollInterval = DefaultPollInterval
	}
	s := &Supervisor{
		phase:  phase,
		log:    log,
		tr:     tr,
		state:  StateStarting,
		exitCh: make(chan error, 1),
	}
	if phase.Detach {
		s.fileTail = logtail.NewFileTail(phase.LogFile, logtail.DefaultCapacity)
		s.window = s.fileTail.Window()
	} else {
		s.window = logtail.NewWindow(logtail.DefaultCapacity)
	}
	return s
}

// Window exposes the retained log window for progress messages.
func (s *Supervisor) Window() *logtail.Window { return s.window }

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pid returns the supervised process id, or 0 before start.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Run drives the phase to a terminal state. It returns nil once the phase is
// ready — for a detached serve phase the process is deliberately left
// running; ready does not mean terminated. On any failure the full log is
// captured and, when configured, uploaded before the error is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("starting %s: %w", s.phase.Name, err)
	}
	s.setState(StateRunning)

	err := s.poll(ctx)
	if err != nil {
		s.uploadLog(ctx)
		return err
	}

	s.setState(StateSucceeded)
	return nil
}

func (s *Supervisor) start(ctx context.Context) error {
	cmd := exec.Command(s.phase.Argv[0], s.phase.Argv[1:]...)
	cmd.Dir = s.phase.Dir
	if s.phase.Detach {
		detach(cmd)
	}

	logFile, err := os.Create(s.phase.LogFile)
	if err != nil {
		return fmt.Errorf("creating log file: %w", err)
	}
	s.logFile = logFile

	if s.phase.Detach {
		// Hand the file descriptor to the child; it keeps logging after we
		// are gone, and the file tailer re-reads it each tick.
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		if err := cmd.Start(); err != nil {
			logFile.Close()
			return err
		}
		logFile.Close()
		s.logFile = nil
		go func() { s.exitCh <- cmd.Wait() }()
	} else {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			logFile.Close()
			return err
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			logFile.Close()
			return err
		}
		if err := cmd.Start(); err != nil {
			logFile.Close()
			return err
		}
		go s.streamOutput(cmd, stdout, stderr)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	s.log.Info("phase started", "phase", s.phase.Name, "pid", cmd.Process.Pid)
	return nil
}

// streamOutput copies both pipes into the window and the log file, then
// reports the process exit.
func (s *Supervisor) streamOutput(cmd *exec.Cmd, stdout, stderr io.ReadCloser) {
	var wg sync.WaitGroup
	wg.Add(2)

	readLines := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			s.window.ObserveLine(line)
			s.mu.Lock()
			if s.logFile != nil {
				s.logFile.WriteString(line + "\n")
				s.logFile.Sync()
			}
			s.mu.Unlock()
		}
	}

	go readLines(stdout)
	go readLines(stderr)
	wg.Wait()

	s.exitCh <- cmd.Wait()
}

// poll is the supervision loop: one tick per interval until readiness,
// process exit, a fatal marker, or the deadline.
func (s *Supervisor) poll(ctx context.Context) error {
	ticker := time.NewTicker(s.phase.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.phase.Timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			s.kill()
			s.setState(StateFailed)
			return fmt.Errorf("%s interrupted: %w", s.phase.Name, ctx.Err())

		case err := <-s.exitCh:
			return s.handleExit(err)

		case <-deadline.C:
			s.kill()
			s.setState(StateTimedOut)
			return fmt.Errorf("%s took longer than %d seconds to start", s.phase.Name, int(s.phase.Timeout.Seconds()))

		case <-ticker.C:
			if s.fileTail != nil {
				if err := s.fileTail.Reload(); err != nil {
					s.log.Warn("re-reading phase log", "phase", s.phase.Name, "error", err)
				}
			}

			if s.phase.OnTick != nil {
				s.phase.OnTick(s.window)
			}

			if marker := s.matchFailMarker(); marker != "" {
				s.kill()
				s.setState(StateFailed)
				return fmt.Errorf("%s failed: log contains %q", s.phase.Name, marker)
			}

			if !s.phase.ExitCodeOnly && len(s.phase.ReadyMarkers) > 0 &&
				s.window.ContainsAll(s.phase.ReadyMarkers...) {
				s.log.Info("phase ready", "phase", s.phase.Name)
				return nil
			}
		}
	}
}

// handleExit classifies a process exit observed before log-based readiness.
func (s *Supervisor) handleExit(waitErr error) error {
	code := 0
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if waitErr != nil {
		code = -1
	}
	s.mu.Lock()
	s.exitCode = code
	s.mu.Unlock()
	s.closeLogFile()

	if s.phase.ExitCodeOnly {
		if code == 0 {
			s.log.Info("phase completed", "phase", s.phase.Name)
			return nil
		}
		s.setState(StateFailed)
		return fmt.Errorf("%s exited with code %d", s.phase.Name, code)
	}

	// A marker-gated phase that exits was never ready, whatever the code.
	s.setState(StateFailed)
	return fmt.Errorf("%s exited with code %d before becoming ready", s.phase.Name, code)
}

func (s *Supervisor) matchFailMarker() string {
	for _, marker := range s.phase.FailMarkers {
		if s.window.ContainsAny(marker) {
			return marker
		}
	}
	return ""
}

func (s *Supervisor) kill() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := killProcess(cmd, s.phase.Detach); err != nil {
		s.log.Warn("killing phase process", "phase", s.phase.Name, "error", err)
	}
}

// FullLog returns the entire phase log from disk, not just the ring buffer.
func (s *Supervisor) FullLog() ([]byte, error) {
	data, err := os.ReadFile(s.phase.LogFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// uploadLog publishes the full log on failure. Best effort: an upload
// failure is warned about and otherwise ignored.
func (s *Supervisor) uploadLog(ctx context.Context) {
	s.closeLogFile()
	if s.phase.UploadLogTo == "" || s.tr == nil {
		return
	}
	if !s.tr.PutFile(ctx, s.phase.LogFile, s.phase.UploadLogTo) {
		s.log.Warn("phase log upload failed", "phase", s.phase.Name, "uri", s.phase.UploadLogTo)
	}
}

func (s *Supervisor) closeLogFile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile != nil {
		s.logFile.Close()
		s.logFile = nil
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
