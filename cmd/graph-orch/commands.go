package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/transitwise/graph-orchestrator/internal/config"
	"github.com/transitwise/graph-orchestrator/internal/manifest"
	"github.com/transitwise/graph-orchestrator/internal/notify"
	"github.com/transitwise/graph-orchestrator/internal/orchestrator"
	"github.com/transitwise/graph-orchestrator/internal/progress"
	"github.com/transitwise/graph-orchestrator/internal/runlog"
	"github.com/transitwise/graph-orchestrator/internal/runstore"
	"github.com/transitwise/graph-orchestrator/internal/sched"
	"github.com/transitwise/graph-orchestrator/internal/watch"
	"github.com/transitwise/graph-orchestrator/tui"
	"github.com/transitwise/graph-orchestrator/web/api"
)

var version = "dev"

var (
	runWithTUI    bool
	runWithWeb    bool
	scheduleCron  string
	historyStatus string
	historyLimit  int
	servePort     int
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run [MANIFEST]",
		Short: "Execute one pipeline run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().BoolVar(&runWithTUI, "tui", false, "show a live dashboard")
	runCmd.Flags().BoolVar(&runWithWeb, "web", false, "serve live status over HTTP")
	rootCmd.AddCommand(runCmd)

	watchCmd := &cobra.Command{
		Use:   "watch [MANIFEST]",
		Short: "Run the pipeline whenever the manifest changes",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch,
	}
	rootCmd.AddCommand(watchCmd)

	scheduleCmd := &cobra.Command{
		Use:   "schedule [MANIFEST]",
		Short: "Run the pipeline on a cron schedule",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSchedule,
	}
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "cron expression (overrides config)")
	rootCmd.AddCommand(scheduleCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum runs to show")
	rootCmd.AddCommand(historyCmd)

	serveCmd := &cobra.Command{
		Use:   "serve [MANIFEST]",
		Short: "Serve the status file and run history over HTTP",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on")
	rootCmd.AddCommand(serveCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func manifestPath(cfg *config.Config, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.General.ManifestPath
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	if cfg.Notifications.SlackWebhook != "" {
		return notify.NewSlackNotifier(cfg.Notifications.SlackWebhook)
	}
	return notify.Noop{}
}

// executeRun loads the manifest, wires the observers and executes one run,
// recording it in the history database.
func executeRun(ctx context.Context, cfg *config.Config, path string, withTUI, withWeb bool) error {
	man, err := manifest.Load(path)
	if err != nil {
		return err
	}
	// Fixing the nonce here gives the history record and every status
	// artifact the same run ID.
	if man.Nonce == "" {
		man.Nonce = uuid.NewString()
	}

	orch := orchestrator.New(man)
	orch.SetLogLevel(runlog.ParseLevel(cfg.General.LogLevel))
	orch.SetNotifier(buildNotifier(cfg))

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer store.Close()

	if err := store.CreateRun(&runstore.Run{
		ID:           man.Nonce,
		ManifestPath: path,
		BuildGraph:   man.BuildGraph,
		RunServer:    man.RunServer,
		EngineMajor:  man.Engine.MajorVersion,
	}); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	var hooks []progress.ChangeFunc
	hooks = append(hooks, func(st progress.Status) {
		store.UpdateProgress(man.Nonce, st.Message, st.PctProgress)
	})

	var server *api.Server
	if withWeb {
		addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
		server = api.NewServer(orch, store, addr, runlog.NewDiscard().Logger)
		hooks = append(hooks, server.PublishStatus)
		go server.Start(ctx)
	}

	var program *tea.Program
	if withTUI {
		program = tea.NewProgram(tui.NewModel(), tea.WithAltScreen())
		hooks = append(hooks, func(st progress.Status) {
			program.Send(tui.StatusMsg(st))
		})
	}

	orch.OnStatusChange(func(st progress.Status) {
		for _, hook := range hooks {
			hook(st)
		}
	})

	finish := func(runErr error) error {
		st := orch.Status()
		if runErr != nil {
			store.FinishRun(man.Nonce, runstore.StatusFailed, st.Message, st.PctProgress)
			return runErr
		}
		store.FinishRun(man.Nonce, runstore.StatusSucceeded, st.Message, st.PctProgress)
		return nil
	}

	if program == nil {
		return finish(orch.Run(ctx))
	}

	runErr := make(chan error, 1)
	go func() {
		err := orch.Run(ctx)
		msg := tui.DoneMsg{}
		if err != nil {
			msg.Err = err.Error()
		}
		program.Send(msg)
		runErr <- err
	}()

	if _, err := program.Run(); err != nil {
		return err
	}
	select {
	case err := <-runErr:
		return finish(err)
	case <-time.After(time.Second):
		// Dashboard quit while the run was still going.
		return finish(fmt.Errorf("run interrupted"))
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	return executeRun(ctx, cfg, manifestPath(cfg, args), runWithTUI, runWithWeb)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := manifestPath(cfg, args)

	ctx, cancel := signalContext()
	defer cancel()

	changes := make(chan struct{}, 1)
	watcher, err := watch.NewManifestWatcher(path, func(string) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer watcher.Stop()
	watcher.Start(ctx)

	fmt.Printf("Watching %s for changes\n", path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			fmt.Printf("Manifest changed, starting run\n")
			if err := executeRun(ctx, cfg, path, false, false); err != nil {
				fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
			}
		}
	}
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := manifestPath(cfg, args)

	expr := scheduleCron
	if expr == "" {
		expr = cfg.Schedule.Cron
	}
	if expr == "" {
		return fmt.Errorf("no cron expression: set --cron or [schedule] cron in config")
	}

	log, err := runlog.New(os.DevNull, runlog.ParseLevel(cfg.General.LogLevel))
	if err != nil {
		return err
	}
	defer log.Close()

	scheduler, err := sched.NewScheduler(expr, log.Logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Scheduling runs with %q, next at %s\n", expr, scheduler.NextRun().Format(time.RFC3339))
	scheduler.Start(ctx, func(ctx context.Context) error {
		return executeRun(ctx, cfg, path, false, false)
	})
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(runstore.ListOptions{
		Status: historyStatus,
		Limit:  historyLimit,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tSTARTED\tMESSAGE")
	for _, r := range runs {
		started := "-"
		if !r.StartedAt.IsZero() {
			started = r.StartedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%s\t%s\n",
			r.ID, r.Status, r.PctProgress, started, r.Message)
	}
	w.Flush()

	return nil
}

// fileSource reads status snapshots from the status file a run writes.
type fileSource struct {
	path string
}

func (f *fileSource) Status() progress.Status {
	var st progress.Status
	data, err := os.ReadFile(f.path)
	if err != nil {
		return st
	}
	json.Unmarshal(data, &st)
	return st
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	man, err := manifest.Load(manifestPath(cfg, args))
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	port := servePort
	if port == 0 {
		port = cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)

	log, err := runlog.New(os.DevNull, runlog.ParseLevel(cfg.General.LogLevel))
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, cancel := signalContext()
	defer cancel()

	server := api.NewServer(&fileSource{path: man.StatusFile}, store, addr, log.Logger)
	fmt.Printf("Serving status at http://%s\n", addr)
	return server.Start(ctx)
}
