package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/botminter/bm/internal/config"
	"github.com/botminter/bm/internal/daemonctl"
	"github.com/botminter/bm/internal/runtimefiles"
	"github.com/botminter/bm/internal/version"
)

// CLI is the root command definition & global flags.
type CLI struct {
	Registry string           `short:"r" help:"Team registry file path" default:"teams.yaml"`
	Verbose  bool             `short:"v" help:"Enable verbose logging"`
	Version  kong.VersionFlag `name:"version" help:"Show version and exit"`

	Daemon    DaemonCmd    `cmd:"" help:"Manage the per-team daemon process"`
	DaemonRun DaemonRunCmd `cmd:"" hidden:"" name:"daemon-run" help:"Internal: the long-running daemon process"`
}

// Global holds state shared across subcommands.
type Global struct {
	Logger *slog.Logger
}

func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// DaemonCmd groups the daemon lifecycle subcommands (§4.8).
type DaemonCmd struct {
	Start    DaemonStartCmd    `cmd:"" help:"Start the daemon for a team"`
	Stop     DaemonStopCmd     `cmd:"" help:"Stop the running daemon for a team"`
	Status   DaemonStatusCmd   `cmd:"" help:"Report whether a team's daemon is running"`
	Logs     DaemonLogsCmd     `cmd:"" help:"Tail a daemon or member log file"`
}

// DaemonStartCmd implements `bm daemon start -t <team>`.
type DaemonStartCmd struct {
	Team      string `short:"t" required:"" help:"Team name, as listed in the registry"`
	Mode      string `help:"webhook or poll" enum:"webhook,poll" default:"webhook"`
	Port      int    `help:"Port to bind in webhook mode" default:"8484"`
	Interval  int    `help:"Poll interval in seconds, in poll mode" default:"60"`
	StateRoot string `name:"state-root" help:"Override the runtime state directory"`
}

func (d *DaemonStartCmd) Run(_ *Global, root *CLI) error {
	team, err := resolveTeam(root.Registry, d.Team)
	if err != nil {
		return err
	}
	stateRoot, err := resolveStateRoot(d.StateRoot)
	if err != nil {
		return err
	}
	bmPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving bm executable path: %w", err)
	}

	pid, err := daemonctl.Start(daemonctl.StartOptions{
		Team:      team,
		Mode:      d.Mode,
		Port:      d.Port,
		Interval:  d.Interval,
		StateRoot: stateRoot,
		BMPath:    bmPath,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Daemon started (PID %d)\n", pid)
	return nil
}

// DaemonStopCmd implements `bm daemon stop -t <team>`.
type DaemonStopCmd struct {
	Team      string `short:"t" required:"" help:"Team name"`
	StateRoot string `name:"state-root" help:"Override the runtime state directory"`
}

func (d *DaemonStopCmd) Run(_ *Global, root *CLI) error {
	stateRoot, err := resolveStateRoot(d.StateRoot)
	if err != nil {
		return err
	}
	if err := daemonctl.Stop(d.Team, stateRoot); err != nil {
		return err
	}
	fmt.Println("Daemon stopped")
	return nil
}

// DaemonStatusCmd implements `bm daemon status -t <team>`.
type DaemonStatusCmd struct {
	Team      string `short:"t" required:"" help:"Team name"`
	StateRoot string `name:"state-root" help:"Override the runtime state directory"`
}

func (d *DaemonStatusCmd) Run(_ *Global, root *CLI) error {
	stateRoot, err := resolveStateRoot(d.StateRoot)
	if err != nil {
		return err
	}
	st, err := daemonctl.Status(d.Team, stateRoot)
	if err != nil {
		return err
	}
	switch st.Kind {
	case runtimefiles.StatusNotRunning:
		fmt.Println("not running")
	case runtimefiles.StatusNotRunningStale:
		fmt.Println("not running (stale pid file reclaimed)")
	case runtimefiles.StatusRunning:
		fmt.Printf("running (pid %d)", st.PID)
		if st.Snapshot != nil {
			fmt.Printf(", mode=%s", st.Snapshot.Mode)
			if st.Snapshot.Mode == "webhook" {
				fmt.Printf(", port=%d", st.Snapshot.Port)
			} else {
				fmt.Printf(", interval=%ds", st.Snapshot.IntervalSeconds)
			}
			fmt.Printf(", started=%s", st.Snapshot.StartTime.Format("2006-01-02T15:04:05Z"))
		}
		fmt.Println()
	}
	return nil
}

// DaemonLogsCmd implements the supplemented `bm daemon logs <team>` command:
// a read-only tail of the daemon log, or a named member's log with --member.
type DaemonLogsCmd struct {
	Team      string `arg:"" help:"Team name"`
	Member    string `help:"Tail a specific member's log instead of the daemon log"`
	StateRoot string `name:"state-root" help:"Override the runtime state directory"`
	Lines     int    `short:"n" help:"Number of trailing lines to print" default:"100"`
}

func (d *DaemonLogsCmd) Run(_ *Global, root *CLI) error {
	stateRoot, err := resolveStateRoot(d.StateRoot)
	if err != nil {
		return err
	}
	store := runtimefiles.New(stateRoot, d.Team)
	path := store.DaemonLogPath()
	if d.Member != "" {
		path = store.MemberLogPath(d.Member)
	}
	return tailFile(path, d.Lines)
}

// DaemonRunCmd implements the internal `bm daemon-run` entry point spawned by
// `bm daemon start`. It is never invoked directly by an operator.
type DaemonRunCmd struct {
	Team      string `required:""`
	Mode      string `required:"" enum:"webhook,poll"`
	Port      int
	Interval  int
	StateRoot string `name:"state-root" required:""`
}

func (d *DaemonRunCmd) Run(_ *Global, root *CLI) error {
	team, err := resolveTeam(root.Registry, d.Team)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return daemonctl.Run(ctx, daemonctl.RunConfig{
		Team:            team,
		Mode:            d.Mode,
		Port:            d.Port,
		IntervalSeconds: d.Interval,
		StateRoot:       d.StateRoot,
		RegistryPath:    root.Registry,
	})
}

func resolveTeam(registryPath, name string) (config.Team, error) {
	reg, err := config.Load(registryPath)
	if err != nil {
		return config.Team{}, err
	}
	return reg.Find(name)
}

func resolveStateRoot(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return runtimefiles.DefaultStateRoot()
}

func tailFile(path string, n int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read log %s: %w", path, err)
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}

func main() {
	cli := &CLI{}
	parser := kong.Parse(cli,
		kong.Description("bm: provisions and operates fleets of LLM agents coordinating over GitHub issues."),
		kong.Vars{"version": fmt.Sprintf("%s (build %s, commit %s)", version.Version, version.BuildTime, version.GitCommit)},
	)

	logger := slog.Default()
	globals := &Global{Logger: logger}

	if err := parser.Run(globals, cli); err != nil {
		parser.FatalIfErrorf(err)
	}
}
