package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fenwick-labs/sift/internal/config"
	"github.com/fenwick-labs/sift/internal/daemon"
	"github.com/fenwick-labs/sift/internal/embed"
	"github.com/fenwick-labs/sift/internal/indexmanager"
	"github.com/fenwick-labs/sift/internal/logging"
	"github.com/fenwick-labs/sift/internal/output"
	"github.com/fenwick-labs/sift/internal/profiling"
	"github.com/fenwick-labs/sift/internal/telemetry"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run or control the background daemon",
	}

	cmd.AddCommand(newDaemonRunCmd())
	cmd.AddCommand(newDaemonStopCmd())
	return cmd
}

func newDaemonRunCmd() *cobra.Command {
	var foreground bool
	var profilePath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the daemon",
		Long: `Start the background daemon serving REST (spec §4.12) and
WebSocket (spec §4.13) transports.

By default, re-execs itself detached and returns once the daemon
answers its health check. --foreground stays attached and runs in the
current process (used internally, and useful under a supervisor).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if foreground {
				return runDaemonForeground(cmd, profilePath)
			}
			return runDaemonBackground(cmd, profilePath)
		},
	}

	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground instead of detaching")
	cmd.Flags().StringVar(&profilePath, "profile", "", "Write a CPU profile to this path for the life of the daemon")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStop(cmd)
		},
	}
}

func pidFilePath() string {
	return filepath.Join(logging.DefaultLogDir(), "..", "daemon.pid")
}

// embedderFactory satisfies indexmanager.EmbedderFactory, building a fresh
// cached HTTP embedder for whichever config the manager loads an index with.
func embedderFactory(cfg *config.Config) (embed.Embedder, error) {
	return buildEmbedder(cfg), nil
}

func runDaemonForeground(cmd *cobra.Command, profilePath string) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if profilePath != "" {
		stopProfile, err := profiling.NewProfiler().StartCPU(profilePath)
		if err != nil {
			return fmt.Errorf("start cpu profile: %w", err)
		}
		defer stopProfile()
	}

	pidFile := daemon.NewPIDFile(pidFilePath())
	if err := pidFile.Write(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer pidFile.Remove()

	store, err := telemetry.NewStore(filepath.Join(cfg.Storage.Path, "telemetry.db"))
	if err != nil {
		return fmt.Errorf("open telemetry store: %w", err)
	}
	telemetryLogger := telemetry.NewLogger(store, slog.Default())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetryLogger.Close(ctx)
	}()

	manager := indexmanager.New(cfg, embedderFactory, slog.Default())
	server := daemon.NewServer(cfg, manager, telemetryLogger, slog.Default())

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out.Status("", fmt.Sprintf("Daemon listening on %s:%d", cfg.Daemon.Host, cfg.Daemon.Port))
	return server.ListenAndServe(ctx)
}

func runDaemonBackground(cmd *cobra.Command, profilePath string) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client := daemonClient(cfg)
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	args := []string{"daemon", "run", "--foreground"}
	if profilePath != "" {
		args = append(args, "--profile", profilePath)
	}
	child := exec.Command(execPath, args...)
	child.Stdout = nil
	child.Stderr = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	go func() {
		_ = child.Wait()
	}()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if client.IsRunning() {
			out.Success(fmt.Sprintf("Daemon started (pid %d)", child.Process.Pid))
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not become healthy within 10s")
}

func runDaemonStop(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	pidFile := daemon.NewPIDFile(pidFilePath())
	if !pidFile.IsRunning() {
		out.Status("", "Daemon is not running")
		return nil
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && pidFile.IsRunning() {
		time.Sleep(100 * time.Millisecond)
	}

	if pidFile.IsRunning() {
		return fmt.Errorf("daemon did not stop within 10s")
	}
	out.Success("Daemon stopped")
	return nil
}
