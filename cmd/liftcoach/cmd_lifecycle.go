package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(stopCmd, reloadCmd, statusCmd)
}

var errNotRunning = errors.New("liftcoach is not running")

// daemonPID returns the PID recorded by serve, after checking with signal 0
// that the process is still alive.
func daemonPID() (int, error) {
	data, err := os.ReadFile(pidPath(loadConfig().DataDir))
	if os.IsNotExist(err) {
		return 0, errNotRunning
	}
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt PID file: %w", err)
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return 0, fmt.Errorf("%w (stale PID %d)", errNotRunning, pid)
	}
	return pid, nil
}

func signalDaemon(sig syscall.Signal, done string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		pid, err := daemonPID()
		if err != nil {
			return err
		}
		if err := syscall.Kill(pid, sig); err != nil {
			return fmt.Errorf("signal %d: %w", pid, err)
		}
		fmt.Printf("%s (PID %d).\n", done, pid)
		return nil
	}
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE:  signalDaemon(syscall.SIGTERM, "Stopping liftcoach"),
}

var reloadCmd = &cobra.Command{
	Use:     "reload",
	Aliases: []string{"restart"},
	Short:   "Make the running daemon re-read its tasks",
	Args:    cobra.NoArgs,
	RunE:    signalDaemon(syscall.SIGHUP, "Asked liftcoach to reload its tasks"),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := daemonPID()
		if errors.Is(err, errNotRunning) {
			fmt.Println(err)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("liftcoach is running (PID %d).\n", pid)
		return nil
	},
}
