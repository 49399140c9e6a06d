package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"slack-digest/internal/config"
)

var daemonConfigPath string

const pidFileName = ".slack-digest.pid"

func NewDaemonCmd() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler in the background (start/stop/restart/status)",
	}

	start := &cobra.Command{Use: "start", Short: "Start the scheduler as a background process", RunE: runDaemonStart}
	start.Flags().StringVarP(&daemonConfigPath, "config", "c", "", "Path to config file")
	restart := &cobra.Command{Use: "restart", Short: "Restart the background scheduler", RunE: runDaemonRestart}
	restart.Flags().StringVarP(&daemonConfigPath, "config", "c", "", "Path to config file")

	daemonCmd.AddCommand(start, restart)
	daemonCmd.AddCommand(&cobra.Command{Use: "stop", Short: "Stop the background scheduler", RunE: runDaemonStop})
	daemonCmd.AddCommand(&cobra.Command{Use: "status", Short: "Check whether the background scheduler runs", RunE: runDaemonStatus})

	return daemonCmd
}

func getPidFile() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", pidFileName)
	}
	return filepath.Join(homeDir, pidFileName)
}

// getLogFile is where the child's stdout and stderr go.
func getLogFile() string {
	if cfg, err := config.Load(daemonConfigPath); err == nil && cfg.Storage.LogPath != "" {
		return cfg.Storage.LogPath
	}
	if workDir, err := os.Getwd(); err == nil {
		return filepath.Join(workDir, "slack-digest.log")
	}
	return "./slack-digest.log"
}

func readPid() (int, error) {
	data, err := os.ReadFile(getPidFile())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func writePid(pid int) error {
	return os.WriteFile(getPidFile(), []byte(strconv.Itoa(pid)), 0644)
}

func removePidFile() {
	_ = os.Remove(getPidFile())
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if pid, err := readPid(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("daemon is already running (PID: %d)", pid)
	}

	// Fail here rather than in the detached child.
	if _, err := loadConfig(daemonConfigPath, nil); err != nil {
		return err
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	logFile := getLogFile()
	logFileHandle, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFileHandle.Close()

	cmdArgs := []string{"start"}
	if daemonConfigPath != "" {
		cmdArgs = append(cmdArgs, "--config", daemonConfigPath)
	}

	child := exec.Command(executable, cmdArgs...)
	child.Stdout = logFileHandle
	child.Stderr = logFileHandle
	child.Dir, _ = os.Getwd()
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	if err := writePid(child.Process.Pid); err != nil {
		child.Process.Kill()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	fmt.Printf("Daemon started (PID: %d, Log: %s)\n", child.Process.Pid, logFile)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	pid, err := readPid()
	if err != nil {
		return fmt.Errorf("daemon is not running (PID file not found)")
	}
	if !isProcessRunning(pid) {
		removePidFile()
		return fmt.Errorf("daemon is not running (process not found)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		removePidFile()
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	// The scheduler waits for in-flight reports, so allow a full run budget.
	deadline := time.Now().Add(90 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(500 * time.Millisecond)
		if !isProcessRunning(pid) {
			removePidFile()
			fmt.Printf("Daemon stopped (PID: %d)\n", pid)
			return nil
		}
	}

	process.Signal(syscall.SIGKILL)
	time.Sleep(500 * time.Millisecond)
	removePidFile()
	fmt.Printf("Daemon force stopped (PID: %d)\n", pid)
	return nil
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	if err := runDaemonStop(cmd, args); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}
	time.Sleep(1 * time.Second)
	return runDaemonStart(cmd, args)
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	pid, err := readPid()
	if err != nil {
		fmt.Println("Status: Not running")
		return nil
	}

	if isProcessRunning(pid) {
		fmt.Printf("Status: Running (PID: %d)\n", pid)
		fmt.Printf("PID file: %s\n", getPidFile())
		fmt.Printf("Log file: %s\n", getLogFile())
	} else {
		fmt.Println("Status: Not running (stale PID file)")
		removePidFile()
	}
	return nil
}
