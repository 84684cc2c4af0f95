package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tether/internal/control"
)

// ErrNotRunning indicates the control socket is unavailable.
var ErrNotRunning = errors.New("agent not running")

const pollInterval = 200 * time.Millisecond

// LaunchOptions controls how a detached agent is started.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// StartResult reports what EnsureStarted did.
type StartResult struct {
	AlreadyRunning bool
	PID            int
}

// StopResult reports how the agent was stopped.
type StopResult struct {
	PID    int
	Forced bool
}

// Launch starts `<executable> daemon` as a detached process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}
	args := []string{"daemon"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch agent: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient polls the control socket until it accepts a connection.
func WaitForClient(socketPath string, timeout time.Duration) (*control.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := control.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(pollInterval)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for agent")
	}
	return nil, fmt.Errorf("agent failed to start: %w", lastErr)
}

// EnsureStarted launches the agent unless its control socket already answers.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := control.Dial(socketPath)
	result := StartResult{AlreadyRunning: err == nil}
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		return StartResult{}, fmt.Errorf("query agent status: %w", err)
	}
	result.PID = status.PID
	return result, nil
}

// Stop sends SIGTERM to the running agent and kills it if the control socket
// is still up after gracePeriod.
func Stop(socketPath, pidPath string, gracePeriod time.Duration) (StopResult, error) {
	client, err := control.Dial(socketPath)
	if err != nil {
		if isUnavailable(err) {
			return StopResult{}, ErrNotRunning
		}
		return StopResult{}, err
	}
	status, err := client.Status()
	_ = client.Close()
	if err != nil {
		return StopResult{}, fmt.Errorf("query agent status: %w", err)
	}

	result := StopResult{PID: status.PID}
	if err := terminate(status.PID); err != nil {
		return result, err
	}
	if err := WaitForShutdown(socketPath, gracePeriod); err == nil {
		return result, nil
	}

	killed, err := ForceKillProcess(pidPath, status.PID)
	if err != nil {
		return result, fmt.Errorf("failed to stop agent: %w", err)
	}
	_ = os.Remove(socketPath)
	result.PID = killed
	result.Forced = true
	return result, nil
}

// WaitForShutdown polls until the control socket stops accepting connections.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		client, err := control.Dial(socketPath)
		if err != nil && isUnavailable(err) {
			return nil
		}
		if client != nil {
			_ = client.Close()
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("agent did not stop within %s", timeout)
		}
		time.Sleep(pollInterval)
	}
}

// ForceKillProcess kills the pid recorded in pidPath, or fallbackPID when the
// file is missing, and removes the pid file.
func ForceKillProcess(pidPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	data, err := os.ReadFile(pidPath)
	switch {
	case err == nil:
		if parsed, parseErr := strconv.Atoi(strings.TrimSpace(string(data))); parseErr == nil && parsed > 0 {
			pid = parsed
		}
	case !errors.Is(err, os.ErrNotExist):
		return 0, fmt.Errorf("read agent pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine agent pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate agent process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill agent process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	return pid, nil
}

func terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("agent reported no pid")
	}
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("locate agent process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Signal is unsupported on Windows.
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return proc.Kill()
	}
	return nil
}

func isUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
