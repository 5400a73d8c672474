package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"waypoint/internal/config"
	"waypoint/internal/ipc"
)

const pollInterval = 200 * time.Millisecond

// LaunchOptions controls how a detached daemon is spawned.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	LogLevel   string
	// OutputPath receives the child's stdout and stderr until its own logger
	// takes over. Empty discards them.
	OutputPath string
}

func (o LaunchOptions) args() []string {
	args := []string{"daemon"}
	for _, flag := range []struct{ name, value string }{
		{"--socket", o.SocketPath},
		{"--config", o.ConfigPath},
		{"--log-level", o.LogLevel},
	} {
		if value := strings.TrimSpace(flag.value); value != "" {
			args = append(args, flag.name, value)
		}
	}
	return args
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult describes what EnsureStarted did.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// StopResult describes what StopAndTerminate did.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Launch spawns `<executable> daemon ...` in its own session and returns
// without waiting for it.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	proc := exec.Command(executablePath, opts.args()...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if path := strings.TrimSpace(opts.OutputPath); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create daemon output directory: %w", err)
		}
		out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open daemon output: %w", err)
		}
		defer out.Close()
		proc.Stdout, proc.Stderr = out, out
	}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient polls the socket until the daemon answers.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	var lastErr error
	for deadline := time.Now().Add(timeout); time.Now().Before(deadline); time.Sleep(pollInterval) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon if its socket is absent, then makes sure
// background sync is running.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, launched, err := connectOrLaunch(socketPath, executablePath, opts, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	defer client.Close()

	if status, statusErr := client.Status(); statusErr == nil && status.Running {
		if launched {
			return StartResult{State: StartStateStarted, Launched: true}, nil
		}
		return StartResult{State: StartStateAlreadyRunning}, nil
	}

	resp, err := client.Start()
	if err != nil {
		return StartResult{}, err
	}
	result := StartResult{State: StartStateRequested, Launched: launched, Message: "Start request sent"}
	if resp == nil {
		return result, nil
	}
	if msg := strings.TrimSpace(resp.Message); msg != "" {
		result.Message = msg
	}
	if resp.Started {
		result.State = StartStateStarted
	}
	return result, nil
}

func connectOrLaunch(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (*ipc.Client, bool, error) {
	if client, err := ipc.Dial(socketPath); err == nil {
		return client, false, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return nil, false, err
	}
	client, err := WaitForClient(socketPath, waitTimeout)
	if err != nil {
		return nil, false, err
	}
	return client, true, nil
}

// ProcessInfo reports whether daemon IPC answers and the daemon's pid.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil {
		return true, 0, err
	}
	return true, status.PID, nil
}

// LockHeld reports whether some process holds the queue lock. A daemon that
// lost its socket still holds it.
func LockHeld(lockPath string) (bool, error) {
	if strings.TrimSpace(lockPath) == "" {
		return false, nil
	}
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("check queue lock: %w", err)
	}
	if ok {
		_ = lock.Unlock()
	}
	return !ok, nil
}

// WaitForExit waits until the socket stops answering and the lock is free.
func WaitForExit(socketPath, lockPath string, timeout time.Duration) error {
	for deadline := time.Now().Add(timeout); time.Now().Before(deadline); time.Sleep(pollInterval) {
		alive, _, err := ProcessInfo(socketPath)
		if err != nil || alive {
			continue
		}
		if held, lockErr := LockHeld(lockPath); lockErr == nil && !held {
			return nil
		}
	}
	return fmt.Errorf("daemon did not exit within %s", timeout)
}

// ReadPID parses the daemon pid file.
func ReadPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %q", pidPath)
	}
	return pid, nil
}

// ForceKillProcess sends SIGKILL to the daemon and removes its pid and lock
// files. The pid file wins over fallbackPID.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	if fromFile, err := ReadPID(pidPath); err == nil {
		pid = fromFile
	}
	switch {
	case pid <= 0:
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	case pid == os.Getpid():
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	for _, path := range []string{pidPath, lockPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return pid, fmt.Errorf("remove %q: %w", path, err)
		}
	}
	return pid, nil
}

// StopAndTerminate stops background sync, sends SIGTERM, and falls back to
// SIGKILL when the daemon has not exited after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	var result StopResult
	if status, statusErr := client.Status(); statusErr == nil {
		result.PID = status.PID
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result.StopAcknowledged = resp != nil && resp.Stopped

	var pidPath, lockPath string
	if cfg != nil {
		pidPath, lockPath = cfg.PIDPath(), cfg.LockPath()
	}
	if result.PID > 0 && result.PID != os.Getpid() {
		_ = syscall.Kill(result.PID, syscall.SIGTERM)
	}
	if WaitForExit(socketPath, lockPath, gracePeriod) == nil {
		return result, nil
	}

	killed, err := ForceKillProcess(pidPath, lockPath, result.PID)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killed
	return result, nil
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
