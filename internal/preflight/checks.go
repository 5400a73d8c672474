package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"waypoint/internal/connectivity"
	"waypoint/internal/queue"
	"waypoint/internal/reconcile"
	"waypoint/internal/services"
	"waypoint/internal/session"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has at least minMB free.
func CheckFreeSpace(name, path string, minMB int) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	freeMB := int64(stat.Bavail) * int64(stat.Bsize) / (1 << 20)
	if minMB > 0 && freeMB < int64(minMB) {
		return Result{Name: name, Detail: fmt.Sprintf("%d MB free, need %d MB", freeMB, minMB)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d MB free", freeMB)}
}

// CheckQueueStore verifies the queue store is readable and intact.
func CheckQueueStore(ctx context.Context, store queue.Store) Result {
	const name = "Queue store"

	checker, ok := store.(queue.HealthChecker)
	if !ok {
		if _, err := store.Load(ctx); err != nil {
			return Result{Name: name, Detail: err.Error()}
		}
		return Result{Name: name, Passed: true, Detail: "readable"}
	}
	health, err := checker.CheckHealth(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", health.DBPath, err)}
	}
	return EvaluateQueueHealth(health)
}

// EvaluateQueueHealth turns a store health report into a Result.
func EvaluateQueueHealth(health queue.DatabaseHealth) Result {
	const name = "Queue store"

	if health.Error != "" {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s)", health.DBPath, health.Error)}
	}
	if !health.DatabaseExists {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (not created yet)", health.DBPath)}
	}
	if len(health.MissingColumns) > 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (missing columns: %s)", health.DBPath, strings.Join(health.MissingColumns, ", "))}
	}
	if !health.IntegrityCheck {
		return Result{Name: name, Detail: fmt.Sprintf("%s (integrity check failed)", health.DBPath)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s, %d records)", health.DBPath, health.Backend, health.TotalItems)}
}

// CheckSession verifies a usable session is available.
func CheckSession(ctx context.Context, provider session.Provider) Result {
	const name = "Session"

	sess, err := provider.Current(ctx)
	if err != nil || !sess.Valid() {
		return Result{Name: name, Detail: "no session (log in on this device or set session.token)"}
	}
	detail := "token present"
	if who := sess.DisplayName(); who != "" {
		detail = who
	}
	if id, ok := sess.Checkpoint(); ok {
		detail = fmt.Sprintf("%s, checkpoint %d", detail, id)
	} else {
		detail += ", no checkpoint assigned"
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckServer verifies the timing server answers within timeout.
func CheckServer(ctx context.Context, baseURL string, pinger connectivity.Pinger, timeout time.Duration) Result {
	const name = "Timing server"

	if strings.TrimSpace(baseURL) == "" {
		return Result{Name: name, Detail: "missing server.base_url"}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := pinger.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", baseURL, summarizePingError(err))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", baseURL)}
}

func summarizePingError(err error) string {
	if errors.Is(err, services.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	if reconcile.IsNetworkError(err) {
		var syncErr *reconcile.NetworkError
		if errors.As(err, &syncErr) && syncErr.Err != nil {
			return syncErr.Err.Error()
		}
	}
	return err.Error()
}
