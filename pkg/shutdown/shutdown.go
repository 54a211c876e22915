// Package shutdown handles process signals and fatal startup errors.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"assetdesk/pkg/logger"
)

// Abort logs a fatal error, writes a crash dump under dbPath and exits with
// status 2 after delay.
func Abort(reason string, err error, dbPath string, delay time.Duration) {
	logger.Error("startup_fatal", "msg", reason, "error", err)
	path, derr := WriteCrashDump(dbPath, reason, err)
	if derr != nil {
		logger.Error("crash_dump_failed", "error", derr)
		fmt.Fprintf(os.Stderr, "FAILED TO WRITE CRASH DUMP: %v\n", derr)
	} else {
		logger.Error("startup_fatal_crashdump", "path", path)
		fmt.Fprintf(os.Stderr, "CRASH DUMP WRITTEN: %s\n", path)
	}
	logger.Sync()
	time.Sleep(delay)
	os.Exit(2)
}

// WriteCrashDump writes reason, err and every goroutine stack to
// <dbPath>/state/crash/crash-<ts>.log (./crash without a db path). The file
// is written under a temp name and renamed into place.
func WriteCrashDump(dbPath, reason string, err error) (string, error) {
	dir := "./crash"
	if dbPath != "" {
		dir = filepath.Join(dbPath, "state", "crash")
	}
	if e := os.MkdirAll(dir, 0o700); e != nil {
		return "", errors.Wrap(e, "create crash dir")
	}
	f, e := os.CreateTemp(dir, ".crash-*.tmp")
	if e != nil {
		return "", errors.Wrap(e, "create crash file")
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	fmt.Fprintf(f, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(f, "reason: %s\n", reason)
	fmt.Fprintf(f, "error: %v\n", err)
	fmt.Fprintf(f, "go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	_, _ = f.Write(buf[:n])
	_ = f.Sync()
	_ = f.Close()

	path := filepath.Join(dir, fmt.Sprintf("crash-%d.log", time.Now().UnixNano()))
	if e := os.Rename(tmp, path); e != nil {
		return "", errors.Wrap(e, "move crash dump into place")
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
// SIGPIPE dumps goroutine stacks to the log before cancelling.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		defer signal.Stop(sigc)
		defer signal.Stop(sigpipe)
		select {
		case s := <-sigc:
			logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
		case s := <-sigpipe:
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			logger.Info("signal_received", "signal", s.String(), "msg", "SIGPIPE - dumping goroutine stacks")
			logger.Info("goroutine_stack_dump", "dump", string(buf[:n]))
		case <-ctx.Done():
			return
		}
		cancel()
	}()
	return ctx, cancel
}
