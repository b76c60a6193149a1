package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/hannesnortje/memlink/internal/config"
	"github.com/hannesnortje/memlink/internal/model"
)

// Errors
var (
	ErrAlreadyRunning = errors.New("backend process already running")
	ErrNotRunning     = errors.New("backend process not running")
	ErrNotReady       = errors.New("backend process never became ready")
)

// ReadinessFunc reports whether the backend is reachable. The launcher polls
// it after spawning until the process answers or the deadline passes.
type ReadinessFunc func(ctx context.Context) bool

// Launcher starts and stops the backend as a locally owned child process.
// Used only in local mode.
type Launcher struct {
	cfg    *config.Config
	ready  ReadinessFunc
	logger *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{} // closed when the child exits
}

// NewLauncher creates a launcher. ready is polled to detect readiness after
// start; probing the health endpoint is the usual implementation.
func NewLauncher(cfg *config.Config, ready ReadinessFunc, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		cfg:    cfg,
		ready:  ready,
		logger: logger,
	}
}

// Running reports whether a managed child process is alive.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running()
}

func (l *Launcher) running() bool {
	if l.cmd == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// PID returns the child process id, or 0 when nothing is managed.
func (l *Launcher) PID() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running() {
		return 0
	}
	return l.cmd.Process.Pid
}

// Start launches the backend process and waits for it to answer the
// readiness poll. The wait is bounded by the connect timeout; a process that
// spawns but never answers is stopped again and ErrNotReady returned.
func (l *Launcher) Start(ctx context.Context) (int, error) {
	l.mu.Lock()
	if l.running() {
		l.mu.Unlock()
		return 0, ErrAlreadyRunning
	}

	cmd := exec.Command(l.cfg.Server.LocalLaunchPath, l.cfg.Server.LocalLaunchArgs...)
	if err := cmd.Start(); err != nil {
		l.mu.Unlock()
		return 0, fmt.Errorf("launch %s: %w", l.cfg.Server.LocalLaunchPath, err)
	}

	done := make(chan struct{})
	l.cmd = cmd
	l.done = done
	l.mu.Unlock()

	go func() {
		err := cmd.Wait()
		l.logger.Info("backend process exited", "pid", cmd.Process.Pid, "error", err)
		close(done)
	}()

	l.logger.Info("backend process launched",
		"path", l.cfg.Server.LocalLaunchPath,
		"pid", cmd.Process.Pid,
	)

	if err := l.awaitReady(ctx, done); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.Stop(stopCtx)
		return 0, err
	}

	return cmd.Process.Pid, nil
}

// awaitReady polls the readiness func until success, child exit, or timeout.
func (l *Launcher) awaitReady(ctx context.Context, done chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Server.ConnectTimeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ready != nil && l.ready(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrNotReady
		case <-done:
			return fmt.Errorf("%w: process exited during startup", ErrNotReady)
		case <-ticker.C:
		}
	}
}

// Stop terminates the child gracefully (SIGTERM), escalating to SIGKILL if
// it has not exited when ctx expires. Idempotent once the child is gone.
func (l *Launcher) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running() {
		l.mu.Unlock()
		return ErrNotRunning
	}
	cmd := l.cmd
	done := l.done
	l.mu.Unlock()

	l.logger.Info("stopping backend process", "pid", cmd.Process.Pid)

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal process: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		l.logger.Warn("graceful stop timed out, killing", "pid", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill process: %w", err)
		}
		<-done
	}

	l.mu.Lock()
	l.cmd = nil
	l.mu.Unlock()

	return nil
}

// Status reports the launcher state for diagnostics.
func (l *Launcher) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Status{Mode: l.cfg.Server.Mode}
	if l.running() {
		s.Running = true
		s.PID = l.cmd.Process.Pid
	}
	return s
}

// Status is a snapshot of the managed process.
type Status struct {
	Mode    model.Mode
	Running bool
	PID     int
}
