package process

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hannesnortje/memlink/internal/config"
	"github.com/hannesnortje/memlink/internal/model"
)

func launcherTestCfg(path string, args ...string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Mode:            model.ModeLocal,
			LocalLaunchPath: path,
			LocalLaunchArgs: args,
			ConnectTimeout:  2 * time.Second,
		},
	}
}

func alwaysReady(context.Context) bool { return true }

func TestLauncher_StartAndStop(t *testing.T) {
	cfg := launcherTestCfg("sleep", "60")
	l := NewLauncher(cfg, alwaysReady, nil)

	pid, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if pid == 0 {
		t.Error("Start() returned pid 0")
	}
	if !l.Running() {
		t.Error("Running() = false after Start")
	}
	if l.PID() != pid {
		t.Errorf("PID() = %d, want %d", l.PID(), pid)
	}

	st := l.Status()
	if !st.Running || st.PID != pid || st.Mode != model.ModeLocal {
		t.Errorf("Status() = %+v", st)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	if l.Running() {
		t.Error("Running() = true after Stop")
	}
	if l.PID() != 0 {
		t.Errorf("PID() = %d after Stop, want 0", l.PID())
	}
}

func TestLauncher_StartTwice(t *testing.T) {
	cfg := launcherTestCfg("sleep", "60")
	l := NewLauncher(cfg, alwaysReady, nil)

	if _, err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		l.Stop(ctx)
	}()

	if _, err := l.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestLauncher_StopNotRunning(t *testing.T) {
	l := NewLauncher(launcherTestCfg("sleep", "60"), alwaysReady, nil)

	if err := l.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestLauncher_LaunchFailure(t *testing.T) {
	l := NewLauncher(launcherTestCfg("/nonexistent/binary"), alwaysReady, nil)

	if _, err := l.Start(context.Background()); err == nil {
		t.Fatal("Start() succeeded for a nonexistent binary")
	}
	if l.Running() {
		t.Error("Running() = true after failed launch")
	}
}

func TestLauncher_NeverReady(t *testing.T) {
	cfg := launcherTestCfg("sleep", "60")
	cfg.Server.ConnectTimeout = 300 * time.Millisecond

	never := func(context.Context) bool { return false }
	l := NewLauncher(cfg, never, nil)

	_, err := l.Start(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start() error = %v, want ErrNotReady", err)
	}

	// The launcher cleans up the child it could not verify.
	if l.Running() {
		t.Error("Running() = true after readiness timeout")
	}
}

func TestLauncher_ProcessExitDuringStartup(t *testing.T) {
	cfg := launcherTestCfg("true")
	cfg.Server.ConnectTimeout = 2 * time.Second

	never := func(context.Context) bool { return false }
	l := NewLauncher(cfg, never, nil)

	_, err := l.Start(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start() error = %v, want ErrNotReady", err)
	}
}
