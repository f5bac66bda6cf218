package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_RequiresCommand(t *testing.T) {
	if _, err := New(Config{}, testLogger(), nil); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestRun_RestartsAndLogsCrashes(t *testing.T) {
	crashLog := filepath.Join(t.TempDir(), "crash.log")
	sup, err := New(Config{
		Command:      []string{"/bin/sh", "-c", "exit 3"},
		RestartDelay: 10 * time.Millisecond,
		CrashLogPath: crashLog,
	}, testLogger(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := sup.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	if got := sup.Restarts(); got < 2 {
		t.Fatalf("expected at least 2 restarts, got %d", got)
	}

	data, err := os.ReadFile(crashLog)
	if err != nil {
		t.Fatalf("read crash log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if int64(len(lines)) != sup.Restarts() {
		t.Fatalf("expected %d crash log lines, got %d", sup.Restarts(), len(lines))
	}
	if !strings.Contains(lines[0], "exit=3") {
		t.Fatalf("crash log line missing exit code: %q", lines[0])
	}
}

func TestRun_CleanExitStillRestarts(t *testing.T) {
	sup, err := New(Config{
		Command:      []string{"/bin/sh", "-c", "exit 0"},
		RestartDelay: 10 * time.Millisecond,
	}, testLogger(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = sup.Run(ctx)

	if sup.Restarts() < 2 {
		t.Fatalf("clean exits must restart too, got %d", sup.Restarts())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	sup, err := New(Config{
		Command:      []string{"/bin/sh", "-c", "sleep 30"},
		RestartDelay: 10 * time.Millisecond,
	}, testLogger(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
}
