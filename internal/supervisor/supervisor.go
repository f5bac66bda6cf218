// Package supervisor keeps the ingestion bridge alive: it runs the bridge
// binary as a subprocess and restarts it after any exit, clean or not,
// until cancelled.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/metrics"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/notify"
)

// Config controls the restart loop.
type Config struct {
	// Command is the argv of the supervised process; Command[0] is the binary.
	Command []string

	// RestartDelay is the fixed wait between an exit and the next start.
	// Defaults to 10s.
	RestartDelay time.Duration

	// CrashLogPath, when set, gets one appended line per exit.
	CrashLogPath string
}

func (c *Config) applyDefaults() {
	if c.RestartDelay <= 0 {
		c.RestartDelay = 10 * time.Second
	}
}

// Supervisor restarts one subprocess forever.
type Supervisor struct {
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	restarts atomic.Int64

	// Notifier, when set, receives a crash report on every exit.
	Notifier notify.Notifier
}

// New creates a supervisor for cfg.Command. Metrics may be nil.
func New(cfg Config, log *slog.Logger, m *metrics.Metrics) (*Supervisor, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("supervisor: empty command")
	}
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{cfg: cfg, log: log, metrics: m}, nil
}

// Restarts returns how many times the process has exited so far.
func (s *Supervisor) Restarts() int64 {
	return s.restarts.Load()
}

// Run starts the subprocess and restarts it on every exit until ctx is
// cancelled. No exit goes unlogged or unretried.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		start := time.Now()
		code, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.restarts.Add(1)
		if s.metrics != nil {
			s.metrics.SupervisorRestarts.Inc()
		}
		s.log.Warn("supervised process exited",
			"command", s.cfg.Command[0], "exit_code", code,
			"uptime", time.Since(start).Round(time.Millisecond),
			"restart_in", s.cfg.RestartDelay, "error", err)
		s.appendCrashLog(code, err)
		s.notifyCrash(ctx, code)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.RestartDelay):
		}
	}
}

// runOnce runs the subprocess to completion and returns its exit code.
func (s *Supervisor) runOnce(ctx context.Context) (int, error) {
	cmd := exec.CommandContext(ctx, s.cfg.Command[0], s.cfg.Command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return -1, err
	}
	err := cmd.Wait()
	code := cmd.ProcessState.ExitCode()
	return code, err
}

// appendCrashLog records one exit in the crash log file.
func (s *Supervisor) appendCrashLog(code int, cause error) {
	if s.cfg.CrashLogPath == "" {
		return
	}
	f, err := os.OpenFile(s.cfg.CrashLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Warn("crash log unavailable", "path", s.cfg.CrashLogPath, "error", err)
		return
	}
	defer f.Close()

	line := fmt.Sprintf("%s command=%s exit=%d", time.Now().UTC().Format(time.RFC3339), s.cfg.Command[0], code)
	if cause != nil {
		line += " cause=" + cause.Error()
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		s.log.Warn("crash log write failed", "error", err)
	}
}

func (s *Supervisor) notifyCrash(ctx context.Context, code int) {
	if s.Notifier == nil {
		return
	}
	alertCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := s.Notifier.Send(alertCtx, notify.Alert{
		Level:   notify.AlertWarning,
		Title:   "Supervised process exited",
		Message: fmt.Sprintf("%s exited with code %d, restarting in %s", s.cfg.Command[0], code, s.cfg.RestartDelay),
	})
	if err != nil {
		s.log.Warn("crash alert delivery failed", "error", err)
	}
}
