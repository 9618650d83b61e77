package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
)

// launch starts command with args appended, detached into its own process
// group. The child is reaped in the background; its exit status is only
// logged.
func launch(command string, args []string, logger *slog.Logger) (int, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty command")
	}

	cmd := exec.Command(fields[0], append(fields[1:], args...)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", fields[0], err)
	}

	pid := cmd.Process.Pid
	go func() {
		err := cmd.Wait()
		if err != nil {
			logger.Debug("child process exited", "pid", pid, "error", err)
			return
		}
		logger.Debug("child process exited", "pid", pid)
	}()

	return pid, nil
}

// ExecDispatcher starts the worker command locally, one process per call
type ExecDispatcher struct {
	command string
	logger  *slog.Logger
}

func NewExecDispatcher(command string, logger *slog.Logger) *ExecDispatcher {
	return &ExecDispatcher{command: command, logger: logger}
}

// Dispatch returns once the worker process has started
func (d *ExecDispatcher) Dispatch(_ context.Context, transactionID string) error {
	pid, err := launch(d.command, []string{transactionID}, d.logger)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", transactionID, err)
	}

	d.logger.Debug("worker process started",
		"transaction_id", transactionID,
		"pid", pid)
	return nil
}

// ExecTrigger starts the extraction command locally
type ExecTrigger struct {
	command string
	logger  *slog.Logger
}

func NewExecTrigger(command string, logger *slog.Logger) *ExecTrigger {
	return &ExecTrigger{command: command, logger: logger}
}

func (t *ExecTrigger) Trigger(_ context.Context) error {
	pid, err := launch(t.command, nil, t.logger)
	if err != nil {
		return fmt.Errorf("trigger extraction: %w", err)
	}

	t.logger.Debug("extract process started", "pid", pid)
	return nil
}
