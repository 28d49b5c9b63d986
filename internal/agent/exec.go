package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"deployflow/internal/models"
)

const executionTimeout = 10 * time.Minute

// Executor runs one action payload and reports its exit code and output.
type Executor interface {
	Execute(ctx context.Context, actionType, payload string) (exitCode int, output string, err error)
}

// ShellExecutor runs payloads through the local shell: bash for bash
// action types, PowerShell for powershell types.
type ShellExecutor struct{}

func (ShellExecutor) Execute(ctx context.Context, actionType, payload string) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, executionTimeout)
	defer cancel()

	var cmd *exec.Cmd
	switch actionType {
	case models.ActionTypeBashInline, models.ActionTypeBashScript:
		cmd = exec.CommandContext(ctx, "bash", "-c", payload)
	case models.ActionTypePowershellInline, models.ActionTypePowershellScript:
		shell := "pwsh"
		if runtime.GOOS == "windows" {
			shell = "powershell"
		}
		cmd = exec.CommandContext(ctx, shell, "-NoProfile", "-NonInteractive", "-Command", payload)
	default:
		return -1, "", fmt.Errorf("action type %q is not executable on this agent", actionType)
	}

	out, err := cmd.CombinedOutput()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return -1, string(out), err
		}
	}
	return exitCode, string(out), nil
}
