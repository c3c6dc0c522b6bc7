package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/testnet-deploy/pkg/command"
)

// ExecChecker probes by running a command; a zero exit is healthy
type ExecChecker struct {
	// Command is the argv to execute (e.g., ["ssh", "-q", "root@10.0.0.1", "bash", "--version"])
	Command []string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration

	// Runner executes the command
	Runner command.Runner
}

// NewExecChecker creates a new exec probe that runs quietly through os/exec
func NewExecChecker(argv []string) *ExecChecker {
	return &ExecChecker{
		Command: argv,
		Timeout: 10 * time.Second,
		Runner:  &command.ExecRunner{},
	}
}

// Check runs the command once
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Healthy:   false,
			Message:   "no command specified",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	output, err := e.Runner.Run(execCtx, command.Cmd{
		Binary: e.Command[0],
		Args:   e.Command[1:],
		Quiet:  true,
	})

	message := fmt.Sprintf("Command: %s", e.Command[0])
	if err != nil {
		message = fmt.Sprintf("%s, Error: %v", message, err)
		return Result{
			Healthy:   false,
			Message:   message,
			Output:    output,
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	if len(output) > 0 {
		first := strings.Join(output, " ")
		if len(first) > 100 {
			first = first[:100] + "..."
		}
		message = fmt.Sprintf("%s, Output: %s", message, first)
	}

	return Result{
		Healthy:   true,
		Message:   message,
		Output:    output,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// WithRunner replaces the command runner
func (e *ExecChecker) WithRunner(runner command.Runner) *ExecChecker {
	e.Runner = runner
	return e
}
