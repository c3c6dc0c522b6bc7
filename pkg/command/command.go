package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cuemby/testnet-deploy/pkg/log"
)

// Cmd describes one external process invocation
type Cmd struct {
	// Binary is a name resolved on PATH or an absolute path
	Binary string
	Args   []string
	// Dir is the working directory; empty means the current one
	Dir string
	// Env is appended to the current process environment for this command only
	Env []string
	// Quiet suppresses streaming output to the runner's writers
	Quiet bool
}

func (c Cmd) String() string {
	return strings.TrimSpace(c.Binary + " " + strings.Join(c.Args, " "))
}

// Runner executes external commands and returns their captured stdout lines
type Runner interface {
	Run(ctx context.Context, cmd Cmd) ([]string, error)
}

// ExternalCommandRunFailedError is returned when a command exits non-zero
type ExternalCommandRunFailedError struct {
	Binary     string
	ExitStatus int
	// Output holds the stdout lines and Stderr the stderr lines
	Output []string
	Stderr []string
	Err    error
}

func (e *ExternalCommandRunFailedError) Error() string {
	return fmt.Sprintf("failed to run %s: exit status %d", e.Binary, e.ExitStatus)
}

func (e *ExternalCommandRunFailedError) Unwrap() error {
	return e.Err
}

// ToolBinaryNotFoundError is returned when a required tool is not installed
type ToolBinaryNotFoundError struct {
	Binary string
}

func (e *ToolBinaryNotFoundError) Error() string {
	return fmt.Sprintf("could not find the %s binary on the PATH", e.Binary)
}

// LookupBinary resolves name on PATH, or checks an explicit path exists
func LookupBinary(name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", &ToolBinaryNotFoundError{Binary: name}
		}
		return name, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", &ToolBinaryNotFoundError{Binary: name}
	}
	return path, nil
}

// ExecRunner runs commands with os/exec, streaming stdout and stderr lines
// to its writers while capturing them. Only stdout is returned; stderr
// reaches callers through ExternalCommandRunFailedError.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecRunner creates a runner that streams to the process stdout/stderr
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the command and returns its stdout lines. On a non-zero exit
// both streams are attached to the returned ExternalCommandRunFailedError.
func (r *ExecRunner) Run(ctx context.Context, c Cmd) ([]string, error) {
	logger := log.WithComponent("command")
	logger.Debug().
		Str("binary", c.Binary).
		Strs("args", c.Args).
		Str("dir", c.Dir).
		Msg("Running external command")

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &ToolBinaryNotFoundError{Binary: c.Binary}
		}
		return nil, fmt.Errorf("failed to start %s: %w", c.Binary, err)
	}

	var outLines, errLines []string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outLines = r.collect(stdout, r.Stdout, c.Quiet)
	}()
	go func() {
		defer wg.Done()
		errLines = r.collect(stderr, r.Stderr, c.Quiet)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		exitStatus := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitStatus = exitErr.ExitCode()
		}
		logger.Debug().Str("binary", c.Binary).Int("exit_status", exitStatus).Msg("External command failed")
		return outLines, &ExternalCommandRunFailedError{
			Binary:     c.Binary,
			ExitStatus: exitStatus,
			Output:     outLines,
			Stderr:     errLines,
			Err:        err,
		}
	}
	return outLines, nil
}

func (r *ExecRunner) collect(src io.Reader, dst io.Writer, quiet bool) []string {
	var lines []string
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !quiet && dst != nil {
			fmt.Fprintln(dst, line)
		}
		lines = append(lines, line)
	}
	return lines
}
