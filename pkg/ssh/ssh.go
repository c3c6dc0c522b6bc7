package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/cuemby/testnet-deploy/pkg/command"
	"github.com/cuemby/testnet-deploy/pkg/health"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/metrics"
)

const (
	// DefaultAttempts bounds the availability poll
	DefaultAttempts = 10
	// DefaultInterval is the wait between availability probes
	DefaultInterval = 5 * time.Second
	// ConnectTimeout is passed to ssh as ConnectTimeout, in seconds
	ConnectTimeout = 5
)

// ErrSSHUnavailable is returned when a VM never answered SSH within the poll budget
var ErrSSHUnavailable = errors.New("SSH is unavailable")

// CommandFailedError is returned when a remote command exits non-zero
type CommandFailedError struct {
	Host    netip.Addr
	Command string
	Err     error
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("failed to run command %q on %s: %v", e.Command, e.Host, e.Err)
}

func (e *CommandFailedError) Unwrap() error {
	return e.Err
}

// Executor is the SSH surface the orchestration packages consume
type Executor interface {
	WaitForSSHAvailability(ctx context.Context, ip netip.Addr, user string) error
	RunCommand(ctx context.Context, ip netip.Addr, user, cmd string, quiet bool) ([]string, error)
	// Routed returns an executor that reaches hosts through the gateways in routes
	Routed(routes RoutingTable) Executor
}

// Client shells out to the ssh binary. Hosts listed in its RoutingTable are
// reached through their NAT gateway with a ProxyCommand.
type Client struct {
	PrivateKeyPath string

	runner   command.Runner
	routes   RoutingTable
	attempts int
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	out      io.Writer
}

// NewClient creates a client that authenticates with privateKeyPath
func NewClient(privateKeyPath string, runner command.Runner) *Client {
	return &Client{
		PrivateKeyPath: privateKeyPath,
		runner:         runner,
		attempts:       DefaultAttempts,
		interval:       DefaultInterval,
		sleep:          health.SleepContext,
		out:            os.Stdout,
	}
}

// WithRoutes returns a copy of the client that uses routes
func (c *Client) WithRoutes(routes RoutingTable) *Client {
	clone := *c
	clone.routes = routes
	return &clone
}

// WithPolling returns a copy of the client with a different availability budget
func (c *Client) WithPolling(attempts int, interval time.Duration, sleep func(context.Context, time.Duration) error) *Client {
	clone := *c
	clone.attempts = attempts
	clone.interval = interval
	if sleep != nil {
		clone.sleep = sleep
	}
	return &clone
}

// WithOutput returns a copy of the client that prints progress to w
func (c *Client) WithOutput(w io.Writer) *Client {
	clone := *c
	clone.out = w
	return &clone
}

// Routed implements Executor
func (c *Client) Routed(routes RoutingTable) Executor {
	return c.WithRoutes(routes)
}

// Routes returns the client's routing table
func (c *Client) Routes() RoutingTable {
	return c.routes
}

func (c *Client) baseArgs(ip netip.Addr, user string) []string {
	args := []string{
		"-i", c.PrivateKeyPath,
		"-q",
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", ConnectTimeout),
		"-o", "StrictHostKeyChecking=no",
	}
	if gateway, ok := c.routes.GatewayFor(ip); ok {
		args = append(args, "-o", ProxyCommand(gateway, c.PrivateKeyPath))
	}
	return append(args, fmt.Sprintf("%s@%s", user, ip))
}

// WaitForSSHAvailability polls the VM with `bash --version` until SSH answers
func (c *Client) WaitForSSHAvailability(ctx context.Context, ip netip.Addr, user string) error {
	fmt.Fprintf(c.out, "Checking for SSH availability at %s...\n", ip)

	argv := append([]string{"ssh"}, c.baseArgs(ip, user)...)
	argv = append(argv, "bash", "--version")
	checker := health.NewExecChecker(argv).
		WithRunner(c.runner).
		WithTimeout(time.Duration(ConnectTimeout+5) * time.Second)

	_, err := health.Poll(ctx, checker, health.PollConfig{
		Attempts: c.attempts,
		Interval: c.interval,
		Sleep:    c.sleep,
		OnFailure: func(attempt int, _ health.Result) {
			metrics.SSHChecksTotal.WithLabelValues(metrics.ResultFailure).Inc()
			fmt.Fprintf(c.out, "SSH is still unavailable after %d attempts.\n", attempt)
			if attempt < c.attempts {
				fmt.Fprintf(c.out, "Will sleep for %d seconds then retry.\n", int(c.interval.Seconds()))
			}
		},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger := log.WithComponent("ssh")
		logger.Warn().Str("ip", ip.String()).Msg("SSH did not become available")
		return fmt.Errorf("%w at %s after %d attempts", ErrSSHUnavailable, ip, c.attempts)
	}

	metrics.SSHChecksTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	fmt.Fprintln(c.out, "SSH is available.")
	return nil
}

// RunCommand runs cmd on the VM and returns its output lines
func (c *Client) RunCommand(ctx context.Context, ip netip.Addr, user, cmd string, quiet bool) ([]string, error) {
	logger := log.WithComponent("ssh")
	logger.Debug().
		Str("ip", ip.String()).
		Str("user", user).
		Str("command", cmd).
		Msg("Running remote command")

	args := append(c.baseArgs(ip, user), cmd)
	output, err := c.runner.Run(ctx, command.Cmd{
		Binary: "ssh",
		Args:   args,
		Quiet:  quiet,
	})
	if err != nil {
		return output, &CommandFailedError{Host: ip, Command: cmd, Err: err}
	}
	return output, nil
}
