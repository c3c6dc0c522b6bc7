package ssh

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/testnet-deploy/pkg/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func failure() command.Response {
	return command.Response{Err: &command.ExternalCommandRunFailedError{Binary: "ssh", ExitStatus: 255}}
}

func TestWaitForSSHAvailabilityRetries(t *testing.T) {
	runner := command.NewFakeRunner().
		On("ssh", failure()).
		On("ssh", failure()).
		On("ssh", command.Response{Output: []string{"GNU bash"}})
	var out bytes.Buffer
	client := NewClient("/keys/id_rsa", runner).WithPolling(10, 5*time.Second, noSleep).WithOutput(&out)

	err := client.WaitForSSHAvailability(context.Background(), netip.MustParseAddr("203.0.113.4"), "root")
	require.NoError(t, err)
	assert.Len(t, runner.Calls, 3)
	assert.Contains(t, out.String(), "Checking for SSH availability at 203.0.113.4")
	assert.Contains(t, out.String(), "SSH is still unavailable after 2 attempts.")
	assert.Contains(t, out.String(), "Will sleep for 5 seconds then retry.")
	assert.Contains(t, out.String(), "SSH is available.")

	args := strings.Join(runner.Calls[0].Args, " ")
	assert.Contains(t, args, "-o BatchMode=yes")
	assert.Contains(t, args, "-o ConnectTimeout=5")
	assert.Contains(t, args, "-o StrictHostKeyChecking=no")
	assert.True(t, strings.HasSuffix(args, "root@203.0.113.4 bash --version"))
}

func TestWaitForSSHAvailabilityGivesUp(t *testing.T) {
	runner := command.NewFakeRunner().On("ssh", failure())
	client := NewClient("/keys/id_rsa", runner).WithPolling(10, 5*time.Second, noSleep).WithOutput(&bytes.Buffer{})

	err := client.WaitForSSHAvailability(context.Background(), netip.MustParseAddr("203.0.113.4"), "root")
	assert.ErrorIs(t, err, ErrSSHUnavailable)
	assert.Len(t, runner.Calls, 10)
}

func TestRunCommandThroughGateway(t *testing.T) {
	runner := command.NewFakeRunner().On("ssh", command.Response{Output: []string{"3"}})
	gateway := netip.MustParseAddr("203.0.113.1")
	private := netip.MustParseAddr("10.0.0.9")
	routes := RoutingTable{}.RouteThroughGateway(gateway, private)
	client := NewClient("/keys/id_rsa", runner).WithRoutes(routes)

	out, err := client.RunCommand(context.Background(), private, "root", "systemctl list-units | wc -l", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, out)

	args := runner.Calls[0].Args
	assert.Contains(t, args, `ProxyCommand=ssh -p 22 -W %h:%p -q root@203.0.113.1 -i "/keys/id_rsa"`)
	assert.Equal(t, "systemctl list-units | wc -l", args[len(args)-1])
	assert.True(t, runner.Calls[0].Quiet)
}

func TestRunCommandFailure(t *testing.T) {
	runner := command.NewFakeRunner().On("ssh", failure())
	client := NewClient("/keys/id_rsa", runner)

	_, err := client.RunCommand(context.Background(), netip.MustParseAddr("203.0.113.4"), "root", "false", false)
	var cmdErr *CommandFailedError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "false", cmdErr.Command)

	var runErr *command.ExternalCommandRunFailedError
	assert.True(t, errors.As(err, &runErr))
}

func TestRoutingTableIsAValue(t *testing.T) {
	gateway := netip.MustParseAddr("203.0.113.1")
	host := netip.MustParseAddr("10.0.0.9")

	empty := RoutingTable{}
	routed := empty.RouteThroughGateway(gateway, host)

	_, ok := empty.GatewayFor(host)
	assert.False(t, ok)
	gw, ok := routed.GatewayFor(host)
	assert.True(t, ok)
	assert.Equal(t, gateway, gw)
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, 1, routed.Len())
}
