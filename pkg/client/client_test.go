package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	gorillarpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/testnet-deploy/pkg/types"
)

type fakeDaemon struct {
	mu       sync.Mutex
	nodes    []NodeStatus
	restarts []RestartNodeArgs
	failWith error
}

func (d *fakeDaemon) GetStatus(_ *http.Request, _ *StatusArgs, reply *StatusReply) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	reply.Nodes = append([]NodeStatus(nil), d.nodes...)
	return nil
}

func (d *fakeDaemon) RestartNodeService(_ *http.Request, args *RestartNodeArgs, _ *Reply) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	d.restarts = append(d.restarts, *args)
	return nil
}

type fakeNode struct {
	mu     sync.Mutex
	levels []string
}

func (n *fakeNode) UpdateLogLevel(_ *http.Request, args *LogLevelArgs, _ *Reply) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.levels = append(n.levels, args.LogLevels)
	return nil
}

// serve starts a TLS JSON-RPC server for receiver and returns its address
// and the client option that trusts its certificate
func serve(t *testing.T, name string, receiver any) (netip.AddrPort, Option) {
	t.Helper()
	server := gorillarpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	require.NoError(t, server.RegisterService(receiver, name))
	ts := httptest.NewTLSServer(server)
	t.Cleanup(ts.Close)
	return netip.MustParseAddrPort(strings.TrimPrefix(ts.URL, "https://")), WithHTTPClient(ts.Client())
}

func TestDaemonClient(t *testing.T) {
	daemon := &fakeDaemon{nodes: []NodeStatus{
		{Number: 1, PeerID: "12D3KooWA", Status: types.ServiceStatusRunning},
		{Number: 2, PeerID: "12D3KooWB", Status: types.ServiceStatusStopped},
		{Number: 3, PeerID: "12D3KooWC", Status: types.ServiceStatusRunning},
	}}
	addr, trust := serve(t, "AntCtl", daemon)
	ctx := context.Background()

	c, err := ConnectDaemon(ctx, addr, trust)
	require.NoError(t, err)
	assert.Equal(t, addr, c.Addr())

	status, err := c.GetStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, status.Nodes, 3)

	running, err := c.RunningNodes(ctx)
	require.NoError(t, err)
	require.Len(t, running, 2)
	assert.Equal(t, 1, running[0].Number)
	assert.Equal(t, "12D3KooWC", running[1].PeerID)

	args := RestartNodeArgs{PeerID: "12D3KooWA", DelayMillis: 1500, RetainPeerID: true}
	require.NoError(t, c.RestartNodeService(ctx, args))
	assert.Equal(t, []RestartNodeArgs{args}, daemon.restarts)
}

func TestRunningNodesRequiresPeerID(t *testing.T) {
	daemon := &fakeDaemon{nodes: []NodeStatus{{Number: 4, Status: types.ServiceStatusRunning}}}
	addr, trust := serve(t, "AntCtl", daemon)
	c, err := ConnectDaemon(context.Background(), addr, trust)
	require.NoError(t, err)

	_, err = c.RunningNodes(context.Background())
	assert.ErrorIs(t, err, ErrPeerIDNotSet)
}

func TestRestartNodeServiceError(t *testing.T) {
	daemon := &fakeDaemon{failWith: errors.New("node not found")}
	addr, trust := serve(t, "AntCtl", daemon)
	c, err := ConnectDaemon(context.Background(), addr, trust)
	require.NoError(t, err)

	err = c.RestartNodeService(context.Background(), RestartNodeArgs{PeerID: "12D3KooWZ"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node not found")
	assert.Contains(t, err.Error(), "12D3KooWZ")
}

func TestConnectDaemonRetries(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := netip.MustParseAddrPort(l.Addr().String())
	require.NoError(t, l.Close())

	var sleeps []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	_, err = ConnectDaemon(context.Background(), addr, WithConnectRetry(3, time.Second, sleep))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "even after 3 retries")
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeps)
}

func TestNodeClientUpdateLogLevel(t *testing.T) {
	node := &fakeNode{}
	addr, trust := serve(t, "Node", node)
	c := NewNodeClient(addr, trust)

	require.NoError(t, c.UpdateLogLevel(context.Background(), "libp2p=debug,ant_node=trace"))
	assert.Equal(t, []string{"libp2p=debug,ant_node=trace"}, node.levels)
}

func TestNodeClientUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := netip.MustParseAddrPort(strings.TrimPrefix(ts.URL, "http://"))
	ts.Close()

	err := NewNodeClient(addr).UpdateLogLevel(context.Background(), "all")
	assert.Error(t, err)
}

func TestEndpointScheme(t *testing.T) {
	addr := netip.MustParseAddrPort("203.0.113.11:12500")

	assert.Equal(t, "https://203.0.113.11:12500/", NewNodeClient(addr).url)
	assert.Equal(t, "http://203.0.113.11:12500/", NewNodeClient(addr, WithScheme("http")).url)
}

func TestPlainHTTPServerRejectedByDefault(t *testing.T) {
	ts := httptest.NewServer(gorillarpc.NewServer())
	t.Cleanup(ts.Close)
	addr := netip.MustParseAddrPort(strings.TrimPrefix(ts.URL, "http://"))

	err := NewNodeClient(addr).UpdateLogLevel(context.Background(), "all")
	assert.Error(t, err)
}
