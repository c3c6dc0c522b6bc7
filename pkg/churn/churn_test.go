package churn

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net/netip"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/testnet-deploy/pkg/client"
	"github.com/cuemby/testnet-deploy/pkg/inventory"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

type restart struct {
	daemon netip.AddrPort
	args   client.RestartNodeArgs
}

type fakeNetwork struct {
	mu       sync.Mutex
	running  map[netip.AddrPort][]client.NodeStatus
	restarts []restart
	dials    []netip.AddrPort
	dialErr  error
}

type fakeDaemon struct {
	net  *fakeNetwork
	addr netip.AddrPort
}

func (d *fakeDaemon) RunningNodes(context.Context) ([]client.NodeStatus, error) {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()
	return append([]client.NodeStatus(nil), d.net.running[d.addr]...), nil
}

func (d *fakeDaemon) RestartNodeService(_ context.Context, args client.RestartNodeArgs) error {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()
	d.net.restarts = append(d.net.restarts, restart{daemon: d.addr, args: args})
	return nil
}

func (n *fakeNetwork) dial(_ context.Context, endpoint netip.AddrPort) (Daemon, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dials = append(n.dials, endpoint)
	if n.dialErr != nil {
		return nil, n.dialErr
	}
	return &fakeDaemon{net: n, addr: endpoint}, nil
}

func (n *fakeNetwork) restartedPeers() []string {
	var peers []string
	for _, r := range n.restarts {
		peers = append(peers, r.args.PeerID)
	}
	return peers
}

func running(prefix string, count int) []client.NodeStatus {
	var nodes []client.NodeStatus
	for i := 1; i <= count; i++ {
		nodes = append(nodes, client.NodeStatus{
			Number: i,
			PeerID: prefix + string(rune('0'+i)),
			Status: types.ServiceStatusRunning,
		})
	}
	return nodes
}

func nodeVM(name, ip string, daemonPort uint16) types.NodeVirtualMachine {
	addr := netip.MustParseAddr(ip)
	daemon := netip.AddrPortFrom(addr, daemonPort)
	return types.NodeVirtualMachine{
		VM:             types.VirtualMachine{Name: name, PublicIP: addr},
		NodeCount:      3,
		DaemonEndpoint: &daemon,
		RPCEndpoint: map[string]netip.AddrPort{
			"peer-a": netip.AddrPortFrom(addr, 13001),
			"peer-b": netip.AddrPortFrom(addr, 13002),
		},
	}
}

type fixture struct {
	churner *Churner
	network *fakeNetwork
	sleeps  []time.Duration
	inv     *inventory.DeploymentInventory
	out     *bytes.Buffer
}

func newFixture() *fixture {
	f := &fixture{
		network: &fakeNetwork{running: map[netip.AddrPort][]client.NodeStatus{}},
		out:     &bytes.Buffer{},
	}
	f.inv = &inventory.DeploymentInventory{
		Name: "alpha",
		NodeVMs: []types.NodeVirtualMachine{
			nodeVM("alpha-node-2", "203.0.113.12", 12500),
			nodeVM("alpha-node-1", "203.0.113.11", 12500),
		},
		PeerCacheNodeVMs: []types.NodeVirtualMachine{nodeVM("alpha-peer-cache-node-1", "203.0.113.31", 12500)},
	}
	f.network.running[netip.MustParseAddrPort("203.0.113.11:12500")] = running("a", 3)
	f.network.running[netip.MustParseAddrPort("203.0.113.12:12500")] = running("b", 2)
	f.network.running[netip.MustParseAddrPort("203.0.113.31:12500")] = running("c", 1)

	f.churner = NewChurner("alpha", nil).
		WithDialer(f.network.dial).
		WithSleep(func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		}).
		WithRand(rand.New(rand.NewSource(7))).
		WithOutput(f.out)
	return f
}

func TestDaemonEndpointsAreOrderedAndDistinct(t *testing.T) {
	f := newFixture()
	f.inv.NodeVMs = append(f.inv.NodeVMs, f.inv.NodeVMs[0])

	assert.Equal(t, []netip.AddrPort{
		netip.MustParseAddrPort("203.0.113.11:12500"),
		netip.MustParseAddrPort("203.0.113.12:12500"),
		netip.MustParseAddrPort("203.0.113.31:12500"),
	}, daemonEndpoints(f.inv))
}

func TestFixedInterval(t *testing.T) {
	f := newFixture()

	err := f.churner.FixedInterval(context.Background(), f.inv, FixedIntervalOptions{
		Interval:         time.Minute,
		ConcurrentChurns: 2,
		RetainPeerID:     true,
		RestartDelay:     1500 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a1", "a2", "a3", "b1", "b2", "c1"}, f.network.restartedPeers())
	for _, r := range f.network.restarts {
		assert.True(t, r.args.RetainPeerID)
		assert.Equal(t, uint64(1500), r.args.DelayMillis)
	}
	// a wait follows each full batch: [a1 a2] a3 | [b1 b2] | [c1]
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, f.sleeps)
	assert.Contains(t, f.out.String(), "===== Churn Cycle: 1 =====")
	assert.Contains(t, f.out.String(), "antnode3.service has been restarted. PeerId: a3")
}

func TestFixedIntervalCycles(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.churner.FixedInterval(context.Background(), f.inv, FixedIntervalOptions{
		Interval:         time.Second,
		ConcurrentChurns: 10,
		MaxChurnCycles:   2,
	}))
	assert.Len(t, f.network.restarts, 12)
	assert.Len(t, f.network.dials, 6)
	assert.Contains(t, f.out.String(), "===== Churn Cycle: 2 =====")
}

func TestFixedIntervalDialFailure(t *testing.T) {
	f := newFixture()
	f.network.dialErr = errors.New("connection refused")

	err := f.churner.FixedInterval(context.Background(), f.inv, FixedIntervalOptions{ConcurrentChurns: 1})
	assert.ErrorIs(t, err, f.network.dialErr)
	assert.Empty(t, f.network.restarts)
}

func TestChurnRequiresDaemons(t *testing.T) {
	f := newFixture()
	inv := &inventory.DeploymentInventory{Name: "alpha"}

	assert.ErrorIs(t, f.churner.FixedInterval(context.Background(), inv, FixedIntervalOptions{}), ErrNoDaemons)
	assert.ErrorIs(t, f.churner.RandomInterval(context.Background(), inv, RandomIntervalOptions{ChurnCount: 1, TimeFrame: time.Minute}), ErrNoDaemons)
}

func TestCutPoints(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for _, count := range []int{1, 2, 5, 20} {
		points := CutPoints(r, 60, count)
		require.Len(t, points, count)
		assert.True(t, sort.SliceIsSorted(points, func(i, j int) bool { return points[i] < points[j] }))
		assert.Equal(t, int64(60), points[count-1], "the window is always used in full")
		for _, p := range points {
			assert.GreaterOrEqual(t, p, int64(1))
			assert.LessOrEqual(t, p, int64(60))
		}
	}
}

func TestRandomInterval(t *testing.T) {
	f := newFixture()

	err := f.churner.RandomInterval(context.Background(), f.inv, RandomIntervalOptions{
		TimeFrame:    time.Minute,
		ChurnCount:   4,
		RestartDelay: 2 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a1", "a2", "a3", "b1", "b2", "c1"}, f.network.restartedPeers())
	for _, r := range f.network.restarts {
		assert.Equal(t, uint64(2000), r.args.DelayMillis)
	}
	require.Len(t, f.sleeps, 6)
	var first time.Duration
	for _, d := range f.sleeps[:4] {
		first += d
	}
	assert.Equal(t, time.Minute, first, "the first frame's waits add up to the time frame")
	assert.Contains(t, f.out.String(), "===== Time Frame: 2 =====")
}

func TestRandomIntervalValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	assert.ErrorIs(t, f.churner.RandomInterval(ctx, f.inv, RandomIntervalOptions{TimeFrame: time.Minute}), ErrZeroChurnCount)
	assert.ErrorIs(t, f.churner.RandomInterval(ctx, f.inv, RandomIntervalOptions{TimeFrame: time.Second, ChurnCount: 3}), ErrTimeFrameTooShort)
	assert.Empty(t, f.network.dials)
}

func TestUpdateNodeLogLevels(t *testing.T) {
	f := newFixture()
	broken := netip.MustParseAddrPort("203.0.113.12:13002")
	var mu sync.Mutex
	var updated []netip.AddrPort
	f.churner.WithLogLevelFunc(func(_ context.Context, endpoint netip.AddrPort, levels string) error {
		assert.Equal(t, "all", levels)
		if endpoint == broken {
			return errors.New("connection reset")
		}
		mu.Lock()
		defer mu.Unlock()
		updated = append(updated, endpoint)
		return nil
	})

	summary := f.churner.UpdateNodeLogLevels(context.Background(), f.inv, "all", 2)

	assert.Equal(t, 5, summary.Updated)
	assert.Len(t, updated, 5)
	assert.Equal(t, []netip.AddrPort{broken}, summary.Failed)
	assert.EqualError(t, summary.LastError, "connection reset")
	assert.Contains(t, f.out.String(), "Successfully updated: 5 nodes")
	assert.Contains(t, f.out.String(), "Failed to update: 1 nodes")
}
