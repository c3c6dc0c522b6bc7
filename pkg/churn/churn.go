package churn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/netip"
	"os"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/testnet-deploy/pkg/client"
	"github.com/cuemby/testnet-deploy/pkg/events"
	"github.com/cuemby/testnet-deploy/pkg/health"
	"github.com/cuemby/testnet-deploy/pkg/inventory"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/metrics"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

// MaxConcurrentRPCRequests bounds the status queries sent at once
const MaxConcurrentRPCRequests = 10

var (
	// ErrZeroChurnCount is returned for a random-interval churn of no nodes
	ErrZeroChurnCount = errors.New("churn count cannot be 0")
	// ErrTimeFrameTooShort is returned when random cut points cannot fit in the time frame
	ErrTimeFrameTooShort = errors.New("the time frame must be at least 2 seconds to churn more than one node")
	// ErrNoDaemons is returned when no node VM has a daemon endpoint
	ErrNoDaemons = errors.New("no node manager daemon endpoints in the inventory")
)

// Daemon is the part of the node manager daemon API churn needs
type Daemon interface {
	RunningNodes(ctx context.Context) ([]client.NodeStatus, error)
	RestartNodeService(ctx context.Context, args client.RestartNodeArgs) error
}

// DialFunc connects to the daemon at endpoint
type DialFunc func(ctx context.Context, endpoint netip.AddrPort) (Daemon, error)

// LogLevelFunc sets the log levels of the node whose RPC endpoint is given
type LogLevelFunc func(ctx context.Context, endpoint netip.AddrPort, levels string) error

// DialDaemon connects with client.ConnectDaemon
func DialDaemon(ctx context.Context, endpoint netip.AddrPort) (Daemon, error) {
	return client.ConnectDaemon(ctx, endpoint)
}

// SetLogLevel updates one node with a client.NodeClient
func SetLogLevel(ctx context.Context, endpoint netip.AddrPort, levels string) error {
	return client.NewNodeClient(endpoint).UpdateLogLevel(ctx, levels)
}

// Churner restarts node services across a deployment
type Churner struct {
	environment string
	dial        DialFunc
	setLogLevel LogLevelFunc
	sleep       func(context.Context, time.Duration) error
	rand        *rand.Rand
	events      *events.Broker
	out         io.Writer
}

// NewChurner creates a churner for the named environment that talks to
// daemons and nodes over JSON-RPC
func NewChurner(environment string, broker *events.Broker) *Churner {
	return &Churner{
		environment: environment,
		dial:        DialDaemon,
		setLogLevel: SetLogLevel,
		sleep:       health.SleepContext,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		events:      broker,
		out:         os.Stdout,
	}
}

// WithDialer replaces how daemons are reached
func (c *Churner) WithDialer(dial DialFunc) *Churner {
	c.dial = dial
	return c
}

// WithLogLevelFunc replaces how node log levels are set
func (c *Churner) WithLogLevelFunc(f LogLevelFunc) *Churner {
	c.setLogLevel = f
	return c
}

// WithSleep replaces the wait between restarts
func (c *Churner) WithSleep(sleep func(context.Context, time.Duration) error) *Churner {
	c.sleep = sleep
	return c
}

// WithRand sets the source of the random intervals
func (c *Churner) WithRand(r *rand.Rand) *Churner {
	c.rand = r
	return c
}

// WithOutput sets where progress is printed
func (c *Churner) WithOutput(w io.Writer) *Churner {
	c.out = w
	return c
}

// FixedIntervalOptions configure a fixed-interval churn
type FixedIntervalOptions struct {
	// Interval is the wait after each batch of restarts on a VM
	Interval time.Duration
	// ConcurrentChurns is the number of nodes restarted on a VM before waiting
	ConcurrentChurns int
	RetainPeerID     bool
	MaxChurnCycles   int
	// RestartDelay is passed to the daemon, which waits that long before each restart
	RestartDelay time.Duration
}

// RandomIntervalOptions configure a random-interval churn
type RandomIntervalOptions struct {
	// TimeFrame is the window ChurnCount nodes are restarted in
	TimeFrame      time.Duration
	ChurnCount     int
	RetainPeerID   bool
	MaxChurnCycles int
	// RestartDelay is passed to the daemon, which waits that long before each restart
	RestartDelay time.Duration
}

// daemonEndpoints returns the distinct daemon endpoints of the generic and
// peer cache node VMs, in address order
func daemonEndpoints(inv *inventory.DeploymentInventory) []netip.AddrPort {
	var endpoints []netip.AddrPort
	for _, vms := range [][]types.NodeVirtualMachine{inv.NodeVMs, inv.PeerCacheNodeVMs} {
		for _, vm := range vms {
			if vm.DaemonEndpoint != nil {
				endpoints = append(endpoints, *vm.DaemonEndpoint)
			}
		}
	}
	slices.SortFunc(endpoints, func(a, b netip.AddrPort) int { return a.Compare(b) })
	return slices.Compact(endpoints)
}

func (c *Churner) restart(ctx context.Context, daemon Daemon, endpoint netip.AddrPort, node client.NodeStatus, retain bool, delay time.Duration) error {
	err := daemon.RestartNodeService(ctx, client.RestartNodeArgs{
		PeerID:       node.PeerID,
		DelayMillis:  uint64(delay.Milliseconds()),
		RetainPeerID: retain,
	})
	metrics.NodeRestartsTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return err
	}
	c.events.Publish(&events.Event{
		Type:        events.EventNodeRestarted,
		Environment: c.environment,
		Message:     fmt.Sprintf("antnode%d restarted", node.Number),
		Metadata:    map[string]string{"peer_id": node.PeerID, "daemon": endpoint.String()},
	})
	return nil
}

// FixedInterval restarts the running nodes of one VM at a time, waiting
// opts.Interval after every opts.ConcurrentChurns restarts. Restarts on a
// VM are issued one after another since the daemon does not serialise
// registry writes.
func (c *Churner) FixedInterval(ctx context.Context, inv *inventory.DeploymentInventory, opts FixedIntervalOptions) error {
	endpoints := daemonEndpoints(inv)
	if len(endpoints) == 0 {
		return ErrNoDaemons
	}
	cycles := max(opts.MaxChurnCycles, 1)
	logger := log.WithEnvironment(c.environment)
	logger.Info().
		Int("daemons", len(endpoints)).
		Dur("interval", opts.Interval).
		Int("concurrent_churns", opts.ConcurrentChurns).
		Msg("Starting fixed interval churn")

	fmt.Fprintln(c.out, "===== Configurations =====")
	fmt.Fprintf(c.out, "Restarting %d node(s) per VM every %s over %d cycle(s)\n", opts.ConcurrentChurns, opts.Interval, cycles)

	for cycle := 1; cycle <= cycles; cycle++ {
		fmt.Fprintf(c.out, "===== Churn Cycle: %d =====\n", cycle)
		for _, endpoint := range endpoints {
			fmt.Fprintf(c.out, "===== Restarting nodes @ %s =====\n", endpoint.Addr())
			daemon, err := c.dial(ctx, endpoint)
			if err != nil {
				return err
			}
			running, err := daemon.RunningNodes(ctx)
			if err != nil {
				return err
			}
			batch := min(max(opts.ConcurrentChurns, 1), len(running))

			inBatch := 0
			for _, node := range running {
				if err := c.restart(ctx, daemon, endpoint, node, opts.RetainPeerID, opts.RestartDelay); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "antnode%d.service has been restarted. PeerId: %s\n", node.Number, node.PeerID)

				inBatch++
				if inBatch >= batch {
					fmt.Fprintf(c.out, "Sleeping %s before churning.\n", opts.Interval)
					if err := c.sleep(ctx, opts.Interval); err != nil {
						return err
					}
					inBatch = 0
				}
			}
		}
	}
	return nil
}

// runningNode is a node service together with the daemon managing it
type runningNode struct {
	endpoint netip.AddrPort
	node     client.NodeStatus
}

// allRunningNodes queries every daemon, at most MaxConcurrentRPCRequests at
// a time, and returns their running nodes in endpoint order
func (c *Churner) allRunningNodes(ctx context.Context, endpoints []netip.AddrPort) ([]runningNode, error) {
	perDaemon := make([][]runningNode, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentRPCRequests)
	for i, endpoint := range endpoints {
		g.Go(func() error {
			daemon, err := c.dial(gctx, endpoint)
			if err != nil {
				return err
			}
			running, err := daemon.RunningNodes(gctx)
			if err != nil {
				return err
			}
			for _, node := range running {
				perDaemon[i] = append(perDaemon[i], runningNode{endpoint: endpoint, node: node})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var all []runningNode
	for _, nodes := range perDaemon {
		all = append(all, nodes...)
	}
	return all, nil
}

// CutPoints returns count offsets, in whole seconds, within a window of
// timeFrame seconds: count-1 random points in [1, timeFrame) plus the end of
// the window, sorted ascending
func CutPoints(r *rand.Rand, timeFrame int64, count int) []int64 {
	points := make([]int64, 0, count)
	points = append(points, timeFrame)
	for i := 0; i < count-1; i++ {
		points = append(points, 1+r.Int63n(timeFrame-1))
	}
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })
	return points
}

// RandomInterval restarts opts.ChurnCount nodes in every time frame, at
// random offsets within it. The running nodes are re-read each cycle since
// peer IDs change when they are not retained.
func (c *Churner) RandomInterval(ctx context.Context, inv *inventory.DeploymentInventory, opts RandomIntervalOptions) error {
	if opts.ChurnCount <= 0 {
		return ErrZeroChurnCount
	}
	timeFrame := int64(opts.TimeFrame / time.Second)
	if opts.ChurnCount > 1 && timeFrame < 2 {
		return ErrTimeFrameTooShort
	}
	if timeFrame < 1 {
		timeFrame = 1
	}
	endpoints := daemonEndpoints(inv)
	if len(endpoints) == 0 {
		return ErrNoDaemons
	}
	cycles := max(opts.MaxChurnCycles, 1)

	totalNodes := max(len(inv.Peers())-1, 0)
	frames := (totalNodes + opts.ChurnCount - 1) / opts.ChurnCount
	fmt.Fprintln(c.out, "===== Configurations =====")
	fmt.Fprintf(c.out, "Initializing churn of %d nodes every %s.\n", opts.ChurnCount, opts.TimeFrame)
	fmt.Fprintf(c.out, "This can take %s for all %d nodes. We perform %d such churn cycle(s)\n",
		time.Duration(int64(frames)*timeFrame)*time.Second, totalNodes, cycles)

	for cycle := 1; cycle <= cycles; cycle++ {
		fmt.Fprintf(c.out, "===== Churn Cycle: %d =====\n", cycle)
		running, err := c.allRunningNodes(ctx, endpoints)
		if err != nil {
			return err
		}

		for frame, batch := range slices.Collect(slices.Chunk(running, opts.ChurnCount)) {
			fmt.Fprintf(c.out, "===== Time Frame: %d =====\n", frame+1)
			points := CutPoints(c.rand, timeFrame, opts.ChurnCount)
			fmt.Fprintf(c.out, "%v\n", points)

			var previous int64
			var daemon Daemon
			var daemonAddr netip.AddrPort
			for i, rn := range batch {
				if daemon == nil || daemonAddr != rn.endpoint {
					if daemon, err = c.dial(ctx, rn.endpoint); err != nil {
						return err
					}
					daemonAddr = rn.endpoint
				}
				if err := c.restart(ctx, daemon, rn.endpoint, rn.node, opts.RetainPeerID, opts.RestartDelay); err != nil {
					return err
				}
				wait := time.Duration(points[i]-previous) * time.Second
				fmt.Fprintf(c.out, "antnode%d.service @ %s has been restarted. PeerId: %s\n", rn.node.Number, rn.endpoint, rn.node.PeerID)
				fmt.Fprintf(c.out, "Sleeping for %s before restarting the next node.\n", wait)
				if err := c.sleep(ctx, wait); err != nil {
					return err
				}
				previous = points[i]
			}
		}
	}
	return nil
}

// LogLevelSummary reports the outcome of a log level update
type LogLevelSummary struct {
	Updated   int
	Failed    []netip.AddrPort
	LastError error
}

// UpdateNodeLogLevels sets the log levels of every generic and peer cache
// node, at most concurrency at a time. Failures are collected rather than
// stopping the update.
func (c *Churner) UpdateNodeLogLevels(ctx context.Context, inv *inventory.DeploymentInventory, levels string, concurrency int) LogLevelSummary {
	var endpoints []netip.AddrPort
	for _, vms := range [][]types.NodeVirtualMachine{inv.PeerCacheNodeVMs, inv.NodeVMs} {
		for _, vm := range vms {
			for _, endpoint := range vm.RPCEndpoint {
				endpoints = append(endpoints, endpoint)
			}
		}
	}
	slices.SortFunc(endpoints, func(a, b netip.AddrPort) int { return a.Compare(b) })

	results := make([]error, len(endpoints))
	var g errgroup.Group
	g.SetLimit(max(concurrency, 1))
	for i, endpoint := range endpoints {
		g.Go(func() error {
			results[i] = c.setLogLevel(ctx, endpoint, levels)
			return nil
		})
	}
	_ = g.Wait()

	var summary LogLevelSummary
	for i, err := range results {
		if err != nil {
			summary.Failed = append(summary.Failed, endpoints[i])
			summary.LastError = err
			continue
		}
		summary.Updated++
	}

	fmt.Fprintln(c.out, "==== Update Log Levels Summary ====")
	fmt.Fprintf(c.out, "Successfully updated: %d nodes\n", summary.Updated)
	if len(summary.Failed) > 0 {
		fmt.Fprintf(c.out, "Failed to update: %d nodes\n", len(summary.Failed))
		fmt.Fprintf(c.out, "Last error: %v\n", summary.LastError)
	}
	return summary
}
