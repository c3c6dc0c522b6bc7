package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/rpc/v2/json2"

	"github.com/cuemby/testnet-deploy/pkg/health"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

const (
	// ConnectAttempts is how many times a daemon connection is tried
	ConnectAttempts = 10
	// ConnectInterval is the wait between connection attempts
	ConnectInterval = time.Second

	// DefaultScheme is the URL scheme daemon and node endpoints are reached with
	DefaultScheme = "https"

	requestTimeout = 30 * time.Second
)

// ErrPeerIDNotSet is returned when a running node reports no peer ID
var ErrPeerIDNotSet = errors.New("peer ID has not been set")

// StatusArgs are the parameters of AntCtl.GetStatus
type StatusArgs struct{}

// NodeStatus is one node service as reported by the daemon
type NodeStatus struct {
	Number int                 `json:"number"`
	PeerID string              `json:"peer_id,omitempty"`
	Status types.ServiceStatus `json:"status"`
}

// StatusReply is the daemon's view of the node services on its VM
type StatusReply struct {
	Nodes []NodeStatus `json:"nodes"`
}

// RestartNodeArgs are the parameters of AntCtl.RestartNodeService
type RestartNodeArgs struct {
	PeerID       string `json:"peer_id"`
	DelayMillis  uint64 `json:"delay_millis"`
	RetainPeerID bool   `json:"retain_peer_id"`
}

// LogLevelArgs are the parameters of Node.UpdateLogLevel
type LogLevelArgs struct {
	LogLevels string `json:"log_levels"`
}

// Reply is the empty result of calls that only report success
type Reply struct{}

// Option configures a client
type Option func(*options)

type options struct {
	httpClient *http.Client
	scheme     string
	attempts   int
	interval   time.Duration
	sleep      func(context.Context, time.Duration) error
}

func newOptions(opts []Option) *options {
	o := &options{
		httpClient: &http.Client{Timeout: requestTimeout},
		scheme:     DefaultScheme,
		attempts:   ConnectAttempts,
		interval:   ConnectInterval,
		sleep:      health.SleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithHTTPClient sets the HTTP client requests are sent with
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithScheme sets the URL scheme of the endpoint, "https" unless changed
func WithScheme(scheme string) Option {
	return func(o *options) { o.scheme = scheme }
}

// WithConnectRetry bounds the connection attempts made by ConnectDaemon
func WithConnectRetry(attempts int, interval time.Duration, sleep func(context.Context, time.Duration) error) Option {
	return func(o *options) {
		o.attempts = attempts
		o.interval = interval
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// endpoint sends JSON-RPC 2.0 requests to one socket address
type endpoint struct {
	addr netip.AddrPort
	url  string
	http *http.Client
}

func newEndpoint(addr netip.AddrPort, o *options) endpoint {
	return endpoint{addr: addr, url: fmt.Sprintf("%s://%s/", o.scheme, addr), http: o.httpClient}
}

func (e endpoint) call(ctx context.Context, method string, params, reply any) error {
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s at %s: %w", method, e.addr, err)
	}
	defer cleanlyCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to call %s at %s: received status code %d", method, e.addr, resp.StatusCode)
	}
	if err := json2.DecodeClientResponse(resp.Body, reply); err != nil {
		return fmt.Errorf("failed to call %s at %s: %w", method, e.addr, err)
	}
	return nil
}

// cleanlyCloseBody drains the body so the connection can be reused
func cleanlyCloseBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// DaemonClient talks to the node manager daemon on one VM
type DaemonClient struct {
	endpoint
}

// ConnectDaemon waits for the daemon at addr to accept connections and
// returns a client for it. The connection is tried ConnectAttempts times,
// ConnectInterval apart.
func ConnectDaemon(ctx context.Context, addr netip.AddrPort, opts ...Option) (*DaemonClient, error) {
	o := newOptions(opts)
	checker := health.NewTCPCheckerAddrPort(addr).WithTimeout(5 * time.Second)
	_, err := health.Poll(ctx, checker, health.PollConfig{
		Attempts: o.attempts,
		Interval: o.interval,
		Sleep:    o.sleep,
		OnFailure: func(attempt int, _ health.Result) {
			fmt.Printf("Could not connect to rpc %s. Attempts: %d/%d\n", addr, attempt, o.attempts)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s even after %d retries: %w", addr, o.attempts, err)
	}
	return &DaemonClient{endpoint: newEndpoint(addr, o)}, nil
}

// Addr returns the daemon's socket address
func (c *DaemonClient) Addr() netip.AddrPort {
	return c.addr
}

// GetStatus returns every node service the daemon manages
func (c *DaemonClient) GetStatus(ctx context.Context) (*StatusReply, error) {
	var reply StatusReply
	if err := c.call(ctx, "AntCtl.GetStatus", &StatusArgs{}, &reply); err != nil {
		return nil, fmt.Errorf("failed to get status from %s: %w", c.addr, err)
	}
	return &reply, nil
}

// RunningNodes returns the running node services in the daemon's order
func (c *DaemonClient) RunningNodes(ctx context.Context) ([]NodeStatus, error) {
	status, err := c.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	var running []NodeStatus
	for _, node := range status.Nodes {
		if node.Status != types.ServiceStatusRunning {
			continue
		}
		if node.PeerID == "" {
			return nil, fmt.Errorf("%w: node %d at %s", ErrPeerIDNotSet, node.Number, c.addr)
		}
		running = append(running, node)
	}
	return running, nil
}

// RestartNodeService restarts the node service with the given peer ID
func (c *DaemonClient) RestartNodeService(ctx context.Context, args RestartNodeArgs) error {
	if err := c.call(ctx, "AntCtl.RestartNodeService", &args, &Reply{}); err != nil {
		return fmt.Errorf("failed to restart node service with %s at %s: %w", args.PeerID, c.addr, err)
	}
	logger := log.WithComponent("client")
	logger.Debug().
		Str("peer_id", args.PeerID).
		Str("daemon", c.addr.String()).
		Bool("retain_peer_id", args.RetainPeerID).
		Uint64("delay_millis", args.DelayMillis).
		Msg("Restarted node service")
	return nil
}

// NodeClient talks to the RPC endpoint of a single node
type NodeClient struct {
	endpoint
}

// NewNodeClient creates a client for the node RPC endpoint at addr
func NewNodeClient(addr netip.AddrPort, opts ...Option) *NodeClient {
	return &NodeClient{endpoint: newEndpoint(addr, newOptions(opts))}
}

// UpdateLogLevel changes the node's log levels, e.g. "all" or "libp2p=debug,ant_node=trace"
func (c *NodeClient) UpdateLogLevel(ctx context.Context, levels string) error {
	return c.call(ctx, "Node.UpdateLogLevel", &LogLevelArgs{LogLevels: levels}, &Reply{})
}
