package provision

import (
	"errors"
	"net/netip"
	"time"

	"github.com/blang/semver/v4"

	"github.com/cuemby/testnet-deploy/pkg/ansible"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

var (
	// ErrNatGatewayNotSupplied is returned when private nodes are provisioned without a gateway
	ErrNatGatewayNotSupplied = errors.New("a NAT gateway VM is required to provision private nodes")
	// ErrGenesisMultiaddrNotSupplied is returned when non-genesis nodes have no peer to join
	ErrGenesisMultiaddrNotSupplied = errors.New("the genesis multiaddr was not supplied")
	// ErrGenesisListenAddressNotFound is returned when the genesis registry has no usable address
	ErrGenesisListenAddressNotFound = errors.New("could not find a public quic-v1 listen address for the genesis node")
	// ErrNodeAddressNotFound is returned when no existing node can serve as a contact peer
	ErrNodeAddressNotFound = errors.New("could not find a listen address for an existing node")
)

// DefaultInterval is the pause between node service operations on a VM
const DefaultInterval = 200 * time.Millisecond

// LogstashDetails points node log shipping at a logstash stack
type LogstashDetails struct {
	StackName string
	Hosts     []netip.AddrPort
}

// EvmSettings are the payment network values passed to nodes and uploaders
type EvmSettings struct {
	Network             types.EvmNetwork
	DataPaymentsAddress string
	PaymentTokenAddress string
	RPCURL              string
}

// ProvisionOptions is everything the per-phase extra-vars documents are built from
type ProvisionOptions struct {
	Name         string
	Provider     types.CloudProvider
	BinaryOption types.BinaryOption

	// Node services per VM, by role
	BootstrapNodeCount int
	PeerCacheNodeCount int
	NodeCount          int
	PrivateNodeCount   int

	Interval            time.Duration
	EnvVariables        []ansible.EnvVar
	LogFormat           types.LogFormat
	Logstash            *LogstashDetails
	MaxArchivedLogFiles int
	MaxLogFiles         int
	PublicRPC           bool
	RewardsAddress      string
	Evm                 EvmSettings

	// NatGateway is set once the gateway has been provisioned
	NatGateway *types.VirtualMachine
	// KnownVMs were provisioned by an earlier run; SSH is only polled on VMs not listed here
	KnownVMs []types.VirtualMachine

	// Uploader settings
	SafeVersion      string
	UploadersCount   int
	DownloadersCount int
	// UploaderSecretKeys maps uploader VM names to one hex key per uploader service
	UploaderSecretKeys map[string][]string
	ChunkSize          uint64
}

// nodeCount is the number of node services per VM for nodeType
func (o ProvisionOptions) nodeCount(nodeType types.NodeType) int {
	switch nodeType {
	case types.NodeTypeGenesis:
		return 1
	case types.NodeTypeBootstrap:
		return o.BootstrapNodeCount
	case types.NodeTypePeerCache:
		return o.PeerCacheNodeCount
	case types.NodeTypeGeneric:
		return o.NodeCount
	case types.NodeTypePrivate:
		return o.PrivateNodeCount
	default:
		return 0
	}
}

func (o ProvisionOptions) interval() time.Duration {
	if o.Interval <= 0 {
		return DefaultInterval
	}
	return o.Interval
}

// Target selects the VMs a lifecycle playbook runs against. The zero value
// means every node group.
type Target struct {
	// NodeType restricts the operation to one role
	NodeType *types.NodeType
	// CustomVMs restricts the operation to these VMs, via a generated custom inventory
	CustomVMs []types.VirtualMachine
}

// LifecycleOptions drive the start_nodes and stop_nodes playbooks
type LifecycleOptions struct {
	Target
	Interval time.Duration
	// Delay is passed to stop_nodes as the pause before stopping each service
	Delay        time.Duration
	ServiceNames []string
}

// UpgradeOptions drive the upgrade_nodes playbook
type UpgradeOptions struct {
	Target
	Version         *semver.Version
	Force           bool
	Interval        time.Duration
	PreUpgradeDelay time.Duration
	EnvVariables    []ansible.EnvVar
}

// UploaderOptions drive the start/stop uploaders playbooks
type UploaderOptions struct {
	UploadersCount int
	SkipErr        bool
}
