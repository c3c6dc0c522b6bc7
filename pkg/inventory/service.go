package inventory

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/blang/semver/v4"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/testnet-deploy/pkg/ansible"
	"github.com/cuemby/testnet-deploy/pkg/events"
	"github.com/cuemby/testnet-deploy/pkg/funding"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/metrics"
	"github.com/cuemby/testnet-deploy/pkg/provision"
	"github.com/cuemby/testnet-deploy/pkg/storage"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

// DefaultRegistryConcurrency caps the node registry groups fetched at once
const DefaultRegistryConcurrency = 4

// FaucetPort is the port the faucet listens on, on the genesis VM
const FaucetPort = 8000

// ErrBinaryOptionRequired is returned when a new environment is generated without a binary option
var ErrBinaryOptionRequired = errors.New("a binary option is required to generate the inventory of a new environment")

// Service rebuilds a DeploymentInventory from the live ansible inventories
// and the node registries on each VM
type Service struct {
	provisioner  *provision.Provisioner
	store        storage.ObjectStore
	dataDir      string
	templatePath string
	sshKeyPath   string
	events       *events.Broker
	concurrency  int
}

// NewService creates an inventory service. Cached inventories live in dataDir.
func NewService(p *provision.Provisioner, store storage.ObjectStore, dataDir, sshKeyPath string, broker *events.Broker) *Service {
	runner := p.Ansible()
	return &Service{
		provisioner:  p,
		store:        store,
		dataDir:      dataDir,
		templatePath: ansible.BaseInventoryTemplate(runner.InventoryDir(), runner.Provider()),
		sshKeyPath:   sshKeyPath,
		events:       broker,
		concurrency:  DefaultRegistryConcurrency,
	}
}

// DataDir is where cached inventories are written
func (s *Service) DataDir() string {
	return s.dataDir
}

// CleanupInventory removes the generated inventory files and the cached inventory
func (s *Service) CleanupInventory(name string) error {
	runner := s.provisioner.Ansible()
	if err := ansible.CleanupEnvironmentInventory(name, runner.Provider(), runner.InventoryDir()); err != nil {
		return err
	}
	return Remove(s.dataDir, name)
}

type roleInventories struct {
	genesis    []types.VirtualMachine
	peerCache  []types.VirtualMachine
	nodes      []types.VirtualMachine
	private    []types.VirtualMachine
	natGateway []types.VirtualMachine
	uploaders  []types.VirtualMachine
	misc       []types.VirtualMachine
}

// GenerateOrRetrieve returns the cached inventory for name unless force is
// set or there is none, in which case it is regenerated from live state.
// binaryOption is required the first time an environment is generated and
// is otherwise reconstructed from the deployed binaries when nil.
func (s *Service) GenerateOrRetrieve(ctx context.Context, name string, force bool, binaryOption types.BinaryOption) (*DeploymentInventory, error) {
	logger := log.WithComponent("inventory.service").With().Str("environment", name).Logger()

	path := Path(s.dataDir, name)
	if !force {
		if _, err := os.Stat(path); err == nil {
			logger.Debug().Str("path", path).Msg("Using cached inventory")
			return Read(path)
		}
	}

	runner := s.provisioner.Ansible()
	if err := ansible.GenerateEnvironmentInventory(name, runner.Provider(), s.templatePath, runner.InventoryDir()); err != nil {
		return nil, err
	}

	details, err := GetEnvironmentDetails(ctx, s.store, name)
	if errors.Is(err, ErrEnvironmentDetailsNotFound) {
		if binaryOption == nil {
			return nil, ErrBinaryOptionRequired
		}
		logger.Info().Msg("No environment details recorded; returning an empty inventory")
		inv := Empty(name, binaryOption)
		inv.SSHUser = runner.Provider().SSHUser()
		inv.SSHPrivateKeyPath = s.sshKeyPath
		return inv, nil
	}
	if err != nil {
		return nil, err
	}

	roles, err := s.queryRoles(ctx)
	if err != nil {
		return nil, err
	}

	var gateway *types.VirtualMachine
	privateRegistryType := types.InventoryPrivateNodes
	if len(roles.natGateway) > 0 {
		gateway = &roles.natGateway[0]
		if len(roles.private) > 0 {
			if err := s.provisioner.RoutePrivateNodes(ctx, gateway); err != nil {
				return nil, err
			}
			privateRegistryType = types.InventoryPrivateNodesStatic
		}
	}

	fmt.Println("Retrieving node registries. This can take a minute.")
	groups := []struct {
		t   types.InventoryType
		vms []types.VirtualMachine
	}{
		{types.InventoryGenesis, roles.genesis},
		{types.InventoryPeerCacheNodes, roles.peerCache},
		{types.InventoryNodes, roles.nodes},
		{privateRegistryType, roles.private},
	}
	registries := make([]*types.DeploymentNodeRegistries, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, group := range groups {
		if len(group.vms) == 0 {
			registries[i] = &types.DeploymentNodeRegistries{InventoryType: group.t}
			continue
		}
		g.Go(func() error {
			regs, err := s.provisioner.GetNodeRegistries(gctx, group.t)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn().Err(err).Str("inventory", group.t.String()).Msg("Failed to retrieve node registries")
				regs = &types.DeploymentNodeRegistries{InventoryType: group.t}
				for _, vm := range group.vms {
					regs.FailedVMs = append(regs.FailedVMs, vm.Name)
				}
			}
			registries[i] = regs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	inv := &DeploymentInventory{
		Name:               name,
		BinaryOption:       binaryOption,
		EnvironmentDetails: details,
		NatGatewayVM:       gateway,
		PeerCacheNodeVMs:   JoinNodeRegistries(roles.peerCache, registries[1], false),
		NodeVMs:            JoinNodeRegistries(roles.nodes, registries[2], false),
		PrivateNodeVMs:     JoinNodeRegistries(roles.private, registries[3], gateway != nil),
		MiscVMs:            roles.misc,
		SSHUser:            runner.Provider().SSHUser(),
		SSHPrivateKeyPath:  s.sshKeyPath,
	}
	if len(roles.genesis) > 0 {
		genesis := JoinNodeRegistries(roles.genesis[:1], registries[0], false)
		inv.GenesisVM = &genesis[0]
	}
	for _, vm := range roles.uploaders {
		wallets, err := funding.UploaderWallets(ctx, s.provisioner.SSH(), vm)
		if err != nil {
			return nil, fmt.Errorf("failed to recover uploader wallets: %w", err)
		}
		inv.UploaderVMs = append(inv.UploaderVMs, types.UploaderVirtualMachine{VM: vm, WalletPublicKey: wallets})
	}
	for _, regs := range registries {
		inv.FailedNodeRegistryVMs = append(inv.FailedNodeRegistryVMs, regs.FailedVMs...)
	}

	if inv.BinaryOption == nil {
		opt, err := s.reconstructBinaryOption(ctx, inv, registries)
		if err != nil {
			return nil, err
		}
		inv.BinaryOption = opt
	}

	if details.DeploymentType == types.DeploymentTypeNew && inv.GenesisVM != nil {
		addr, err := s.genesisMultiaddr(ctx, inv.GenesisVM)
		if err != nil {
			return nil, err
		}
		inv.GenesisMultiaddr = addr
		inv.FaucetAddress = netip.AddrPortFrom(inv.GenesisVM.VM.PublicIP, FaucetPort).String()
	}

	s.record(inv)
	return inv, nil
}

func (s *Service) queryRoles(ctx context.Context) (*roleInventories, error) {
	runner := s.provisioner.Ansible()
	query := func(t types.InventoryType) ([]types.VirtualMachine, error) {
		vms, err := runner.GetInventory(ctx, t, false)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s inventory: %w", t, err)
		}
		types.SortVirtualMachines(vms)
		return vms, nil
	}

	var roles roleInventories
	var err error
	if roles.genesis, err = query(types.InventoryGenesis); err != nil {
		return nil, err
	}
	if roles.peerCache, err = query(types.InventoryPeerCacheNodes); err != nil {
		return nil, err
	}
	if roles.nodes, err = query(types.InventoryNodes); err != nil {
		return nil, err
	}
	if roles.private, err = query(types.InventoryPrivateNodes); err != nil {
		return nil, err
	}
	if roles.natGateway, err = query(types.InventoryNatGateway); err != nil {
		return nil, err
	}
	if roles.uploaders, err = query(types.InventoryUploaders); err != nil {
		return nil, err
	}
	for _, t := range []types.InventoryType{types.InventoryBuild, types.InventoryAuditor, types.InventoryEvmNodes} {
		vms, err := query(t)
		if err != nil {
			return nil, err
		}
		roles.misc = append(roles.misc, vms...)
	}
	return &roles, nil
}

// JoinNodeRegistries pairs each VM with the registry fetched from it. Public
// VMs are matched by name. Private VMs behind a gateway were reached through
// the static inventory, which lists them by private IP, so they are matched
// on that instead.
func JoinNodeRegistries(vms []types.VirtualMachine, registries *types.DeploymentNodeRegistries, byPrivateIP bool) []types.NodeVirtualMachine {
	out := make([]types.NodeVirtualMachine, 0, len(vms))
	for _, vm := range vms {
		nvm := types.NodeVirtualMachine{VM: vm, RPCEndpoint: map[string]netip.AddrPort{}}
		host := vm.Name
		if byPrivateIP {
			host = vm.PrivateIP.String()
		}
		if registries != nil {
			if registry, ok := registries.Find(host); ok {
				populateFromRegistry(&nvm, registry)
			}
		}
		out = append(out, nvm)
	}
	return out
}

func populateFromRegistry(nvm *types.NodeVirtualMachine, registry *types.NodeRegistry) {
	nvm.NodeCount = len(registry.Nodes)
	for _, node := range registry.Nodes {
		if len(node.ListenAddr) > 0 {
			nvm.NodeListenAddresses = append(nvm.NodeListenAddresses, node.ListenAddr)
		}
		if node.PeerID == "" {
			continue
		}
		endpoint := node.RPCSocketAddr
		if endpoint.Addr().IsLoopback() || endpoint.Addr().IsUnspecified() {
			endpoint = netip.AddrPortFrom(nvm.VM.PublicIP, endpoint.Port())
		}
		nvm.RPCEndpoint[node.PeerID] = endpoint
	}
	if registry.Daemon != nil && registry.Daemon.Endpoint != nil {
		endpoint := *registry.Daemon.Endpoint
		if endpoint.Addr().IsLoopback() || endpoint.Addr().IsUnspecified() {
			endpoint = netip.AddrPortFrom(nvm.VM.PublicIP, endpoint.Port())
		}
		nvm.DaemonEndpoint = &endpoint
	}
}

// listenMultiaddr picks the first public quic-v1 listen address of a registry node
func listenMultiaddr(nvm *types.NodeVirtualMachine) string {
	for _, addrs := range nvm.NodeListenAddresses {
		for _, addr := range addrs {
			if strings.Contains(addr, "127.0.0.1") || !strings.Contains(addr, "quic-v1") {
				continue
			}
			return addr
		}
	}
	return ""
}

func (s *Service) genesisMultiaddr(ctx context.Context, genesis *types.NodeVirtualMachine) (string, error) {
	if addr := listenMultiaddr(genesis); addr != "" {
		return addr, nil
	}
	addr, _, err := s.provisioner.GenesisMultiaddr(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get genesis multiaddr: %w", err)
	}
	return addr, nil
}

// representativeNodeVM is the VM whose binaries stand for the whole deployment
func representativeNodeVM(inv *DeploymentInventory) *types.NodeVirtualMachine {
	if inv.GenesisVM != nil {
		return inv.GenesisVM
	}
	for _, group := range [][]types.NodeVirtualMachine{inv.NodeVMs, inv.PeerCacheNodeVMs} {
		if len(group) > 0 {
			return &group[0]
		}
	}
	return nil
}

func registryNodeVersion(registries []*types.DeploymentNodeRegistries) (*semver.Version, error) {
	for _, regs := range registries {
		for _, r := range regs.Retrieved {
			for _, node := range r.Registry.Nodes {
				if node.Version == "" {
					continue
				}
				v, err := ParseNodeVersion(node.Version)
				if err != nil {
					return nil, err
				}
				return &v, nil
			}
		}
	}
	return nil, nil
}

func (s *Service) reconstructBinaryOption(ctx context.Context, inv *DeploymentInventory, registries []*types.DeploymentNodeRegistries) (types.BinaryOption, error) {
	logger := log.WithComponent("inventory.service")
	executor := s.provisioner.SSH()
	var opt types.Versioned

	nodeVersion, err := registryNodeVersion(registries)
	if err != nil {
		return nil, err
	}
	opt.SafenodeVersion = nodeVersion

	if nvm := representativeNodeVM(inv); nvm != nil {
		lines, err := executor.RunCommand(ctx, nvm.VM.PublicIP, inv.SSHUser, "antctl --version", true)
		if err != nil {
			return nil, fmt.Errorf("failed to get antctl version from %s: %w", nvm.VM.Name, err)
		}
		v, err := ParseAntctlVersion(lines)
		if err != nil {
			return nil, err
		}
		opt.SafenodeManagerVersion = &v
	}

	if len(inv.UploaderVMs) > 0 {
		vm := inv.UploaderVMs[0].VM
		lines, err := executor.RunCommand(ctx, vm.PublicIP, inv.SSHUser, "ant --version", true)
		if err != nil {
			return nil, fmt.Errorf("failed to get ant version from %s: %w", vm.Name, err)
		}
		v, err := ParseAntVersion(lines)
		if err != nil {
			return nil, err
		}
		opt.SafeVersion = &v
	}

	logger.Debug().
		Str("antnode", types.VersionString(opt.SafenodeVersion)).
		Str("antctl", types.VersionString(opt.SafenodeManagerVersion)).
		Str("ant", types.VersionString(opt.SafeVersion)).
		Msg("Reconstructed binary versions")
	return opt, nil
}

func (s *Service) record(inv *DeploymentInventory) {
	if inv.GenesisVM != nil {
		metrics.InventoryVMs.WithLabelValues("genesis").Set(1)
	} else {
		metrics.InventoryVMs.WithLabelValues("genesis").Set(0)
	}
	metrics.InventoryVMs.WithLabelValues("peer_cache").Set(float64(len(inv.PeerCacheNodeVMs)))
	metrics.InventoryVMs.WithLabelValues("generic").Set(float64(len(inv.NodeVMs)))
	metrics.InventoryVMs.WithLabelValues("private").Set(float64(len(inv.PrivateNodeVMs)))
	metrics.InventoryVMs.WithLabelValues("uploader").Set(float64(len(inv.UploaderVMs)))
	metrics.InventoryVMs.WithLabelValues("misc").Set(float64(len(inv.MiscVMs)))

	s.events.Publish(&events.Event{
		Type:        events.EventInventoryGenerated,
		Environment: inv.Name,
		Message:     fmt.Sprintf("inventory generated with %d nodes", inv.NodeCount()),
		Metadata: map[string]string{
			"failed_registries": fmt.Sprintf("%d", len(inv.FailedNodeRegistryVMs)),
		},
	})
}
